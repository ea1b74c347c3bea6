// Package application contém os casos de uso (regras de aplicação) para cota
// diária, burst guard e limite de concorrência.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Admit(ctx, credencial, admin) retorna uma Decision
// (allow/deny + limit/remaining/reset); Throttle.Decide(key) retorna uma
// BurstDecision (allow/deny + retry-after).
package application
