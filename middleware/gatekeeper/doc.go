// Package gatekeeper decide se um request de /map chega ao handler.
//
// Ordem das verificações: bypass explícito (se habilitado no servidor),
// credencial ausente, credencial desconhecida, chave suspensa, cota diária.
// Chave suspensa nunca consome cota.
//
// O modo manutenção fica em MaintenanceMiddleware, que roda antes de tudo e
// vale para todas as rotas não isentas.
package gatekeeper
