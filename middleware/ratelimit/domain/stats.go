package domain

import (
	"context"
	"time"
)

// StatsEvent representa uma decisão de admissão.
//
// Reason é curto e de cardinalidade baixa ("ok", "bypass", "missing_credential",
// "invalid_credential", "suspended", "quota_exceeded").
//
// Observação: cuidado com cardinalidade (ex.: salvar Key/Path sem controle pode
// explodir o número de séries/chaves em uma base como Redis/Prometheus).
//
// Key é sempre o ID de uma chave de API (vazio quando não há chave
// resolvida). Client guarda o identificador de rede (IP) quando a decisão é
// por cliente, como no burst guard.
type StatsEvent struct {
	Key     Key
	Client  string
	Allowed bool
	Reason  string

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas de admissão.
//
// Implementações podem armazenar em Redis, memória, etc.
// O gatekeeper trata erro como best-effort (não derruba request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
