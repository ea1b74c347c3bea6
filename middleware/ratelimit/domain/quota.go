package domain

import (
	"context"
	"time"
)

// CounterStore guarda os contadores diários "<credencial>:<AAAA-MM-DD>".
//
// Contador ausente vale 0. Incr soma 1, renova o TTL e devolve o valor novo;
// a implementação nunca decrementa nem perde um incremento já confirmado.
type CounterStore interface {
	Get(ctx context.Context, key string) (int64, error)
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Decision é o resultado de Admit.
//
// Para chaves admin Unlimited=true e Limit/Remaining não têm significado.
// Count é o valor observado antes do incremento.
type Decision struct {
	Allowed   bool
	Unlimited bool
	Limit     int64
	Count     int64
	Remaining int64
	ResetAt   time.Time
}
