package application

import (
	"context"
	"errors"
	"time"

	"romap-gateway/middleware/ratelimit/domain"
)

// ErrNoSlot indica que todas as vagas de renderização continuaram ocupadas
// até o fim do AcquireTimeout.
var ErrNoSlot = errors.New("no render slot available")

// ConcurrencyService limita quantas buscas chegam ao provedor ao mesmo
// tempo, sem saber nada sobre HTTP.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire tenta adquirir uma vaga.
//   - AcquireTimeout <= 0: espera até o ctx do request encerrar.
//   - AcquireTimeout > 0: espera no máximo o timeout.
//
// Se o próprio ctx foi cancelado (cliente desistiu) o erro é ctx.Err();
// se a espera esgotou com o cliente ainda presente, ErrNoSlot.
func (s ConcurrencyService) Acquire(ctx context.Context) (func(), error) {
	if s.Pool == nil {
		return func() {}, nil
	}

	acqCtx := ctx
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}

	release, ok := s.Pool.Acquire(acqCtx)
	if ok {
		return release, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNoSlot
}
