package keystore

import (
	"context"
	"time"
)

// Refresher relê a tabela periodicamente para que mudanças feitas fora do
// processo (keyctl) cheguem ao gate sem reiniciar. Roda como serviço suture.
type Refresher struct {
	store *Store
	every time.Duration
}

func NewRefresher(store *Store, every time.Duration) *Refresher {
	return &Refresher{store: store, every: every}
}

// Serve com every <= 0 só espera o ctx encerrar.
func (r *Refresher) Serve(ctx context.Context) error {
	if r.every <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	t := time.NewTicker(r.every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := r.store.Refresh(ctx); err != nil {
				r.store.logger.Warn().Err(err).Msg("api key refresh failed, keeping current set")
			}
		}
	}
}

func (r *Refresher) String() string { return "keystore-refresh" }
