package mapsvc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"romap-gateway/apierr"
	"romap-gateway/mapcache"
	"romap-gateway/middleware/ratelimit/application"
	"romap-gateway/middleware/ratelimit/domain"
)

// defaultSlotWait limita a espera por vaga quando WithSlots recebe timeout <= 0;
// a busca compartilhada não tem ctx cancelável para encerrar a espera.
const defaultSlotWait = 2 * time.Second

// Renderer junta cache, provedor e marca d'água.
type Renderer struct {
	provider   Provider
	compositor *Compositor
	cache      mapcache.Cache
	observer   Observer
	slots      application.ConcurrencyService
	group      singleflight.Group
}

type RendererOption func(*Renderer)

// WithSlots limita quantas buscas ao provedor correm ao mesmo tempo. A vaga
// só é tomada num cache miss e fica presa até a composição terminar, mesmo
// que o cliente desista.
func WithSlots(pool domain.SlotPool, wait time.Duration) RendererOption {
	return func(r *Renderer) {
		if wait <= 0 {
			wait = defaultSlotWait
		}
		r.slots = application.ConcurrencyService{Pool: pool, AcquireTimeout: wait}
	}
}

func NewRenderer(provider Provider, compositor *Compositor, cache mapcache.Cache, observer Observer, opts ...RendererOption) *Renderer {
	if cache == nil {
		cache = mapcache.Nop{}
	}
	if observer == nil {
		observer = nopObserver{}
	}
	r := &Renderer{provider: provider, compositor: compositor, cache: cache, observer: observer}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render devolve o PNG e se ele veio do cache. Erros do provedor chegam como
// *apierr.Error (Upstream / UpstreamUnreachable); falta de vaga vira
// apierr.Overloaded.
func (r *Renderer) Render(ctx context.Context, p mapcache.Params) (img []byte, hit bool, err error) {
	fp := mapcache.Fingerprint(p)

	if img, ok := r.cache.Get(ctx, fp); ok {
		r.observer.CacheLookup(true)
		return img, true, nil
	}
	r.observer.CacheLookup(false)

	// a busca compartilhada não morre se o primeiro cliente desistir;
	// o timeout do provedor continua valendo.
	shared := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do(fp, func() (any, error) {
		release, err := r.slots.Acquire(shared)
		if err != nil {
			if errors.Is(err, application.ErrNoSlot) {
				return nil, apierr.Wrap(apierr.Overloaded(), err)
			}
			return nil, err
		}
		defer release()

		base, err := r.provider.Fetch(shared, p)
		if err != nil {
			return nil, err
		}
		out, err := r.compositor.Compose(base, p.Width, p.Height)
		if err != nil {
			if errors.Is(err, ErrImageTooLarge) {
				return nil, apierr.UpstreamUnreachable("Map service returned an oversized image", err)
			}
			return nil, fmt.Errorf("compose map: %w", err)
		}
		r.cache.Put(shared, fp, out)
		zerolog.Ctx(ctx).Debug().Str("fingerprint", fp[:12]).Int("bytes", len(out)).Msg("map rendered")
		return out, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), false, nil
}
