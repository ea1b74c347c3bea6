package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"romap-gateway/apierr"
	"romap-gateway/middleware/ratelimit/application"
	"romap-gateway/middleware/ratelimit/domain"
	"romap-gateway/response"
)

type KeyFunc func(r *http.Request) string

type BurstOptions struct {
	Store               domain.LimiterStore
	Stats               domain.StatsStore
	KeyFn               KeyFunc
	KeyHeader           string
	TrustXForwardedFor  bool
	RetryAfter          time.Duration
	AddRateLimitHeaders bool
	Now                 func() time.Time
}

type rateInfo interface {
	RPS() float64
	Burst() int
}

// DefaultKeyFunc identifica o cliente: header configurado, depois o primeiro
// IP do X-Forwarded-For (se confiável), depois o host de RemoteAddr.
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// BurstMiddleware corta rajadas por cliente antes de qualquer verificação de
// credencial. Bloqueio: 429 JSON com Retry-After em segundos.
func BurstMiddleware(opts BurstOptions) func(next http.Handler) http.Handler {
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = 1 * time.Second
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	throttle := application.Throttle{
		Store:      opts.Store,
		RetryAfter: opts.RetryAfter,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)

			if opts.AddRateLimitHeaders {
				if ri, ok := opts.Store.(rateInfo); ok {
					w.Header().Set("X-Burst-RPS", formatFloat(ri.RPS()))
					w.Header().Set("X-Burst-Limit", formatInt(ri.Burst()))
				}
			}

			dec := throttle.Decide(domain.Key(key))
			if dec.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			if opts.Stats != nil {
				ev := domain.StatsEvent{
					Client:  key,
					Allowed: false,
					Reason:  "burst",
					Method:  r.Method,
					Path:    r.URL.Path,
					At:      opts.Now(),
				}
				if err := opts.Stats.Record(r.Context(), ev); err != nil {
					zerolog.Ctx(r.Context()).Warn().Err(err).Msg("burst stats not recorded")
				}
			}

			secs := retryAfterSeconds(dec.RetryAfter)
			w.Header().Set("Retry-After", formatInt(secs))
			response.WriteError(w, r, apierr.Throttled(secs))
		})
	}
}

// retryAfterSeconds trunca para segundos inteiros, com mínimo de 1.
func retryAfterSeconds(d time.Duration) int {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}
