// Package server monta o roteador HTTP do gateway (chi) e os handlers.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"romap-gateway/apierr"
	"romap-gateway/keystore"
	"romap-gateway/logging"
	"romap-gateway/mapcache"
	"romap-gateway/metrics"
	"romap-gateway/middleware/gatekeeper"
	"romap-gateway/middleware/ratelimit"
	"romap-gateway/middleware/ratelimit/domain"
	"romap-gateway/middleware/ratelimit/infra"
	"romap-gateway/requestlog"
	"romap-gateway/response"
)

// Endpoints listados na resposta 404.
var availableEndpoints = []string{"/", "/map", "/health"}

type MapRenderer interface {
	Render(ctx context.Context, p mapcache.Params) ([]byte, bool, error)
}

// KeyManager é o que o painel de admin usa do keystore.
type KeyManager interface {
	Issue(ctx context.Context, name string, isAdmin bool) (string, error)
	Suspend(ctx context.Context, id string) (bool, error)
	Activate(ctx context.Context, id string) (bool, error)
	Revoke(ctx context.Context, id string) error
	List() []keystore.KeyInfo
}

type MaintenanceSwitch interface {
	SetMaintenance(enabled bool) bool
	Maintenance() bool
}

type Options struct {
	Logger zerolog.Logger

	Keys        KeyManager
	Maintenance MaintenanceSwitch
	Gate        *gatekeeper.Gatekeeper
	Renderer    MapRenderer
	RequestLog  *requestlog.Recorder
	Admissions  *infra.MemoryStatsStore
	Metrics     *metrics.Metrics

	// BurstStore nil desliga o burst guard.
	BurstStore      domain.LimiterStore
	BurstRetryAfter time.Duration

	Admin          AdminAuth
	SupportContact string
	TrustProxy     bool
	CORSOrigins    []string

	Now func() time.Time
}

type Server struct {
	opts     Options
	verifier *Verifier
	sessions *sessions
	started  time.Time
	now      func() time.Time
}

// New falha só se a senha de admin não puder ser transformada em hash.
func New(opts Options) (*Server, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	verifier, err := NewVerifier(opts.Admin)
	if err != nil {
		return nil, fmt.Errorf("admin credentials: %w", err)
	}
	if verifier == nil {
		opts.Logger.Warn().Msg("admin credentials not configured, admin login disabled")
	}
	return &Server{
		opts:     opts,
		verifier: verifier,
		sessions: newSessions(opts.Admin.SessionTTL),
		started:  now(),
		now:      now,
	}, nil
}

// Handler monta o roteador completo.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(logging.RequestID)
	if s.opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(logging.Middleware(s.opts.Logger))
	if s.opts.Metrics != nil {
		r.Use(s.opts.Metrics.Middleware)
	}
	if s.opts.RequestLog != nil {
		r.Use(s.opts.RequestLog.Middleware)
	}
	r.Use(recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", gatekeeper.HeaderAPIKey, logging.HeaderRequestID},
		ExposedHeaders:   []string{ratelimit.HeaderLimit, ratelimit.HeaderRemaining, ratelimit.HeaderReset, requestlog.HeaderCache, "Retry-After", logging.HeaderRequestID},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(gatekeeper.MaintenanceMiddleware(s.opts.Maintenance, s.opts.SupportContact))

	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleNotFound)

	r.Get("/", s.handleHome)
	r.Get("/health", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		if s.opts.BurstStore != nil {
			r.Use(ratelimit.BurstMiddleware(ratelimit.BurstOptions{
				Store:      s.opts.BurstStore,
				Stats:      s.burstStats(),
				RetryAfter: s.opts.BurstRetryAfter,
			}))
		}
		r.Use(s.opts.Gate.Middleware)
		r.Get("/map", s.handleMap)
	})

	r.Route("/admin", func(r chi.Router) {
		limit := s.opts.Admin.LoginPerMinute
		if limit <= 0 {
			limit = 10
		}
		r.With(httprate.LimitByIP(limit, time.Minute)).Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/generate-key", s.handleGenerateKey)
			r.Get("/keys", s.handleListKeys)
			r.Put("/suspend-key/{id}", s.handleSuspendKey)
			r.Put("/activate-key/{id}", s.handleActivateKey)
			r.Delete("/revoke-key/{id}", s.handleRevokeKey)
			r.Get("/maintenance", s.handleGetMaintenance)
			r.Post("/maintenance", s.handleSetMaintenance)
			r.Get("/monitor-data", s.handleMonitorData)
		})
	})

	return r
}

// burstStats usa o mesmo destino de estatísticas do gatekeeper.
func (s *Server) burstStats() domain.StatsStore {
	if s.opts.Gate == nil {
		return nil
	}
	return s.opts.Gate.Stats
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	response.WriteError(w, r, apierr.NotFound(r.URL.Path, availableEndpoints))
}
