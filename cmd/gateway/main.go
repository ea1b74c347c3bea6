package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"romap-gateway/config"
	"romap-gateway/keystore"
	keyinfra "romap-gateway/keystore/infra"
	"romap-gateway/logging"
	"romap-gateway/mapcache"
	"romap-gateway/mapsvc"
	"romap-gateway/metrics"
	"romap-gateway/middleware/gatekeeper"
	"romap-gateway/middleware/ratelimit/application"
	"romap-gateway/middleware/ratelimit/domain"
	"romap-gateway/middleware/ratelimit/infra"
	"romap-gateway/requestlog"
	"romap-gateway/server"
	"romap-gateway/supervisor"
)

func main() {
	configPath := flag.String("config", "", "arquivo YAML de configuração (padrão: $ROMAP_CONFIG)")
	dotenv := flag.String("env-file", ".env", "arquivo .env opcional")
	flag.Parse()

	cfg, err := config.Load(*configPath, *dotenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Service: "romap-gateway"})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("gateway stopped with error")
	}
	logger.Info().Msg("gateway stopped")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancelPing := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancelPing()
		if err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
	}

	table, closeTable, err := keyinfra.OpenTable(cfg.Keys.Backend, cfg.Keys.Path, cfg.Keys.BadgerDir)
	if err != nil {
		return fmt.Errorf("open key table: %w", err)
	}
	defer func() { _ = closeTable() }()
	keys := keystore.Open(ctx, table, logger)

	m := metrics.New()

	var counters domain.CounterStore = infra.NewMemoryCounterStore(10 * time.Minute)
	if cfg.Quota.Backend == "redis" {
		counters = infra.NewRedisCounterStore(rdb)
	}
	limiter := application.NewService(counters, cfg.Quota.DailyLimit)

	admissions := infra.NewMemoryStatsStore()
	stats := infra.MultiStats{admissions, m}
	if cfg.Redis.Stats {
		stats = append(stats, infra.NewRedisStatsStore(rdb))
	}

	gate := &gatekeeper.Gatekeeper{
		Keys:           keys,
		Limiter:        limiter,
		Stats:          stats,
		AllowBypass:    cfg.Gate.AllowBypass,
		SupportContact: cfg.Gate.SupportContact,
	}
	if gate.AllowBypass {
		logger.Warn().Msg("direct=true bypass is enabled, /map can be called without a key")
	}

	var slots *infra.ChanPool
	if cfg.Concurrency.Max > 0 {
		slots = infra.NewChanPool(cfg.Concurrency.Max)
	}

	renderer, err := newRenderer(cfg, rdb, m, slots, logger)
	if err != nil {
		return err
	}

	recorder := requestlog.Open(logger,
		requestlog.WithFile(cfg.RequestLog.Path),
		requestlog.WithCapacity(cfg.RequestLog.Capacity),
		requestlog.WithFlushInterval(cfg.RequestLog.FlushInterval),
	)

	var burst *infra.Store
	if cfg.Burst.Enabled {
		burst = infra.NewStore(cfg.Burst.RPS, cfg.Burst.Burst,
			infra.WithIdleTTL(cfg.Burst.IdleTTL),
			infra.WithCleanupEvery(cfg.Burst.CleanupEvery),
		)
	}

	registerGauges(m, keys, limiter, slots, burst)

	opts := server.Options{
		Logger:      logger,
		Keys:        keys,
		Maintenance: limiter,
		Gate:        gate,
		Renderer:    renderer,
		RequestLog:  recorder,
		Admissions:  admissions,
		Metrics:     m,
		Admin: server.AdminAuth{
			Username:       cfg.Admin.Username,
			Password:       cfg.Admin.Password,
			PasswordHash:   cfg.Admin.PasswordHash,
			SessionTTL:     cfg.Admin.SessionTTL,
			LoginPerMinute: cfg.Admin.LoginPerMinute,
			SecureCookie:   cfg.Admin.SecureCookie,
		},
		SupportContact:  cfg.Gate.SupportContact,
		TrustProxy:      cfg.Server.TrustProxy,
		CORSOrigins:     cfg.Server.CORSOrigins,
		BurstRetryAfter: cfg.Burst.RetryAfter,
	}
	// interfaces só recebem valor quando o componente existe; um ponteiro nil
	// dentro da interface não seria nil.
	if burst != nil {
		opts.BurstStore = burst
	}

	srv, err := server.New(opts)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	sup := supervisor.New("romap-gateway", logger, supervisor.Config{ShutdownTimeout: cfg.Server.ShutdownTimeout + 5*time.Second})
	sup.Add(server.NewHTTPService(httpSrv, cfg.Server.ShutdownTimeout))
	sup.Add(recorder)
	sup.Add(keystore.NewRefresher(keys, cfg.Keys.RefreshEvery))
	if burst != nil {
		sup.Add(burst)
	}

	logger.Info().
		Str("addr", httpSrv.Addr).
		Int64("daily_limit", cfg.Quota.DailyLimit).
		Str("quota_backend", cfg.Quota.Backend).
		Str("cache_backend", cfg.Cache.Backend).
		Str("keys_backend", cfg.Keys.Backend).
		Bool("burst", cfg.Burst.Enabled).
		Int("max_concurrent_renders", cfg.Concurrency.Max).
		Bool("admin_enabled", cfg.Admin.Enabled()).
		Msg("gateway listening")

	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newRenderer(cfg *config.Config, rdb *redis.Client, m *metrics.Metrics, slots *infra.ChanPool, logger zerolog.Logger) (*mapsvc.Renderer, error) {
	if cfg.Upstream.APIKey == "" {
		logger.Warn().Msg("LOCATIONIQ_API_KEY is not set, upstream requests will be rejected")
	}
	provider := mapsvc.NewLocationIQ(mapsvc.LocationIQOptions{
		BaseURL:         cfg.Upstream.BaseURL,
		APIKey:          cfg.Upstream.APIKey,
		Timeout:         cfg.Upstream.Timeout,
		BreakerFailures: cfg.Upstream.BreakerFailures,
		BreakerCooldown: cfg.Upstream.BreakerCooldown,
		Observer:        m,
	})

	compositor, fromFile, err := mapsvc.LoadCompositor(cfg.Watermark.Path, cfg.Watermark.Text)
	if err != nil {
		return nil, fmt.Errorf("load watermark: %w", err)
	}
	if !fromFile {
		logger.Warn().Str("path", cfg.Watermark.Path).Msg("watermark file not found, using generated banner")
	}

	var cache mapcache.Cache
	switch cfg.Cache.Backend {
	case "redis":
		cache = mapcache.NewRedis(rdb, cfg.Cache.TTL, "romap:map")
	case "none":
		cache = mapcache.Nop{}
	default:
		mem := mapcache.NewMemory(cfg.Cache.TTL, 10*time.Minute, mapcache.WithMaxEntries(cfg.Cache.MaxEntries))
		m.GaugeFunc("map_cache_entries", "Imagens no cache em memória.", func() float64 { return float64(mem.Len()) })
		cache = mem
	}

	var opts []mapsvc.RendererOption
	if slots != nil {
		opts = append(opts, mapsvc.WithSlots(slots, cfg.Concurrency.AcquireTimeout))
	}
	return mapsvc.NewRenderer(provider, compositor, cache, m, opts...), nil
}

func registerGauges(m *metrics.Metrics, keys *keystore.Store, limiter *application.Service, slots *infra.ChanPool, burst *infra.Store) {
	m.GaugeFunc("api_keys", "Chaves de API cadastradas.", func() float64 { return float64(len(keys.List())) })
	m.GaugeFunc("maintenance_mode", "1 quando o modo de manutenção está ligado.", func() float64 {
		if limiter.Maintenance() {
			return 1
		}
		return 0
	})
	if slots != nil {
		m.GaugeFunc("render_slots_in_use", "Vagas de renderização ocupadas.", func() float64 { return float64(slots.InUse()) })
		m.GaugeFunc("render_slots_capacity", "Total de vagas de renderização.", func() float64 { return float64(slots.Cap()) })
	}
	if burst != nil {
		m.GaugeFunc("burst_tracked_clients", "Clientes com token bucket ativo.", func() float64 { return float64(burst.Len()) })
	}
}
