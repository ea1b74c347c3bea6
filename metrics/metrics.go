// Package metrics reúne os coletores Prometheus do gateway.
//
// Cada Metrics tem seu próprio registry; o /metrics expõe só o que foi
// registrado nele (mais os coletores de processo e de runtime Go).
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"romap-gateway/middleware/ratelimit/domain"
)

const namespace = "romap"

type Metrics struct {
	reg *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	admissions      *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	upstreamCalls   *prometheus.CounterVec
	upstreamLatency prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		reg: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total de requests HTTP por rota e status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duração dos requests HTTP.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Decisões de admissão de /map por motivo.",
		}, []string{"reason", "allowed"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "map_cache_lookups_total",
			Help:      "Consultas ao cache de imagens (hit/miss).",
		}, []string{"result"}),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Chamadas ao provedor de mapas por resultado.",
		}, []string{"outcome"}),
		upstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Latência das chamadas ao provedor de mapas.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
	}
	reg.MustRegister(m.httpRequests, m.httpDuration, m.admissions, m.cacheLookups, m.upstreamCalls, m.upstreamLatency)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// GaugeFunc registra um gauge lido sob demanda (vagas ocupadas, chaves...).
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Middleware mede cada request pelo padrão de rota do chi; sem rota casada o
// rótulo é "unmatched" para não explodir a cardinalidade.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Record implementa domain.StatsStore: cada decisão vira um incremento.
func (m *Metrics) Record(_ context.Context, ev domain.StatsEvent) error {
	m.admissions.WithLabelValues(ev.Reason, strconv.FormatBool(ev.Allowed)).Inc()
	return nil
}

func (m *Metrics) CacheLookup(hit bool) {
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// Upstream registra uma chamada ao provedor ("ok", "http_error",
// "unreachable", "breaker_open").
func (m *Metrics) Upstream(outcome string, took time.Duration) {
	m.upstreamCalls.WithLabelValues(outcome).Inc()
	if took > 0 {
		m.upstreamLatency.Observe(took.Seconds())
	}
}
