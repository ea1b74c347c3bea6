package mapsvc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"romap-gateway/apierr"
	"romap-gateway/mapcache"
)

const (
	DefaultBaseURL = "https://maps.locationiq.com/v3/staticmap"
	DefaultTimeout = 10 * time.Second

	// maxImageBytes limita o corpo lido do provedor.
	maxImageBytes = 20 << 20
)

// Provider busca o mapa base (bytes de imagem) para os parâmetros.
type Provider interface {
	Fetch(ctx context.Context, p mapcache.Params) ([]byte, error)
}

// Observer recebe o resultado de cada chamada ao provedor e de cada consulta
// ao cache. metrics.Metrics implementa.
type Observer interface {
	CacheLookup(hit bool)
	Upstream(outcome string, took time.Duration)
}

type nopObserver struct{}

func (nopObserver) CacheLookup(bool)               {}
func (nopObserver) Upstream(string, time.Duration) {}

// LocationIQ é o cliente do static map da LocationIQ, protegido por um
// circuit breaker: falhas de conexão e 5xx seguidos abrem o circuito e as
// chamadas seguintes falham na hora até o período de espera acabar.
type LocationIQ struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[[]byte]
	observer Observer
}

type LocationIQOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// BreakerFailures é quantas falhas seguidas abrem o circuito (0 = 5).
	BreakerFailures uint32
	// BreakerCooldown é quanto o circuito fica aberto (0 = 30s).
	BreakerCooldown time.Duration
	Client          *http.Client
	Observer        Observer
}

func NewLocationIQ(opts LocationIQOptions) *LocationIQ {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	failures := opts.BreakerFailures
	settings := gobreaker.Settings{
		Name:    "locationiq",
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		// 4xx é problema do request, não do provedor.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			e, ok := apierr.As(err)
			return ok && e.Kind == apierr.KindUpstream && e.Status < http.StatusInternalServerError
		},
	}

	return &LocationIQ{
		baseURL:  opts.BaseURL,
		apiKey:   opts.APIKey,
		client:   opts.Client,
		breaker:  gobreaker.NewCircuitBreaker[[]byte](settings),
		observer: opts.Observer,
	}
}

// URL monta a URL do static map.
func (l *LocationIQ) URL(p mapcache.Params) string {
	q := url.Values{}
	q.Set("key", l.apiKey)
	q.Set("center", strconv.FormatFloat(p.Lat, 'f', -1, 64)+","+strconv.FormatFloat(p.Lon, 'f', -1, 64))
	q.Set("zoom", strconv.Itoa(p.Zoom))
	q.Set("size", strconv.Itoa(p.Width)+"x"+strconv.Itoa(p.Height))
	if p.MapType != "" {
		q.Set("maptype", p.MapType)
	}
	return l.baseURL + "?" + q.Encode()
}

func (l *LocationIQ) Fetch(ctx context.Context, p mapcache.Params) ([]byte, error) {
	img, err := l.breaker.Execute(func() ([]byte, error) {
		return l.fetch(ctx, p)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		l.observer.Upstream("breaker_open", 0)
		return nil, apierr.UpstreamUnreachable("Map service temporarily unavailable", err)
	}
	return img, err
}

func (l *LocationIQ) fetch(ctx context.Context, p mapcache.Params) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL(p), nil)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	start := time.Now()
	resp, err := l.client.Do(req)
	if err != nil {
		l.observer.Upstream("unreachable", time.Since(start))
		if isTimeout(err) {
			return nil, apierr.UpstreamUnreachable("Map service request timed out", err)
		}
		return nil, apierr.UpstreamUnreachable("No response received from external map service", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		l.observer.Upstream("http_error", time.Since(start))
		return nil, apierr.Upstream(resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		l.observer.Upstream("unreachable", time.Since(start))
		return nil, apierr.UpstreamUnreachable("Incomplete response from external map service", err)
	}
	l.observer.Upstream("ok", time.Since(start))
	return body, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
