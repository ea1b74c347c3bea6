// Package requestlog guarda os últimos requests atendidos para o painel de
// monitoramento e calcula as taxas de sucesso e de cache sobre eles.
//
// A janela fica em memória e é gravada em disco (JSON, substituição atômica)
// periodicamente e no encerramento. Falha de disco só é logada.
package requestlog

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"romap-gateway/jsonfile"
)

// DefaultCapacity é o tamanho da janela de requests.
const DefaultCapacity = 100

type Entry struct {
	Timestamp    time.Time `json:"timestamp"`
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	Status       int       `json:"status"`
	IP           string    `json:"ip"`
	ResponseTime int64     `json:"responseTime"`
	Cache        string    `json:"cache,omitempty"`
}

type Stats struct {
	TotalRequests int `json:"totalRequests"`
	SuccessRate   int `json:"successRate"`
	CacheRate     int `json:"cacheRate"`
}

type document struct {
	Requests []Entry `json:"requests"`
}

type Recorder struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	dirty    bool

	path          string
	flushInterval time.Duration
	logger        zerolog.Logger
}

type Option func(*Recorder)

func WithCapacity(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithFile liga a persistência em path.
func WithFile(path string) Option {
	return func(r *Recorder) { r.path = path }
}

func WithFlushInterval(d time.Duration) Option {
	return func(r *Recorder) { r.flushInterval = d }
}

// Open cria o Recorder e, se houver arquivo, carrega a janela gravada.
func Open(logger zerolog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		capacity:      DefaultCapacity,
		flushInterval: 5 * time.Second,
		logger:        logger.With().Str("component", "requestlog").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.path != "" {
		var doc document
		if _, err := jsonfile.Read(r.path, &doc); err != nil {
			r.logger.Error().Err(err).Msg("failed to load request log, starting empty")
		} else {
			r.entries = doc.Requests
		}
		r.trim()
	}
	return r
}

func (r *Recorder) trim() {
	if over := len(r.entries) - r.capacity; over > 0 {
		r.entries = append([]Entry(nil), r.entries[over:]...)
	}
}

// Add registra um request; o mais antigo sai quando a janela enche.
func (r *Recorder) Add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	r.trim()
	r.dirty = true
}

// Entries devolve uma cópia da janela, do mais antigo ao mais recente.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Stats calcula sobre a janela atual. successRate: status < 400.
// cacheRate: HIT entre os que têm HIT/MISS. Percentuais arredondados.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ok, hits, withCache int
	for _, e := range r.entries {
		if e.Status < 400 {
			ok++
		}
		switch e.Cache {
		case "HIT":
			hits++
			withCache++
		case "MISS":
			withCache++
		}
	}
	return Stats{
		TotalRequests: len(r.entries),
		SuccessRate:   percent(ok, len(r.entries)),
		CacheRate:     percent(hits, withCache),
	}
}

func percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) * 100 / float64(total)))
}

// Flush grava a janela se ela mudou desde a última gravação.
func (r *Recorder) Flush() error {
	if r.path == "" {
		return nil
	}

	r.mu.Lock()
	if !r.dirty {
		r.mu.Unlock()
		return nil
	}
	doc := document{Requests: make([]Entry, len(r.entries))}
	copy(doc.Requests, r.entries)
	r.dirty = false
	r.mu.Unlock()

	if err := jsonfile.WriteAtomic(r.path, doc); err != nil {
		r.mu.Lock()
		r.dirty = true
		r.mu.Unlock()
		return err
	}
	return nil
}

// Serve grava a cada flushInterval e uma última vez ao encerrar.
// Tem a assinatura de suture.Service.
func (r *Recorder) Serve(ctx context.Context) error {
	interval := r.flushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := r.Flush(); err != nil {
				r.logger.Error().Err(err).Msg("final request log flush failed")
			}
			return ctx.Err()
		case <-t.C:
			if err := r.Flush(); err != nil {
				r.logger.Error().Err(err).Msg("request log flush failed")
			}
		}
	}
}

func (r *Recorder) String() string { return "requestlog-flusher" }
