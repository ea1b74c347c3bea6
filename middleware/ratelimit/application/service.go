package application

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"romap-gateway/middleware/ratelimit/domain"
)

const (
	// DefaultDailyLimit é a cota diária de uma chave comum.
	DefaultDailyLimit int64 = 1000
	// DefaultCounterTTL cobre o dia inteiro; o contador some sozinho depois.
	DefaultCounterTTL = 24 * time.Hour
)

// Service aplica a cota diária por credencial e guarda a flag de manutenção.
//
// O dia é sempre o dia UTC; o contador do dia seguinte começa do zero.
type Service struct {
	Counters   domain.CounterStore
	DailyLimit int64
	CounterTTL time.Duration
	Now        func() time.Time

	maintenance atomic.Bool
}

func NewService(counters domain.CounterStore, dailyLimit int64) *Service {
	return &Service{Counters: counters, DailyLimit: dailyLimit}
}

func (s *Service) limit() int64 {
	if s.DailyLimit <= 0 {
		return DefaultDailyLimit
	}
	return s.DailyLimit
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// CounterKey monta a chave "<credencial>:<AAAA-MM-DD>".
func CounterKey(credential string, day time.Time) string {
	return credential + ":" + day.UTC().Format(time.DateOnly)
}

// EndOfDay devolve 23:59:59 UTC do dia de t.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}

// Admit decide se a credencial ainda tem cota hoje e, se tiver, consome 1.
//
// Falha ao ler o contador conta como 0; falha ao incrementar ainda admite.
// Ambas são logadas.
func (s *Service) Admit(ctx context.Context, credential string, isAdmin bool) domain.Decision {
	now := s.now()
	reset := EndOfDay(now)

	if isAdmin {
		return domain.Decision{Allowed: true, Unlimited: true, ResetAt: reset}
	}

	limit := s.limit()
	if s.Counters == nil {
		return domain.Decision{Allowed: true, Limit: limit, Remaining: limit - 1, ResetAt: reset}
	}

	ttl := s.CounterTTL
	if ttl <= 0 {
		ttl = DefaultCounterTTL
	}

	key := CounterKey(credential, now)
	log := zerolog.Ctx(ctx)

	count, err := s.Counters.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("rate counter read failed, assuming zero")
		count = 0
	}

	if count >= limit {
		return domain.Decision{Allowed: false, Limit: limit, Count: count, Remaining: 0, ResetAt: reset}
	}

	if _, err := s.Counters.Incr(ctx, key, ttl); err != nil {
		log.Warn().Err(err).Msg("rate counter increment failed")
	}

	return domain.Decision{
		Allowed:   true,
		Limit:     limit,
		Count:     count,
		Remaining: limit - count - 1,
		ResetAt:   reset,
	}
}

// SetMaintenance liga/desliga o modo manutenção e devolve o valor novo.
func (s *Service) SetMaintenance(enabled bool) bool {
	s.maintenance.Store(enabled)
	return enabled
}

func (s *Service) Maintenance() bool { return s.maintenance.Load() }
