package infra

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"romap-gateway/middleware/ratelimit/domain"
)

// RedisStatsStore grava as decisões de admissão em hashes Redis, com um
// balde por dia UTC (o mesmo dia da cota):
//
//	<prefix>:total                   allowed/denied (cumulativo)
//	<prefix>:day:<AAAA-MM-DD>        allowed/denied + reason:<motivo>
//	<prefix>:key:<id>:<AAAA-MM-DD>   allowed/denied, só com WithStatsTrackKeys
//
// Os baldes diários expiram após a retenção (padrão 7 dias).
type RedisStatsStore struct {
	rdb       redis.Cmdable
	prefix    string
	retention time.Duration
	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithStatsRetention(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.retention = d }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:       rdb,
		prefix:    "romap:stats",
		retention: 7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) dayKey(day string) string { return s.prefix + ":day:" + day }

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	day := at.UTC().Format(time.DateOnly)

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	dayKey := s.dayKey(day)
	pipe.HIncrBy(ctx, dayKey, field, 1)
	if ev.Reason != "" {
		pipe.HIncrBy(ctx, dayKey, "reason:"+ev.Reason, 1)
	}
	if s.retention > 0 {
		pipe.Expire(ctx, dayKey, s.retention)
	}

	if s.trackKeys {
		if k := strings.TrimSpace(string(ev.Key)); k != "" {
			keyKey := s.prefix + ":key:" + k + ":" + day
			pipe.HIncrBy(ctx, keyKey, field, 1)
			if s.retention > 0 {
				pipe.Expire(ctx, keyKey, s.retention)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Day lê o balde de um dia: totais e contagem por motivo.
func (s *RedisStatsStore) Day(ctx context.Context, day time.Time) (Counters, map[string]int64, error) {
	raw, err := s.rdb.HGetAll(ctx, s.dayKey(day.UTC().Format(time.DateOnly))).Result()
	if err != nil {
		return Counters{}, nil, err
	}

	var c Counters
	reasons := make(map[string]int64)
	for field, v := range raw {
		n := parseCount(v)
		switch {
		case field == "allowed":
			c.Allowed = n
		case field == "denied":
			c.Denied = n
		case strings.HasPrefix(field, "reason:"):
			reasons[strings.TrimPrefix(field, "reason:")] = n
		}
	}
	return c, reasons, nil
}

// parseCount trata valor ilegível como 0.
func parseCount(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
