package mapcache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis guarda as imagens com SET ... EX; erro de Redis vira miss.
type Redis struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewRedis(rdb redis.Cmdable, ttl time.Duration, prefix string) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl, prefix: strings.Trim(prefix, ":")}
}

func (r *Redis) key(fp string) string {
	if r.prefix == "" {
		return fp
	}
	return r.prefix + ":" + fp
}

func (r *Redis) Get(ctx context.Context, fp string) ([]byte, bool) {
	img, err := r.rdb.Get(ctx, r.key(fp)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("map cache read failed")
		}
		return nil, false
	}
	return img, true
}

func (r *Redis) Put(ctx context.Context, fp string, img []byte) {
	if err := r.rdb.Set(ctx, r.key(fp), img, r.ttl).Err(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("map cache write failed")
	}
}
