package infra

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryCounterStore guarda os contadores no processo.
//
// O go-cache expira o contador pelo TTL; cada Incr regrava o valor com o TTL
// cheio. Os incrementos passam por um mutex para nunca se perderem.
type MemoryCounterStore struct {
	mu sync.Mutex
	c  *cache.Cache
}

// NewMemoryCounterStore cria o store; cleanupEvery <= 0 desliga a varredura
// de expirados (eles continuam invisíveis para Get).
func NewMemoryCounterStore(cleanupEvery time.Duration) *MemoryCounterStore {
	if cleanupEvery < 0 {
		cleanupEvery = 0
	}
	return &MemoryCounterStore{c: cache.New(cache.NoExpiration, cleanupEvery)}
}

func (s *MemoryCounterStore) Get(_ context.Context, key string) (int64, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return 0, nil
	}
	return v.(int64), nil
}

func (s *MemoryCounterStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if v, ok := s.c.Get(key); ok {
		n = v.(int64)
	}
	n++
	s.c.Set(key, n, ttl)
	return n, nil
}

// Len devolve quantos contadores (inclusive expirados ainda não varridos) existem.
func (s *MemoryCounterStore) Len() int { return s.c.ItemCount() }
