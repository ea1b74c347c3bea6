package mapcache

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// Memory é o cache em processo (go-cache).
//
// Com MaxEntries > 0, uma inserção com o cache cheio primeiro descarta os
// expirados; se continuar cheio, a imagem não é guardada.
type Memory struct {
	c          *cache.Cache
	ttl        time.Duration
	maxEntries int
	mu         sync.Mutex
}

type MemoryOption func(*Memory)

func WithMaxEntries(n int) MemoryOption {
	return func(m *Memory) { m.maxEntries = n }
}

// NewMemory cria o cache; ttl <= 0 usa DefaultTTL e cleanupEvery <= 0
// desliga a varredura periódica.
func NewMemory(ttl, cleanupEvery time.Duration, opts ...MemoryOption) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cleanupEvery < 0 {
		cleanupEvery = 0
	}
	m := &Memory{c: cache.New(ttl, cleanupEvery), ttl: ttl}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(_ context.Context, fp string) ([]byte, bool) {
	v, ok := m.c.Get(fp)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (m *Memory) Put(_ context.Context, fp string, img []byte) {
	if m.maxEntries <= 0 {
		m.c.Set(fp, img, m.ttl)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.c.Get(fp); !exists && m.c.ItemCount() >= m.maxEntries {
		m.c.DeleteExpired()
		if m.c.ItemCount() >= m.maxEntries {
			return
		}
	}
	m.c.Set(fp, img, m.ttl)
}

func (m *Memory) Len() int { return m.c.ItemCount() }
