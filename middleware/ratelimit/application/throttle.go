package application

import (
	"time"

	"romap-gateway/middleware/ratelimit/domain"
)

// Throttle concentra a regra do burst guard (rajadas curtas por cliente).
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Throttle struct {
	Store      domain.LimiterStore
	RetryAfter time.Duration
}

func (s Throttle) Decide(key domain.Key) domain.BurstDecision {
	if s.Store == nil {
		return domain.BurstDecision{Allowed: true}
	}
	if s.RetryAfter <= 0 {
		s.RetryAfter = 1 * time.Second
	}

	lim := s.Store.Get(key)
	if lim == nil {
		return domain.BurstDecision{Allowed: true}
	}
	if lim.Allow() {
		return domain.BurstDecision{Allowed: true}
	}
	return domain.BurstDecision{Allowed: false, RetryAfter: s.RetryAfter}
}
