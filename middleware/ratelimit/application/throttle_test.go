package application

import (
	"testing"
	"time"

	"romap-gateway/middleware/ratelimit/domain"
)

type fakeLimiter struct {
	allow bool
}

func (f fakeLimiter) Allow() bool { return f.allow }

type fakeStore struct {
	lim domain.Limiter
}

func (s fakeStore) Get(domain.Key) domain.Limiter { return s.lim }

func TestThrottle_Decide_AllowsWhenNoStore(t *testing.T) {
	svc := Throttle{}
	dec := svc.Decide("203.0.113.7")
	if !dec.Allowed {
		t.Fatalf("expected allowed")
	}
	if dec.RetryAfter != 0 {
		t.Fatalf("expected RetryAfter=0 when allowed, got %s", dec.RetryAfter)
	}
}

func TestThrottle_Decide_AllowsWhenLimiterAllows(t *testing.T) {
	svc := Throttle{Store: fakeStore{lim: fakeLimiter{allow: true}}, RetryAfter: 5 * time.Second}
	dec := svc.Decide("203.0.113.7")
	if !dec.Allowed {
		t.Fatalf("expected allowed")
	}
}

func TestThrottle_Decide_BlocksWithRetryAfterDefault(t *testing.T) {
	svc := Throttle{Store: fakeStore{lim: fakeLimiter{allow: false}}}
	dec := svc.Decide("203.0.113.7")
	if dec.Allowed {
		t.Fatalf("expected blocked")
	}
	if dec.RetryAfter != 1*time.Second {
		t.Fatalf("expected default RetryAfter=1s, got %s", dec.RetryAfter)
	}
}

func TestThrottle_Decide_BlocksWithConfiguredRetryAfter(t *testing.T) {
	svc := Throttle{Store: fakeStore{lim: fakeLimiter{allow: false}}, RetryAfter: 2500 * time.Millisecond}
	dec := svc.Decide("203.0.113.7")
	if dec.Allowed {
		t.Fatalf("expected blocked")
	}
	if dec.RetryAfter != 2500*time.Millisecond {
		t.Fatalf("expected RetryAfter=2.5s, got %s", dec.RetryAfter)
	}
}
