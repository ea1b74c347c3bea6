package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memCounters struct {
	mu      sync.Mutex
	m       map[string]int64
	getErr  error
	incrErr error
	lastTTL time.Duration
}

func newMemCounters() *memCounters { return &memCounters{m: map[string]int64{}} }

func (c *memCounters) Get(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return 0, c.getErr
	}
	return c.m[key], nil
}

func (c *memCounters) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.incrErr != nil {
		return 0, c.incrErr
	}
	c.lastTTL = ttl
	c.m[key]++
	return c.m[key], nil
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestService_Admit_DeniesAfterLimit(t *testing.T) {
	counters := newMemCounters()
	now := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	svc := &Service{Counters: counters, DailyLimit: 3, Now: fixedClock(now)}
	ctx := context.Background()

	for i := int64(0); i < 3; i++ {
		dec := svc.Admit(ctx, "secret", false)
		if !dec.Allowed {
			t.Fatalf("request %d: expected allowed", i+1)
		}
		if dec.Remaining != 3-i-1 {
			t.Fatalf("request %d: expected remaining=%d, got %d", i+1, 3-i-1, dec.Remaining)
		}
	}

	dec := svc.Admit(ctx, "secret", false)
	if dec.Allowed {
		t.Fatalf("expected 4th request to be denied")
	}
	if dec.Count != 3 || dec.Remaining != 0 || dec.Limit != 3 {
		t.Fatalf("unexpected denial decision: %+v", dec)
	}
	if got := counters.m["secret:2026-10-15"]; got != 3 {
		t.Fatalf("denied request must not count, counter=%d", got)
	}
	if counters.lastTTL != DefaultCounterTTL {
		t.Fatalf("expected ttl=%s, got %s", DefaultCounterTTL, counters.lastTTL)
	}
}

func TestService_Admit_NewDayStartsFresh(t *testing.T) {
	counters := newMemCounters()
	now := time.Date(2026, 10, 15, 23, 59, 0, 0, time.UTC)
	svc := &Service{Counters: counters, DailyLimit: 1, Now: func() time.Time { return now }}
	ctx := context.Background()

	if !svc.Admit(ctx, "secret", false).Allowed {
		t.Fatalf("expected first request allowed")
	}
	if svc.Admit(ctx, "secret", false).Allowed {
		t.Fatalf("expected second request denied")
	}

	now = now.Add(2 * time.Minute)
	dec := svc.Admit(ctx, "secret", false)
	if !dec.Allowed {
		t.Fatalf("expected request allowed on the next day")
	}
	want := time.Date(2026, 10, 16, 23, 59, 59, 0, time.UTC)
	if !dec.ResetAt.Equal(want) {
		t.Fatalf("expected reset %s, got %s", want, dec.ResetAt)
	}
}

func TestService_Admit_AdminIsUnlimitedAndNotCounted(t *testing.T) {
	counters := newMemCounters()
	svc := &Service{Counters: counters, DailyLimit: 1}

	for i := 0; i < 5; i++ {
		dec := svc.Admit(context.Background(), "admin", true)
		if !dec.Allowed || !dec.Unlimited {
			t.Fatalf("expected unlimited admission, got %+v", dec)
		}
	}
	if len(counters.m) != 0 {
		t.Fatalf("admin requests must not touch counters: %v", counters.m)
	}
}

func TestService_Admit_KeysAreIndependent(t *testing.T) {
	svc := &Service{Counters: newMemCounters(), DailyLimit: 1}
	ctx := context.Background()

	if !svc.Admit(ctx, "a", false).Allowed {
		t.Fatalf("expected a allowed")
	}
	if !svc.Admit(ctx, "b", false).Allowed {
		t.Fatalf("expected b allowed")
	}
}

func TestService_Admit_DefaultLimit(t *testing.T) {
	svc := &Service{Counters: newMemCounters()}
	dec := svc.Admit(context.Background(), "k", false)
	if dec.Limit != DefaultDailyLimit || dec.Remaining != DefaultDailyLimit-1 {
		t.Fatalf("unexpected decision with default limit: %+v", dec)
	}
}

func TestService_Admit_CounterErrorsFailOpen(t *testing.T) {
	counters := newMemCounters()
	counters.getErr = errors.New("redis down")
	counters.incrErr = errors.New("redis down")
	svc := &Service{Counters: counters, DailyLimit: 10}

	dec := svc.Admit(context.Background(), "k", false)
	if !dec.Allowed {
		t.Fatalf("expected fail-open admission")
	}
	if dec.Count != 0 || dec.Remaining != 9 {
		t.Fatalf("unexpected decision: %+v", dec)
	}
}

func TestService_Maintenance(t *testing.T) {
	svc := NewService(newMemCounters(), 0)
	if svc.Maintenance() {
		t.Fatalf("expected maintenance off by default")
	}
	if got := svc.SetMaintenance(true); !got || !svc.Maintenance() {
		t.Fatalf("expected maintenance on")
	}
	if got := svc.SetMaintenance(false); got || svc.Maintenance() {
		t.Fatalf("expected maintenance off")
	}
}

func TestCounterKeyAndEndOfDay(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("BRT", -3*3600))
	if got := CounterKey("abc", at); got != "abc:2026-01-02" {
		t.Fatalf("unexpected counter key %q", got)
	}
	want := time.Date(2026, 1, 2, 23, 59, 59, 0, time.UTC)
	if got := EndOfDay(at); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
