package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"romap-gateway/middleware/ratelimit/domain"
)

func TestWriteQuotaHeaders_Limited(t *testing.T) {
	h := http.Header{}
	WriteQuotaHeaders(h, domain.Decision{
		Allowed:   true,
		Limit:     1000,
		Remaining: 998,
		ResetAt:   time.Date(2026, 10, 15, 23, 59, 59, 0, time.UTC),
	})

	if got := h.Get(HeaderLimit); got != "1000" {
		t.Fatalf("expected limit 1000, got %q", got)
	}
	if got := h.Get(HeaderRemaining); got != "998" {
		t.Fatalf("expected remaining 998, got %q", got)
	}
	if got := h.Get(HeaderReset); got != "2026-10-15T23:59:59Z" {
		t.Fatalf("unexpected reset %q", got)
	}
}

func TestWriteQuotaHeaders_Unlimited(t *testing.T) {
	h := http.Header{}
	WriteQuotaHeaders(h, domain.Decision{Allowed: true, Unlimited: true})

	if h.Get(HeaderLimit) != "unlimited" || h.Get(HeaderRemaining) != "unlimited" {
		t.Fatalf("expected unlimited headers, got %v", h)
	}
	if h.Get(HeaderReset) != "" {
		t.Fatalf("expected no reset header for admin keys")
	}
}
