package gatekeeper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"romap-gateway/keystore"
	keyinfra "romap-gateway/keystore/infra"
	"romap-gateway/middleware/ratelimit/application"
	"romap-gateway/middleware/ratelimit/domain"
	"romap-gateway/middleware/ratelimit/infra"
)

type keyMap map[string]keystore.Record

func (m keyMap) Resolve(secret string) (keystore.Record, keystore.Status) {
	r, ok := m[secret]
	if !ok {
		return keystore.Record{}, keystore.StatusUnknown
	}
	return r, r.Status()
}

type fixture struct {
	gate     *Gatekeeper
	limiter  *application.Service
	counters *infra.MemoryCounterStore
	stats    *infra.MemoryStatsStore
	calls    int
	handler  http.Handler
}

func newFixture(t *testing.T, limit int64) *fixture {
	t.Helper()
	f := &fixture{
		counters: infra.NewMemoryCounterStore(0),
		stats:    infra.NewMemoryStatsStore(),
	}
	f.limiter = &application.Service{
		Counters:   f.counters,
		DailyLimit: limit,
		Now:        func() time.Time { return time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC) },
	}
	f.gate = &Gatekeeper{
		Keys: keyMap{
			"good":  {ID: "id-good", Secret: "good"},
			"admin": {ID: "id-admin", Secret: "admin", IsAdmin: true},
			"sus":   {ID: "id-sus", Secret: "sus", Suspended: true},
		},
		Limiter:        f.limiter,
		Stats:          f.stats,
		SupportContact: "support@example.org",
	}
	f.handler = f.gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls++
		assert.Equal(t, KeyIDFrom(r.Context()) != "", r.URL.Query().Get("direct") != "true")
		w.WriteHeader(http.StatusOK)
	}))
	return f
}

func (f *fixture) do(target string, header map[string]string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestMiddleware_MissingCredential(t *testing.T) {
	f := newFixture(t, 10)

	w := f.do("/map?lat=1", nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "API key is required", decode(t, w)["error"])
	assert.Equal(t, 0, f.calls)
	assert.Equal(t, int64(1), f.stats.ByReason()[ReasonMissingCredential])
}

func TestMiddleware_InvalidCredential(t *testing.T) {
	f := newFixture(t, 10)

	w := f.do("/map?apikey=nope", nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid API key", decode(t, w)["error"])
}

func TestMiddleware_HeaderWinsOverQuery(t *testing.T) {
	f := newFixture(t, 10)

	w := f.do("/map?apikey=nope", map[string]string{HeaderAPIKey: "good"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "2026-10-15T23:59:59Z", w.Header().Get("X-RateLimit-Reset"))
}

func TestMiddleware_SuspendedConsumesNoQuota(t *testing.T) {
	f := newFixture(t, 10)

	w := f.do("/map?apikey=sus", nil)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Your KEY is Suspended. Contact Support support@example.org", decode(t, w)["error"])
	assert.Equal(t, 0, f.counters.Len())
	assert.Equal(t, 0, f.calls)
}

func TestMiddleware_QuotaExceeded(t *testing.T) {
	f := newFixture(t, 2)

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, f.do("/map?apikey=good", nil).Code)
	}
	w := f.do("/map?apikey=good", nil)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Rate Limit Exceeded", body["error"])
	assert.EqualValues(t, 2, body["limit"])
	assert.EqualValues(t, 2, body["current"])
	assert.EqualValues(t, 0, body["remaining"])
	assert.Equal(t, "2026-10-15T23:59:59Z", body["reset"])
	assert.Equal(t, 2, f.calls)
}

func TestMiddleware_AdminIsUnlimited(t *testing.T) {
	f := newFixture(t, 1)

	for i := 0; i < 5; i++ {
		w := f.do("/map?apikey=admin", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "unlimited", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "unlimited", w.Header().Get("X-RateLimit-Remaining"))
	}
	assert.Equal(t, 0, f.counters.Len())
}

func TestMiddleware_BypassOnlyWhenEnabled(t *testing.T) {
	f := newFixture(t, 10)

	w := f.do("/map?direct=true", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "bypass must be ignored when disabled")

	f.gate.AllowBypass = true
	w = f.do("/map?direct=true", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, 0, f.counters.Len())
	assert.Equal(t, int64(1), f.stats.ByReason()[ReasonBypass])
}

func TestCheck_OrderForUnknownSuspendedValid(t *testing.T) {
	f := newFixture(t, 10)

	cases := []struct {
		target string
		reason string
	}{
		{"/map", ReasonMissingCredential},
		{"/map?apikey=x", ReasonInvalidCredential},
		{"/map?apikey=sus", ReasonSuspended},
		{"/map?apikey=good", ReasonOK},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, tc.target, nil)
		v := f.gate.Check(r)
		assert.Equal(t, tc.reason, v.Reason, tc.target)
		assert.Equal(t, tc.reason == ReasonOK, v.Allowed, tc.target)
	}
}

type failingStats struct{}

func (failingStats) Record(context.Context, domain.StatsEvent) error { return assert.AnError }

func TestMiddleware_StatsFailureDoesNotBlock(t *testing.T) {
	f := newFixture(t, 10)
	f.gate.Stats = failingStats{}

	w := f.do("/map?apikey=good", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheck_FollowsStoreStatus(t *testing.T) {
	ctx := context.Background()
	store := keystore.Open(ctx, keyinfra.NewFileTable(filepath.Join(t.TempDir(), "keys.json")), zerolog.Nop())
	secret, err := store.Issue(ctx, "app", false)
	require.NoError(t, err)
	id := store.List()[0].ID

	f := newFixture(t, 10)
	f.gate.Keys = store

	check := func() Verdict {
		return f.gate.Check(httptest.NewRequest(http.MethodGet, "/map?apikey="+secret, nil))
	}

	assert.Equal(t, keystore.StatusValid, store.Status(secret))
	v := check()
	assert.Equal(t, ReasonOK, v.Reason)
	assert.Equal(t, id, v.KeyID)

	_, err = store.Suspend(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, keystore.StatusSuspended, store.Status(secret))
	v = check()
	assert.Equal(t, ReasonSuspended, v.Reason)
	assert.Equal(t, id, v.KeyID)

	require.NoError(t, store.Revoke(ctx, id))
	assert.Equal(t, keystore.StatusUnknown, store.Status(secret))
	v = check()
	assert.Equal(t, ReasonInvalidCredential, v.Reason)
	assert.Empty(t, v.KeyID)
}
