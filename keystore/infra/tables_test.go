package infra

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"romap-gateway/keystore"
)

func sampleRecords() []keystore.Record {
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	return []keystore.Record{
		{ID: "b-id", Secret: "s1", Name: "first", CreatedAt: base, IsAdmin: true},
		{ID: "a-id", Secret: "s2", Name: "second", CreatedAt: base.Add(time.Minute), Suspended: true},
	}
}

func TestFileTable_MissingFileIsEmpty(t *testing.T) {
	tbl := NewFileTable(filepath.Join(t.TempDir(), "keys", "api_keys.json"))

	recs, err := tbl.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestFileTable_RoundTripKeepsLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "api_keys.json")
	tbl := NewFileTable(path)
	ctx := context.Background()

	require.NoError(t, tbl.ReplaceAll(ctx, sampleRecords()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"keys"`)
	assert.Contains(t, string(raw), `"key": "s1"`)

	recs, err := tbl.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleRecords(), recs)
}

func TestFileTable_ReplaceAllWithNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api_keys.json")
	tbl := NewFileTable(path)
	ctx := context.Background()

	require.NoError(t, tbl.ReplaceAll(ctx, sampleRecords()))
	require.NoError(t, tbl.ReplaceAll(ctx, nil))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"keys": []`)
}

func TestBadgerTable_ReplaceAllAndLoadInCreationOrder(t *testing.T) {
	db, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tbl := NewBadgerTable(db)
	ctx := context.Background()

	require.NoError(t, tbl.ReplaceAll(ctx, sampleRecords()))
	recs, err := tbl.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "first", recs[0].Name)
	assert.Equal(t, "second", recs[1].Name)

	require.NoError(t, tbl.ReplaceAll(ctx, sampleRecords()[1:]))
	recs, err = tbl.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a-id", recs[0].ID)
}

func TestStoreOverFileTable_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api_keys.json")
	ctx := context.Background()

	s1 := keystore.Open(ctx, NewFileTable(path), zerolog.Nop())
	secret, err := s1.Issue(ctx, "app", false)
	require.NoError(t, err)
	rec, _ := s1.Lookup(secret)
	_, err = s1.Suspend(ctx, rec.ID)
	require.NoError(t, err)

	s2 := keystore.Open(ctx, NewFileTable(path), zerolog.Nop())
	assert.Equal(t, keystore.StatusSuspended, s2.Status(secret))
	assert.Len(t, s2.List(), 1)
}

func TestStoreOverFileTable_CorruptFileDegradesToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api_keys.json")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	s := keystore.Open(context.Background(), NewFileTable(path), zerolog.Nop())
	assert.Empty(t, s.List())
}

func TestOpenTable(t *testing.T) {
	tbl, closeFn, err := OpenTable(BackendFile, filepath.Join(t.TempDir(), "k.json"), "")
	require.NoError(t, err)
	assert.IsType(t, &FileTable{}, tbl)
	assert.NoError(t, closeFn())

	tbl, closeFn, err = OpenTable(BackendBadger, "", "")
	require.NoError(t, err)
	assert.IsType(t, &BadgerTable{}, tbl)
	assert.NoError(t, closeFn())

	_, _, err = OpenTable("postgres", "", "")
	assert.Error(t, err)
}

func TestStoreOverFileTable_TwoWritersKeepEveryKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api_keys.json")
	ctx := context.Background()

	gateway := keystore.Open(ctx, NewFileTable(path), zerolog.Nop())
	secretA, err := gateway.Issue(ctx, "a", false)
	require.NoError(t, err)
	recA, _ := gateway.Lookup(secretA)

	cli := keystore.Open(ctx, NewFileTable(path), zerolog.Nop())
	secretB, err := cli.Issue(ctx, "b", false)
	require.NoError(t, err)

	_, err = gateway.Suspend(ctx, recA.ID)
	require.NoError(t, err)

	fresh := keystore.Open(ctx, NewFileTable(path), zerolog.Nop())
	assert.Len(t, fresh.List(), 2)
	assert.Equal(t, keystore.StatusSuspended, fresh.Status(secretA))
	assert.Equal(t, keystore.StatusValid, fresh.Status(secretB))

	recB, _ := cli.Lookup(secretB)
	require.NoError(t, cli.Revoke(ctx, recB.ID))
	require.NoError(t, gateway.Refresh(ctx))
	assert.Equal(t, keystore.StatusUnknown, gateway.Status(secretB))
	assert.Equal(t, keystore.StatusSuspended, gateway.Status(secretA))
}

func TestFileTable_LockExcludesOtherHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "api_keys.json")
	first, second := NewFileTable(path), NewFileTable(path)

	unlock, err := first.Lock(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = second.Lock(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock())
	unlock, err = second.Lock(context.Background())
	require.NoError(t, err)
	assert.NoError(t, unlock())
}
