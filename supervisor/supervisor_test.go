package supervisor

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyService struct {
	runs atomic.Int32
}

func (f *flakyService) Serve(ctx context.Context) error {
	if f.runs.Add(1) == 1 {
		return errors.New("first run fails")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *flakyService) String() string { return "flaky" }

func TestSupervisor_RestartsFailedServiceAndLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(zerolog.SyncWriter(&buf))
	sup := New("test", logger, Config{FailureBackoff: 10 * time.Millisecond, ShutdownTimeout: time.Second})

	svc := &flakyService{}
	sup.Add(svc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := sup.ServeBackground(ctx)

	require.Eventually(t, func() bool { return svc.runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-errCh

	assert.Contains(t, buf.String(), `"component":"supervisor"`)
	assert.Contains(t, buf.String(), "flaky")
}

func TestNew_AppliesDefaults(t *testing.T) {
	sup := New("defaults", zerolog.Nop(), Config{})
	assert.Equal(t, "defaults", sup.String())
}
