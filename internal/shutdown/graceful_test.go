package shutdown

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestShutdown(timeout time.Duration) *GracefulShutdown {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewGracefulShutdown(timeout, logger)
}

func TestShutdown_RunsHooksInOrder(t *testing.T) {
	gs := newTestShutdown(time.Second)

	var calls []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			calls = append(calls, name)
			return nil
		}
	}
	gs.Register("store", OrderCloseStore, record("store"))
	gs.Register("http", OrderStopHTTP, record("http"))
	gs.Register("outbox", OrderFlushOutbox, record("outbox"))
	gs.Register("workers", OrderStopWorkers, record("workers"))

	assert.Equal(t, []string{"http", "workers", "outbox", "store"}, gs.Hooks())

	require.NoError(t, gs.Shutdown())
	assert.Equal(t, []string{"http", "workers", "outbox", "store"}, calls)
	assert.Error(t, gs.Context().Err())

	select {
	case <-gs.Done():
	default:
		t.Fatal("停机完成后 Done 应已关闭")
	}
}

func TestShutdown_OnlyOnce(t *testing.T) {
	gs := newTestShutdown(time.Second)

	count := 0
	gs.Register("count", OrderCloseStore, func(context.Context) error {
		count++
		return nil
	})

	require.NoError(t, gs.Shutdown())
	require.NoError(t, gs.Shutdown())
	assert.Equal(t, 1, count)
}

func TestShutdown_CollectsErrors(t *testing.T) {
	gs := newTestShutdown(time.Second)
	boom := errors.New("boom")

	ran := false
	gs.Register("output", OrderCloseOutput, func(context.Context) error { return boom })
	gs.Register("store", OrderCloseStore, func(context.Context) error {
		ran = true
		return nil
	})

	err := gs.Shutdown()
	assert.ErrorIs(t, err, boom)
	assert.True(t, ran)
}

func TestShutdown_TimeoutSkipsRemaining(t *testing.T) {
	gs := newTestShutdown(20 * time.Millisecond)

	skipped := true
	gs.Register("slow", OrderStopHTTP, func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	gs.Register("store", OrderCloseStore, func(context.Context) error {
		skipped = false
		return nil
	})

	err := gs.Shutdown()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, skipped)
}
