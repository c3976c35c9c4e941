package dispatch

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	apperrors "amlgate/internal/errors"
	"amlgate/internal/metrics"
	"amlgate/internal/retry"
	"amlgate/internal/store"
	"amlgate/pkg/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingOutput struct {
	mu           sync.Mutex
	events       []*models.EventMessage
	instructions []*models.InstructionMessage
	failEvents   int
}

func (o *recordingOutput) WriteEvent(event *models.EventMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failEvents > 0 {
		o.failEvents--
		return apperrors.ErrKafkaProduceFailed.WithDetail("broker down")
	}
	o.events = append(o.events, event)
	return nil
}

func (o *recordingOutput) WriteInstruction(instruction *models.InstructionMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.instructions = append(o.instructions, instruction)
	return nil
}

func (o *recordingOutput) Close() error { return nil }

func (o *recordingOutput) eventTypes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	types := make([]string, 0, len(o.events))
	for _, e := range o.events {
		types = append(types, e.Type)
	}
	return types
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func fastRetrier(attempts int) *retry.Retrier {
	cfg := retry.DefaultRetryConfig.WithMaxAttempts(attempts)
	cfg.InitialInterval = time.Millisecond
	cfg.MaxInterval = time.Millisecond
	return retry.NewRetrier(cfg, newTestLogger())
}

func commit(t *testing.T, st store.Store, operation string, resp *models.Response) {
	t.Helper()
	_, err := st.Execute(operation, "admin", func(store.State) (*models.Response, error) {
		return resp, nil
	})
	require.NoError(t, err)
}

func approvedResponse(id string) *models.Response {
	resp := &models.Response{}
	resp.AddEvent(models.NewEvent(models.EventApproved).Add("request_id", id))
	resp.AddMessage(models.BankSend{ToAddress: "bob", Amount: []models.Coin{models.NewCoin("ustake", 500)}})
	return resp
}

func TestFlush_DeliversInOrderAndAcks(t *testing.T) {
	st := store.NewMemoryStore()
	out := &recordingOutput{}
	m := metrics.New()
	d := NewDispatcher(st, out, newTestLogger(), WithRetrier(fastRetrier(3)), WithMetrics(m), WithBatchSize(1))

	commit(t, st, "submit_transfer_request", (&models.Response{}).AddEvent(models.NewEvent(models.EventCheckRequested)))
	commit(t, st, "submit_oracle_verdict", approvedResponse("0"))

	n, err := d.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, []string{models.EventCheckRequested, models.EventApproved}, out.eventTypes())
	require.Len(t, out.instructions, 1)
	assert.Equal(t, "bob", out.instructions[0].ToAddress)
	assert.Equal(t, out.events[1].MessageID, out.instructions[0].MessageID)
	assert.Equal(t, out.events[1].Sequence, out.instructions[0].Sequence)

	backlog, err := st.OutboxBacklog()
	require.NoError(t, err)
	assert.Zero(t, backlog)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.OutboxBacklog))

	stats := d.GetStats()
	assert.Equal(t, uint64(2), stats.Dispatched)
	assert.Zero(t, stats.Failures)
}

func TestFlush_RetriesTransientFailure(t *testing.T) {
	st := store.NewMemoryStore()
	out := &recordingOutput{failEvents: 1}
	d := NewDispatcher(st, out, newTestLogger(), WithRetrier(fastRetrier(3)))

	commit(t, st, "submit_oracle_verdict", approvedResponse("0"))

	n, err := d.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, out.events, 1)
}

func TestFlush_StopsAtFailedRecord(t *testing.T) {
	st := store.NewMemoryStore()
	out := &recordingOutput{failEvents: 2}
	m := metrics.New()
	d := NewDispatcher(st, out, newTestLogger(), WithRetrier(fastRetrier(2)), WithMetrics(m))

	commit(t, st, "submit_oracle_verdict", approvedResponse("0"))
	commit(t, st, "submit_oracle_verdict", approvedResponse("1"))

	n, err := d.Flush(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrKafkaProduceFailed)
	assert.Zero(t, n)
	assert.Empty(t, out.events)

	backlog, err := st.OutboxBacklog()
	require.NoError(t, err)
	assert.Equal(t, 2, backlog)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OutboxBacklog))
	assert.NotEmpty(t, d.GetStats().LastError)

	// 输出恢复后从同一条记录继续
	n, err = d.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{models.EventApproved, models.EventApproved}, out.eventTypes())
}

func TestRun_FlushesOnNotifyAndStops(t *testing.T) {
	st := store.NewMemoryStore()
	out := &recordingOutput{}
	d := NewDispatcher(st, out, newTestLogger(), WithRetrier(fastRetrier(1)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, time.Hour) }()

	commit(t, st, "submit_oracle_verdict", approvedResponse("0"))
	d.Notify()

	assert.Eventually(t, func() bool {
		return len(out.eventTypes()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestNotify_NonBlocking(t *testing.T) {
	d := NewDispatcher(store.NewMemoryStore(), &recordingOutput{}, newTestLogger())
	d.Notify()
	d.Notify()
	assert.Len(t, d.notify, 1)
}
