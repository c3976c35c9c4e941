package gateway

import (
	"context"
	"crypto/ecdsa"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"amlgate/internal/contract"
	apperrors "amlgate/internal/errors"
	"amlgate/internal/metrics"
	"amlgate/internal/store"
	"amlgate/internal/validation"
	"amlgate/pkg/models"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	mu      sync.Mutex
	records []*models.OutboxRecord
}

func (l *recordingListener) Committed(record *models.OutboxRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, record)
}

func (l *recordingListener) operations() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ops := make([]string, 0, len(l.records))
	for _, r := range l.records {
		ops = append(ops, r.Operation)
	}
	return ops
}

type harness struct {
	gw       *Gateway
	store    store.Store
	metrics  *metrics.Metrics
	listener *recordingListener
	oracle   *ecdsa.PrivateKey
}

func newHarness(t *testing.T, st store.Store) *harness {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	oracle, err := crypto.GenerateKey()
	require.NoError(t, err)

	m := metrics.New()
	listener := &recordingListener{}
	c := contract.New(validation.NewValidator(logger, validation.AddressFormatPlain), logger)

	return &harness{
		gw:       New(st, c, logger, WithMetrics(m), WithListener(listener)),
		store:    st,
		metrics:  m,
		listener: listener,
		oracle:   oracle,
	}
}

// forEachStore 分别以 bbolt 和内存存储构建网关
func forEachStore(t *testing.T, fn func(t *testing.T, h *harness)) {
	t.Run("bolt", func(t *testing.T) {
		logger := logrus.New()
		logger.SetOutput(io.Discard)

		st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "state.db"), logger)
		require.NoError(t, err)
		defer st.Close()
		fn(t, newHarness(t, st))
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, newHarness(t, store.NewMemoryStore()))
	})
}

func (h *harness) instantiate(t *testing.T) {
	_, err := h.gw.Instantiate(context.Background(), "admin", contract.InstantiateMsg{
		OraclePubKey:  crypto.CompressPubkey(&h.oracle.PublicKey),
		OracleKeyType: "secp256k1",
	})
	require.NoError(t, err)
}

func (h *harness) sign(t *testing.T, entries []models.ComplianceEntry) []byte {
	payload, err := contract.DatasetPayload(entries)
	require.NoError(t, err)
	sig, err := crypto.Sign(contract.Digest(payload), h.oracle)
	require.NoError(t, err)
	return sig[:64]
}

func TestGateway_TwoRequestSettlement(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		h.instantiate(t)

		msg := contract.SubmitTransferRequestMsg{Recipient: "bob", Amount: models.NewCoin("ustake", 500)}
		_, first, err := h.gw.SubmitTransferRequest(ctx, "alice", msg)
		require.NoError(t, err)
		_, second, err := h.gw.SubmitTransferRequest(ctx, "alice", msg)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), first)
		assert.Equal(t, uint64(2), second)

		resp, err := h.gw.SubmitOracleVerdict(ctx, "oracle", models.Verdict{RequestID: 1, Approved: true})
		require.NoError(t, err)
		require.Len(t, resp.Messages, 1)
		assert.Equal(t, "bob", resp.Messages[0].ToAddress)
		assert.Equal(t, "500", resp.Messages[0].Amount[0].AmountString())

		resp, err = h.gw.SubmitOracleVerdict(ctx, "oracle", models.Verdict{
			RequestID: 2, Flagged: true, Reason: "sanctioned", RiskScore: 90,
		})
		require.NoError(t, err)
		assert.Empty(t, resp.Messages)
		require.Len(t, resp.Events, 1)
		assert.Equal(t, models.EventDenied, resp.Events[0].Type)

		next, err := h.gw.NextSettlementID(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), next)

		nextReq, err := h.gw.NextRequestID(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), nextReq)

		pending, err := h.gw.PendingRequests(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)

		assert.Equal(t, []string{
			OpInstantiate,
			OpSubmitTransferRequest,
			OpSubmitTransferRequest,
			OpSubmitOracleVerdict,
			OpSubmitOracleVerdict,
		}, h.listener.operations())

		backlog, err := h.store.OutboxBacklog()
		require.NoError(t, err)
		assert.Equal(t, 5, backlog)

		assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.TransferRequests))
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Verdicts.WithLabelValues(metrics.OutcomeApproved)))
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Verdicts.WithLabelValues(metrics.OutcomeDenied)))
	})
}

func TestGateway_UnknownVerdictIsRecorded(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		h.instantiate(t)

		for i := 0; i < 2; i++ {
			resp, err := h.gw.SubmitOracleVerdict(ctx, "oracle", models.Verdict{RequestID: 42, Approved: true})
			require.NoError(t, err)
			require.Len(t, resp.Events, 1)
			assert.Equal(t, models.EventVerdictUnmatched, resp.Events[0].Type)
			assert.Empty(t, resp.Messages)
		}

		assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Verdicts.WithLabelValues(metrics.OutcomeUnmatched)))
		next, err := h.gw.NextSettlementID(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), next)
	})
}

func TestGateway_RejectedCommandsDoNotCommit(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		h.instantiate(t)

		_, err := h.gw.RotateOracleKey(ctx, "mallory", contract.RotateOracleKeyMsg{NewPubKey: []byte{1}})
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

		entries := []models.ComplianceEntry{{Wallet: "W1", Reason: "mixer"}}
		_, err = h.gw.SubmitOracleDataset(ctx, "oracle", contract.SubmitOracleDatasetMsg{
			Entries:   entries,
			Signature: make([]byte, 64),
		})
		assert.ErrorIs(t, err, apperrors.ErrSignatureInvalid)

		_, _, err = h.gw.SubmitTransferRequest(ctx, "alice", contract.SubmitTransferRequestMsg{
			Recipient: "bob",
			Amount:    models.NewCoin("ustake", 0),
		})
		assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)

		assert.Equal(t, []string{OpInstantiate}, h.listener.operations())
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.KeyRotations.WithLabelValues(metrics.ResultRejected)))
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.DatasetUpdates.WithLabelValues(metrics.ResultRejected)))
		assert.Zero(t, testutil.ToFloat64(h.metrics.TransferRequests))

		stats := h.gw.ErrorHandler().GetStats()
		assert.Equal(t, 3, stats.TotalErrors)
		assert.Equal(t, 1, stats.ErrorsByCode["INVALID_AMOUNT"])

		records, err := h.gw.ComplianceRecords(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestGateway_DatasetAndWalletCheck(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		h.instantiate(t)

		entries := []models.ComplianceEntry{
			{Wallet: "W2", Reason: "peel chain"},
			{Wallet: "W1", Reason: "mixer", RiskScore: models.Uint64Ptr(80)},
		}
		_, err := h.gw.SubmitOracleDataset(ctx, "oracle", contract.SubmitOracleDatasetMsg{
			Entries:   entries,
			Signature: h.sign(t, entries),
		})
		require.NoError(t, err)
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.DatasetUpdates.WithLabelValues(metrics.ResultAccepted)))

		records, err := h.gw.ComplianceRecords(ctx)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "W1", records[0].Wallet)

		check, err := h.gw.CheckWallet(ctx, "W1")
		require.NoError(t, err)
		assert.True(t, check.Flagged)
		assert.Equal(t, models.StatusAMLFailed, check.Status)

		check, err = h.gw.CheckWallet(ctx, "W9")
		require.NoError(t, err)
		assert.False(t, check.Flagged)
		assert.Equal(t, models.StatusOK, check.Status)
	})
}

func TestGateway_QueriesBeforeInstantiate(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()

		_, err := h.gw.Admin(ctx)
		assert.ErrorIs(t, err, apperrors.ErrNotInitialized)

		_, err = h.gw.OracleKey(ctx)
		assert.ErrorIs(t, err, apperrors.ErrNotInitialized)

		status, err := h.gw.Status(ctx)
		require.NoError(t, err)
		assert.False(t, status.Initialized)
		assert.Nil(t, status.Counters)

		h.instantiate(t)

		admin, err := h.gw.Admin(ctx)
		require.NoError(t, err)
		assert.Equal(t, "admin", admin)

		status, err = h.gw.Status(ctx)
		require.NoError(t, err)
		assert.True(t, status.Initialized)
		require.NotNil(t, status.Counters)
		assert.Equal(t, models.InitialCounters(), *status.Counters)
		assert.Equal(t, 1, status.OutboxBacklog)

		_, err = h.gw.PendingRequest(ctx, 7)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestGateway_CanceledContext(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := h.gw.Instantiate(ctx, "admin", contract.InstantiateMsg{OracleKeyType: "secp256k1"})
		assert.ErrorIs(t, err, context.Canceled)

		_, err = h.gw.Admin(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, h.listener.operations())
	})
}
