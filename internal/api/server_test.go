package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"amlgate/internal/contract"
	apperrors "amlgate/internal/errors"
	"amlgate/internal/gateway"
	"amlgate/internal/metrics"
	"amlgate/internal/store"
	"amlgate/internal/validation"
	"amlgate/pkg/models"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testAPI struct {
	t      *testing.T
	router *gin.Engine
	server *Server
}

func newTestAPI(t *testing.T) *testAPI {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c := contract.New(validation.NewValidator(logger, validation.AddressFormatPlain), logger)
	gw := gateway.New(store.NewMemoryStore(), c, logger)
	server := NewServer(gw, metrics.New(), logger, 0)

	return &testAPI{t: t, router: server.Router(), server: server}
}

func (a *testAPI) do(method, path, sender string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if sender != "" {
		req.Header.Set(SenderHeader, sender)
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func (a *testAPI) instantiate(pubkey []byte) {
	rec := a.do(http.MethodPost, "/api/v1/instantiate", "admin", gin.H{
		"oracle_pubkey":   base64.StdEncoding.EncodeToString(pubkey),
		"oracle_key_type": "ecdsa",
	})
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.ErrUnauthorized, http.StatusForbidden},
		{apperrors.ErrInvalidKeyType, http.StatusBadRequest},
		{apperrors.ErrSignatureInvalid, http.StatusBadRequest},
		{apperrors.ErrInvalidRecipient.WithDetail("x"), http.StatusBadRequest},
		{apperrors.ErrInvalidAmount, http.StatusBadRequest},
		{apperrors.ErrNotFound, http.StatusNotFound},
		{apperrors.ErrNotInitialized, http.StatusConflict},
		{apperrors.ErrAlreadyInitialized, http.StatusConflict},
		{apperrors.ErrStorage, http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", apperrors.ErrUnauthorized), http.StatusForbidden},
		{io.EOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = a.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "amlgate_outbox_backlog")
}

func TestAPI_CommandsRequireSender(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(http.MethodPost, "/api/v1/transfers", "", gin.H{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_SettlementFlow(t *testing.T) {
	a := newTestAPI(t)
	oracle, err := crypto.GenerateKey()
	require.NoError(t, err)

	rec := a.do(http.MethodGet, "/api/v1/admin", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	a.instantiate(crypto.CompressPubkey(&oracle.PublicKey))

	rec = a.do(http.MethodPost, "/api/v1/instantiate", "admin", gin.H{"oracle_key_type": "secp256k1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var key map[string]string
	rec = a.do(http.MethodGet, "/api/v1/oracle/key", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &key)
	assert.Equal(t, "secp256k1", key["key_type"])

	transfer := gin.H{"recipient": "bob", "amount": gin.H{"denom": "ustake", "amount": "500"}}
	for want := uint64(1); want <= 2; want++ {
		rec = a.do(http.MethodPost, "/api/v1/transfers", "alice", transfer)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var body struct {
			RequestID uint64 `json:"request_id"`
		}
		decode(t, rec, &body)
		assert.Equal(t, want, body.RequestID)
	}

	rec = a.do(http.MethodGet, "/api/v1/transfers/2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending models.PendingTransfer
	decode(t, rec, &pending)
	assert.Equal(t, "alice", pending.Sender)
	assert.Equal(t, "500", pending.Amount.AmountString())

	rec = a.do(http.MethodPost, "/api/v1/oracle/verdicts", "oracle", models.Verdict{RequestID: 2, Approved: true})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.Response
	decode(t, rec, &resp)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "bob", resp.Messages[0].ToAddress)

	rec = a.do(http.MethodGet, "/api/v1/settlement/next", "", nil)
	assert.JSONEq(t, `{"next_settlement_id":1}`, rec.Body.String())

	rec = a.do(http.MethodPost, "/api/v1/oracle/verdicts", "oracle", models.Verdict{RequestID: 1, Approved: false, Reason: "risky"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodGet, "/api/v1/settlement/next", "", nil)
	assert.JSONEq(t, `{"next_settlement_id":2}`, rec.Body.String())

	rec = a.do(http.MethodGet, "/api/v1/transfers/next", "", nil)
	assert.JSONEq(t, `{"next_request_id":3}`, rec.Body.String())

	rec = a.do(http.MethodGet, "/api/v1/transfers/2", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(http.MethodGet, "/api/v1/transfers/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var events struct {
		Events []models.EventMessage `json:"events"`
		Total  int                   `json:"total"`
	}
	rec = a.do(http.MethodGet, "/api/v1/events?type="+models.EventCheckRequested, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &events)
	assert.Equal(t, 2, events.Total)
	assert.Equal(t, "2", events.Events[0].Attributes["index"])

	rec = a.do(http.MethodGet, "/api/v1/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outbox_backlog":5`)
}

func TestAPI_ErrorMapping(t *testing.T) {
	a := newTestAPI(t)
	oracle, err := crypto.GenerateKey()
	require.NoError(t, err)
	a.instantiate(crypto.CompressPubkey(&oracle.PublicKey))

	rec := a.do(http.MethodPut, "/api/v1/oracle/key", "mallory", gin.H{"new_pubkey": "CQkJ"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")

	rec = a.do(http.MethodPut, "/api/v1/oracle/key", "admin", gin.H{"new_pubkey": "CQkJ", "new_key_type": "rsa"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_KEY_TYPE")

	rec = a.do(http.MethodPost, "/api/v1/oracle/dataset", "oracle", gin.H{
		"entries":   []gin.H{{"wallet": "W1", "reason": "mixer"}},
		"signature": base64.StdEncoding.EncodeToString(make([]byte, 64)),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "SIGNATURE_INVALID")

	rec = a.do(http.MethodPost, "/api/v1/transfers", "alice", gin.H{
		"recipient": "bob",
		"amount":    gin.H{"denom": "ustake", "amount": "0"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_AMOUNT")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/oracle/verdicts", strings.NewReader("{"))
	req.Header.Set(SenderHeader, "oracle")
	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var stats struct {
		ErrorRate float64 `json:"error_rate_1h"`
		Errors    struct {
			TotalErrors  int            `json:"total_errors"`
			ErrorsByCode map[string]int `json:"errors_by_code"`
		} `json:"errors"`
	}
	rec = a.do(http.MethodGet, "/api/v1/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &stats)
	assert.Equal(t, 4, stats.Errors.TotalErrors)
	assert.Equal(t, 1, stats.Errors.ErrorsByCode["INVALID_AMOUNT"])
	assert.Equal(t, float64(4), stats.ErrorRate)
}

func TestAPI_DatasetAndCompliance(t *testing.T) {
	a := newTestAPI(t)
	oracle, err := crypto.GenerateKey()
	require.NoError(t, err)
	a.instantiate(crypto.CompressPubkey(&oracle.PublicKey))

	entries := []models.ComplianceEntry{{Wallet: "W1", Reason: "mixer", RiskScore: models.Uint64Ptr(75)}}
	payload, err := contract.DatasetPayload(entries)
	require.NoError(t, err)
	sig, err := crypto.Sign(contract.Digest(payload), oracle)
	require.NoError(t, err)

	rec := a.do(http.MethodPost, "/api/v1/oracle/dataset", "oracle", contract.SubmitOracleDatasetMsg{
		Entries:   entries,
		Signature: sig[:64],
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(http.MethodGet, "/api/v1/compliance/W1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var check models.WalletCheck
	decode(t, rec, &check)
	assert.True(t, check.Flagged)
	assert.Equal(t, models.StatusAMLFailed, check.Status)

	rec = a.do(http.MethodGet, "/api/v1/compliance", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)
}

func TestAPI_DatasetWithEmptyWalletRejected(t *testing.T) {
	a := newTestAPI(t)
	oracle, err := crypto.GenerateKey()
	require.NoError(t, err)
	a.instantiate(crypto.CompressPubkey(&oracle.PublicKey))

	entries := []models.ComplianceEntry{
		{Wallet: "W1", Reason: "mixer"},
		{Wallet: "", Reason: "unknown"},
	}
	payload, err := contract.DatasetPayload(entries)
	require.NoError(t, err)
	sig, err := crypto.Sign(contract.Digest(payload), oracle)
	require.NoError(t, err)

	rec := a.do(http.MethodPost, "/api/v1/oracle/dataset", "oracle", contract.SubmitOracleDatasetMsg{
		Entries:   entries,
		Signature: sig[:64],
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_DATASET")

	rec = a.do(http.MethodGet, "/api/v1/compliance", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":0`)
}

func TestEventFeed_PagingAndCap(t *testing.T) {
	feed := NewEventFeed(3)
	for i := 0; i < 5; i++ {
		resp := models.Response{}
		resp.AddEvent(models.NewEvent(models.EventCheckRequested).Add("index", fmt.Sprint(i)))
		feed.Committed(&models.OutboxRecord{Sequence: uint64(i + 1), Response: resp})
	}

	assert.Equal(t, 3, feed.Len())
	page, total := feed.Page("", 1, 2)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "4", page[0].Attributes["index"])

	page, _ = feed.Page("", 3, 2)
	assert.Empty(t, page)

	page, total = feed.Page(models.EventApproved, 1, 10)
	assert.Zero(t, total)
	assert.Empty(t, page)

	feed.Clear()
	assert.Zero(t, feed.Len())
}
