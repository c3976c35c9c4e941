package oracle

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "amlgate/internal/errors"
	"amlgate/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sdnFixture = `<?xml version="1.0" encoding="utf-8"?>
<Sanctions xmlns="https://sanctionslistservice.ofac.treas.gov/api/PublicationPreview/exports/ADVANCED_XML">
  <ReferenceValueSets>
    <FeatureTypeValues>
      <FeatureType ID="8">Birthdate</FeatureType>
      <FeatureType ID="344">Digital Currency Address - XBT</FeatureType>
      <FeatureType ID="345">Digital Currency Address - ETH</FeatureType>
    </FeatureTypeValues>
  </ReferenceValueSets>
  <DistinctParties>
    <DistinctParty FixedRef="1">
      <Profile ID="1">
        <Feature ID="10" FeatureTypeID="344">
          <FeatureVersion ID="11">
            <VersionDetail DetailTypeID="1432">bc1qzzz</VersionDetail>
          </FeatureVersion>
        </Feature>
        <Feature ID="12" FeatureTypeID="345">
          <FeatureVersion ID="13">
            <VersionDetail DetailTypeID="1432">0xabc</VersionDetail>
          </FeatureVersion>
        </Feature>
        <Feature ID="14" FeatureTypeID="8">
          <FeatureVersion ID="15">
            <VersionDetail DetailTypeID="1430">1980</VersionDetail>
          </FeatureVersion>
        </Feature>
      </Profile>
    </DistinctParty>
    <DistinctParty FixedRef="2">
      <Profile ID="2">
        <Feature ID="20" FeatureTypeID="344">
          <FeatureVersion ID="21">
            <VersionDetail DetailTypeID="1432"> 1AAAA </VersionDetail>
          </FeatureVersion>
        </Feature>
        <Feature ID="22" FeatureTypeID="344">
          <FeatureVersion ID="23">
            <VersionDetail DetailTypeID="1432">bc1qzzz</VersionDetail>
          </FeatureVersion>
        </Feature>
      </Profile>
    </DistinctParty>
  </DistinctParties>
</Sanctions>`

func TestParseSDNAdvanced(t *testing.T) {
	tests := []struct {
		name   string
		assets []string
		want   []SanctionedAddress
	}{
		{"single asset", []string{"XBT"}, []SanctionedAddress{
			{Asset: "XBT", Address: "1AAAA"},
			{Asset: "XBT", Address: "bc1qzzz"},
		}},
		{"lowercase asset", []string{"eth"}, []SanctionedAddress{
			{Asset: "ETH", Address: "0xabc"},
		}},
		{"all assets", nil, []SanctionedAddress{
			{Asset: "ETH", Address: "0xabc"},
			{Asset: "XBT", Address: "1AAAA"},
			{Asset: "XBT", Address: "bc1qzzz"},
		}},
		{"absent asset", []string{"XMR"}, []SanctionedAddress{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSDNAdvanced(strings.NewReader(sdnFixture), tt.assets)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseSDNAdvanced(strings.NewReader("<Sanctions><Feature"), nil)
	assert.ErrorIs(t, err, apperrors.ErrSerializationFailed)
}

type execCall struct {
	query string
	args  []interface{}
}

type recordingExecer struct {
	calls  []execCall
	failOn int
}

func (e *recordingExecer) ExecContext(_ context.Context, query string, args ...interface{}) (sql.Result, error) {
	e.calls = append(e.calls, execCall{query: query, args: args})
	if e.failOn > 0 && len(e.calls) == e.failOn {
		return nil, errors.New("connection reset by peer")
	}
	return driverResult(1), nil
}

type driverResult int64

func (r driverResult) LastInsertId() (int64, error) { return 0, nil }
func (r driverResult) RowsAffected() (int64, error) { return int64(r), nil }

func TestUpsertFlaggedWallets(t *testing.T) {
	exec := &recordingExecer{}
	entries := []models.ComplianceEntry{
		{Wallet: " W1 ", Reason: "mixer ", RiskScore: models.Uint64Ptr(70)},
		{Wallet: "", Reason: "orphan"},
		{Wallet: "W2", Reason: "peel chain"},
	}

	n, err := upsertFlaggedWallets(context.Background(), exec, entries)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, exec.calls, 2)

	assert.Contains(t, exec.calls[0].query, "GREATEST(flagged_wallets.risk_score, EXCLUDED.risk_score)")
	assert.Contains(t, exec.calls[0].query, "ON CONFLICT (wallet_id)")
	assert.Equal(t, []interface{}{"W1", "mixer", sql.NullInt64{Int64: 70, Valid: true}}, exec.calls[0].args)
	assert.Equal(t, []interface{}{"W2", "peel chain", sql.NullInt64{}}, exec.calls[1].args)

	failing := &recordingExecer{failOn: 2}
	n, err = upsertFlaggedWallets(context.Background(), failing, entries)
	assert.ErrorIs(t, err, apperrors.ErrDatabaseQueryFailed)
	assert.Equal(t, 1, n)
}

type fakeWalletWriter struct {
	entries  []models.ComplianceEntry
	failures int
	calls    int
}

func (w *fakeWalletWriter) UpsertFlaggedWallets(_ context.Context, entries []models.ComplianceEntry) (int, error) {
	w.calls++
	if w.calls <= w.failures {
		return 0, apperrors.ErrDatabaseQueryFailed.WithCause(errors.New("connection refused"))
	}
	w.entries = entries
	return len(entries), nil
}

func TestSanctionImporter_Import(t *testing.T) {
	writer := &fakeWalletWriter{failures: 1}
	importer := NewSanctionImporter(writer, newTestLogger())

	n, err := importer.Import(context.Background(), strings.NewReader(sdnFixture), []string{"XBT"}, SanctionedRisk)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, writer.calls)

	require.Len(t, writer.entries, 2)
	for _, entry := range writer.entries {
		assert.Equal(t, SanctionedReason, entry.Reason)
		require.NotNil(t, entry.RiskScore)
		assert.Equal(t, uint64(SanctionedRisk), *entry.RiskScore)
	}
}

func TestFetchSDN(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sdn_advanced.xml" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(sdnFixture))
	}))
	defer srv.Close()

	data, err := FetchSDN(context.Background(), srv.Client(), srv.URL+"/sdn_advanced.xml")
	require.NoError(t, err)
	assert.Equal(t, sdnFixture, string(data))

	_, err = FetchSDN(context.Background(), srv.Client(), srv.URL+"/missing")
	assert.Error(t, err)
}
