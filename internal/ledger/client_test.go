package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:   srv.URL + "/",
		Contract:  "EnergyOracle1",
		APIKey:    "key",
		APISecret: "secret",
		ProjectID: "proj",
		Timeout:   time.Second,
	})
	require.NoError(t, err)
	return c
}

func sampleRequest() SubmitRequest {
	return SubmitRequest{
		MeterID:     "SOLAR_001",
		AmountMilli: 1234,
		Kind:        domain.KindProduction,
		Signature:   []byte{1, 2, 3},
		ObservedAt:  1700000000,
	}
}

func TestSubmitReadingAccepted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/smart-contract/EnergyOracle1/call", r.URL.Path)
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.Equal(t, "secret", r.Header.Get("X-API-Secret"))
		require.Equal(t, "proj", r.Header.Get("X-Project-ID"))
		require.Len(t, r.Header.Get("X-Nonce"), 32)
		require.NotEmpty(t, r.Header.Get("X-Timestamp"))
		require.Equal(t, "SOLAR_001:1700000000:1234", r.Header.Get("Idempotency-Key"))

		var body callRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "submitReading", body.Method)
		require.Equal(t, int64(1234), body.Params.ReadingValue)
		require.Equal(t, "production", body.Params.ReadingType)
		require.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), body.Params.Signature)

		_, _ = w.Write([]byte(`{"transactionId":"tx-1","status":"pending"}`))
	})

	tx, err := c.SubmitReading(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.Equal(t, "tx-1", tx)
}

func TestSubmitReadingClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   domain.SubmissionKind
		code   string
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, domain.Transient, ""},
		{"unavailable", http.StatusServiceUnavailable, `upstream down`, domain.Transient, ""},
		{"no tx id", http.StatusOK, `{"status":"ok"}`, domain.Transient, ""},
		{"bad signature", http.StatusBadRequest, `{"error":{"code":"InvalidSignature","message":"bad sig"}}`, domain.Rejected, "InvalidSignature"},
		{"duplicate", http.StatusConflict, `{"error":{"code":"ReadingTooFrequent"}}`, domain.Rejected, "ReadingTooFrequent"},
		{"unauthorized", http.StatusUnauthorized, `{}`, domain.Fatal, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			_, err := c.SubmitReading(context.Background(), sampleRequest())
			var se *domain.SubmissionError
			require.ErrorAs(t, err, &se)
			require.Equal(t, tc.kind, se.Kind)
			require.Equal(t, tc.code, se.Code)
			require.Equal(t, "SOLAR_001", se.MeterID)
		})
	}
}

func TestSubmitReadingTransportErrorIsTransient(t *testing.T) {
	c, err := NewClient(Config{BaseURL: "http://127.0.0.1:1", Contract: "c", Timeout: time.Second})
	require.NoError(t, err)

	_, err = c.SubmitReading(context.Background(), sampleRequest())
	require.True(t, domain.IsTransient(err))
}

func TestSubmitReadingTruncatedBodyIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		// declares more than it sends, so the connection drops mid-body
		w.Header().Set("Content-Length", "200")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"transactionId":"tx-1"}`))
	})

	tx, err := c.SubmitReading(context.Background(), sampleRequest())
	require.Empty(t, tx)
	require.True(t, domain.IsTransient(err))
	require.Contains(t, err.Error(), "read oracle response")
}

func TestNilClientIsFatal(t *testing.T) {
	var c *Client
	_, err := c.SubmitReading(context.Background(), sampleRequest())
	require.True(t, domain.IsFatal(err))
	require.ErrorIs(t, err, domain.ErrOracleNotInitialized)
}

func TestNewClientValidates(t *testing.T) {
	_, err := NewClient(Config{Contract: "c"})
	require.Error(t, err)
	_, err = NewClient(Config{BaseURL: "http://x"})
	require.Error(t, err)
}
