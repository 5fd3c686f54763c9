package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/database"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/domain"
)

// Runs only against a real Postgres: TEST_DB_DSN=postgres://... go test ./internal/repository
func TestSubmissionRoundTrip(t *testing.T) {
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	ctx := context.Background()

	db, err := database.Connect(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, database.Migrate(ctx, db))

	repos := New(db)
	meterID := "TEST_" + uuid.NewString()[:8]
	now := time.Now().UTC().Truncate(time.Microsecond)

	older := domain.SubmissionRecord{
		ID: uuid.NewString(), MeterID: meterID, ObservedAt: now.Add(-time.Hour).Unix(), Value: 1.5,
		AmountMilli: 1500, Kind: domain.KindProduction, Source: domain.SourcePoll,
		Status: domain.StatusAccepted, TxID: "tx-1", Attempts: 1, CreatedAt: now.Add(-time.Hour),
	}
	newer := domain.SubmissionRecord{
		ID: uuid.NewString(), MeterID: meterID, ObservedAt: now.Unix(), Value: 2,
		AmountMilli: 2000, Kind: domain.KindProduction, Source: domain.SourcePush,
		Status: domain.StatusRejected, Attempts: 1, Error: "InvalidSignature", CreatedAt: now,
	}
	require.NoError(t, repos.InsertSubmission(ctx, older))
	require.NoError(t, repos.InsertSubmission(ctx, newer))
	// same id again is ignored
	require.NoError(t, repos.InsertSubmission(ctx, newer))

	all, err := repos.MeterSubmissions(ctx, meterID, now.Add(-2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, newer.ID, all[0].ID)
	require.Equal(t, domain.StatusRejected, all[0].Status)

	recent, err := repos.MeterSubmissions(ctx, meterID, now.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	_, err = repos.RecentSubmissions(ctx, 5)
	require.NoError(t, err)
}
