package submission

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/attest"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/domain"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/ledger"
)

type fakeOracle struct {
	mu    sync.Mutex
	errs  []error // consumed in order; nil entries mean success
	calls []ledger.SubmitRequest
}

func (f *fakeOracle) SubmitReading(_ context.Context, req ledger.SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("tx-%d", len(f.calls)), nil
}

func (f *fakeOracle) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRecorder struct {
	mu   sync.Mutex
	recs []domain.SubmissionRecord
}

func (f *fakeRecorder) RecordSubmission(_ context.Context, _ domain.AttestedReading, rec domain.SubmissionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

func transient() error {
	return &domain.SubmissionError{Kind: domain.Transient, MeterID: "SOLAR_001", Cause: errors.New("timeout")}
}

func fastOptions(attempts uint) Options {
	return Options{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func signer() *attest.Signer {
	return attest.NewSigner(ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize)))
}

func reading(value float64) domain.MeterReading {
	return domain.MeterReading{
		MeterID:    "SOLAR_001",
		Value:      value,
		Kind:       domain.KindProduction,
		ObservedAt: 1700000000,
		Unit:       domain.UnitKWh,
		Source:     domain.SourcePoll,
	}
}

func TestScaleToMilli(t *testing.T) {
	cases := []struct {
		in   float64
		want int64
	}{
		{1.234, 1234},
		{1.2345, 1235},
		{1.2344, 1234},
		{0.0005, 1},
		{0.0004999, 0},
		{0, 0},
		{12345.678, 12345678},
		{2.675, 2675},
	}
	for _, tc := range cases {
		got, err := ScaleToMilli(tc.in)
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "ScaleToMilli(%v)", tc.in)
	}

	_, err := ScaleToMilli(1e300)
	require.Error(t, err)
}

func TestProcessSubmitsScaledSignedReading(t *testing.T) {
	oracle := &fakeOracle{}
	rec := &fakeRecorder{}
	s := signer()
	p := New(oracle, s, fastOptions(3), WithRecorder(rec))

	res, err := p.Process(context.Background(), reading(1.234))
	require.NoError(t, err)
	require.Equal(t, "tx-1", res.TxID)
	require.Equal(t, int64(1234), res.AmountMilli)
	require.Equal(t, 1, res.Attempts)

	require.Len(t, oracle.calls, 1)
	call := oracle.calls[0]
	require.Equal(t, int64(1234), call.AmountMilli)
	require.Equal(t, domain.KindProduction, call.Kind)
	require.True(t, attest.Verify(s.PublicKey(), domain.AttestedReading{MeterReading: reading(1.234), Signature: call.Signature}))

	require.Len(t, rec.recs, 1)
	require.Equal(t, domain.StatusAccepted, rec.recs[0].Status)
	require.Equal(t, "tx-1", rec.recs[0].TxID)
	require.NotEmpty(t, rec.recs[0].ID)
}

func TestSubmitRetriesTransientThenSucceeds(t *testing.T) {
	oracle := &fakeOracle{errs: []error{transient(), errors.New("connection reset"), nil}}
	p := New(oracle, signer(), fastOptions(4))

	res, err := p.Process(context.Background(), reading(2))
	require.NoError(t, err)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, 3, oracle.callCount())

	// every retry carries the same reading
	for _, c := range oracle.calls {
		require.Equal(t, oracle.calls[0].IdempotencyKey(), c.IdempotencyKey())
	}
}

func TestSubmitTransientGivesUpAtCap(t *testing.T) {
	oracle := &fakeOracle{errs: []error{transient(), transient(), transient(), transient(), transient()}}
	rec := &fakeRecorder{}
	p := New(oracle, signer(), fastOptions(3), WithRecorder(rec))

	res, err := p.Process(context.Background(), reading(2))
	require.True(t, domain.IsTransient(err))
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, 3, oracle.callCount())
	require.Equal(t, domain.StatusFailed, rec.recs[0].Status)
}

func TestSubmitRejectedIsNotRetried(t *testing.T) {
	rejected := &domain.SubmissionError{Kind: domain.Rejected, MeterID: "SOLAR_001", Code: "InvalidSignature"}
	oracle := &fakeOracle{errs: []error{rejected}}
	rec := &fakeRecorder{}
	p := New(oracle, signer(), fastOptions(5), WithRecorder(rec))

	res, err := p.Process(context.Background(), reading(2))
	require.True(t, domain.IsRejected(err))
	require.Equal(t, 1, res.Attempts)
	require.Equal(t, 1, oracle.callCount())
	require.Equal(t, domain.StatusRejected, rec.recs[0].Status)
	require.Contains(t, rec.recs[0].Error, "InvalidSignature")
}

func TestSubmitFatalIsNotRetried(t *testing.T) {
	fatal := &domain.SubmissionError{Kind: domain.Fatal, MeterID: "SOLAR_001", Cause: errors.New("forbidden")}
	oracle := &fakeOracle{errs: []error{fatal}}
	p := New(oracle, signer(), fastOptions(5))

	_, err := p.Process(context.Background(), reading(2))
	require.True(t, domain.IsFatal(err))
	require.Equal(t, 1, oracle.callCount())
}

func TestSubmitWithoutOracleIsFatal(t *testing.T) {
	p := New(nil, signer(), fastOptions(3))
	_, err := p.Process(context.Background(), reading(1))
	require.True(t, domain.IsFatal(err))
	require.ErrorIs(t, err, domain.ErrOracleNotInitialized)
}

func TestProcessSigningFailureAbortsSubmission(t *testing.T) {
	oracle := &fakeOracle{}
	p := New(oracle, attest.NewSigner(nil), fastOptions(3))

	_, err := p.Process(context.Background(), reading(1))
	var sigErr *domain.SigningError
	require.ErrorAs(t, err, &sigErr)
	require.Zero(t, oracle.callCount(), "unsigned reading must never reach the oracle")

	p = New(oracle, nil, fastOptions(3))
	_, err = p.Process(context.Background(), reading(1))
	require.ErrorAs(t, err, &sigErr)
	require.Zero(t, oracle.callCount())
}

func TestSubmitConcurrentCallers(t *testing.T) {
	oracle := &fakeOracle{}
	p := New(oracle, signer(), fastOptions(2))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := reading(float64(i))
			r.ObservedAt += int64(i)
			_, err := p.Process(context.Background(), r)
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()
	require.Equal(t, 20, oracle.callCount())
}
