package submission

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/domain"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/ledger"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/metrics"
)

// Attestor signs readings. *attest.Signer satisfies it.
type Attestor interface {
	Sign(r domain.MeterReading) (domain.AttestedReading, error)
}

// Recorder receives the outcome of every submission. Errors are logged and
// never change the result.
type Recorder interface {
	RecordSubmission(ctx context.Context, a domain.AttestedReading, rec domain.SubmissionRecord) error
}

type Options struct {
	MaxAttempts    uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (o *Options) applyDefaults() {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 4
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 8 * time.Second
	}
}

type Result struct {
	TxID        string
	AmountMilli int64
	Attempts    int
}

// Pipeline signs and delivers readings to the oracle. It keeps no mutable
// state of its own, so Submit and Process are safe for concurrent use.
type Pipeline struct {
	oracle   ledger.Oracle
	signer   Attestor
	recorder Recorder
	metrics  *metrics.Metrics
	opts     Options
}

type Option func(*Pipeline)

func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func New(oracle ledger.Oracle, signer Attestor, opts Options, extra ...Option) *Pipeline {
	opts.applyDefaults()
	p := &Pipeline{oracle: oracle, signer: signer, opts: opts}
	for _, o := range extra {
		o(p)
	}
	return p
}

// ScaleToMilli converts kWh to integer milli-units (Wh), rounding half away
// from zero on the same decimal text that gets signed.
func ScaleToMilli(kwh float64) (int64, error) {
	r, ok := new(big.Rat).SetString(domain.FormatValue(kwh))
	if !ok {
		return 0, fmt.Errorf("value %v is not a finite number", kwh)
	}
	r.Mul(r, big.NewRat(1000, 1))

	num, den := r.Num(), r.Denom()
	q, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	rem.Abs(rem).Lsh(rem, 1)
	if rem.Cmp(den) >= 0 {
		if num.Sign() < 0 {
			q.Sub(q, big.NewInt(1))
		} else {
			q.Add(q, big.NewInt(1))
		}
	}
	if !q.IsInt64() {
		return 0, fmt.Errorf("value %v kWh overflows milli-units", kwh)
	}
	return q.Int64(), nil
}

// Process attests a raw reading and submits it. A signing failure aborts the
// submission.
func (p *Pipeline) Process(ctx context.Context, r domain.MeterReading) (Result, error) {
	var (
		a   domain.AttestedReading
		err error
	)
	if p.signer == nil {
		err = &domain.SigningError{MeterID: r.MeterID, Cause: domain.ErrKeyUnavailable}
	} else {
		a, err = p.signer.Sign(r)
	}
	if err != nil {
		p.metrics.SigningFailed()
		log.Error().Err(err).Str("meter_id", r.MeterID).Str("op", "sign").Msg("reading dropped")
		return Result{}, err
	}
	return p.Submit(ctx, a)
}

// Submit delivers one attested reading. Transient failures are retried with
// bounded exponential backoff; rejected and fatal failures return at once.
func (p *Pipeline) Submit(ctx context.Context, a domain.AttestedReading) (Result, error) {
	start := time.Now()
	res := Result{}

	if p.oracle == nil {
		err := &domain.SubmissionError{Kind: domain.Fatal, MeterID: a.MeterID, Cause: domain.ErrOracleNotInitialized}
		p.finish(ctx, a, res, err, start)
		return res, err
	}

	amount, err := ScaleToMilli(a.Value)
	if err != nil {
		serr := &domain.SubmissionError{Kind: domain.Rejected, MeterID: a.MeterID, Code: "InvalidReading", Cause: err}
		p.finish(ctx, a, res, serr, start)
		return res, serr
	}
	res.AmountMilli = amount

	req := ledger.SubmitRequest{
		MeterID:     a.MeterID,
		AmountMilli: amount,
		Kind:        a.Kind,
		Signature:   a.Signature,
		ObservedAt:  a.ObservedAt,
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.InitialBackoff
	b.MaxInterval = p.opts.MaxBackoff

	op := func() (string, error) {
		res.Attempts++
		tx, err := p.oracle.SubmitReading(ctx, req)
		if err == nil {
			return tx, nil
		}
		var se *domain.SubmissionError
		if !errors.As(err, &se) {
			se = &domain.SubmissionError{Kind: domain.Transient, MeterID: a.MeterID, Cause: err}
		}
		if se.Kind != domain.Transient {
			return "", backoff.Permanent(se)
		}
		return "", se
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("meter_id", a.MeterID).Str("op", "submit").
			Int("attempt", res.Attempts).Dur("retry_in", wait).Msg("transient submission failure")
	}

	tx, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.opts.MaxAttempts),
		backoff.WithNotify(notify),
	)
	if err != nil {
		var se *domain.SubmissionError
		if !errors.As(err, &se) {
			// context cancelled between attempts
			se = &domain.SubmissionError{Kind: domain.Transient, MeterID: a.MeterID, Cause: err}
		}
		p.finish(ctx, a, res, se, start)
		return res, se
	}

	res.TxID = tx
	p.finish(ctx, a, res, nil, start)
	return res, nil
}

func (p *Pipeline) finish(ctx context.Context, a domain.AttestedReading, res Result, err error, start time.Time) {
	rec := domain.SubmissionRecord{
		ID:          uuid.NewString(),
		MeterID:     a.MeterID,
		ObservedAt:  a.ObservedAt,
		Value:       a.Value,
		AmountMilli: res.AmountMilli,
		Kind:        a.Kind,
		Source:      a.Source,
		Status:      domain.StatusAccepted,
		TxID:        res.TxID,
		Attempts:    res.Attempts,
		CreatedAt:   time.Now().UTC(),
	}

	switch {
	case err == nil:
		log.Info().Str("meter_id", a.MeterID).Str("tx_id", res.TxID).Int64("amount_milli", res.AmountMilli).
			Int("attempts", res.Attempts).Str("source", string(a.Source)).Msg("reading submitted")
	case domain.IsRejected(err):
		rec.Status = domain.StatusRejected
		rec.Error = err.Error()
		log.Error().Err(err).Str("meter_id", a.MeterID).Str("op", "submit").Msg("reading rejected by oracle")
	default:
		rec.Status = domain.StatusFailed
		rec.Error = err.Error()
		log.Error().Err(err).Str("meter_id", a.MeterID).Str("op", "submit").
			Int("attempts", res.Attempts).Msg("reading submission failed")
	}
	p.metrics.Submitted(rec.Status, res.Attempts, time.Since(start).Seconds())

	if p.recorder == nil {
		return
	}
	// the audit write outlives a cancelled caller
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if rerr := p.recorder.RecordSubmission(rctx, a, rec); rerr != nil {
		log.Warn().Err(rerr).Str("meter_id", a.MeterID).Str("op", "record").Msg("submission audit write failed")
	}
}
