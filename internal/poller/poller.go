package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/domain"
)

const DefaultTimeout = 10 * time.Second

// maxBody caps how much of a meter response is read.
const maxBody = 1 << 20

type Poller struct {
	http    *http.Client
	timeout time.Duration
	now     func() time.Time
}

type Option func(*Poller)

func WithHTTPClient(c *http.Client) Option {
	return func(p *Poller) { p.http = c }
}

func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

func New(timeout time.Duration, opts ...Option) *Poller {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	p := &Poller{
		http:    &http.Client{},
		timeout: timeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type pullPayload struct {
	Value *float64 `json:"value"`
}

// PollOne performs a single read against the meter's endpoint. It never
// retries; every failure comes back as *domain.AcquisitionError.
func (p *Poller) PollOne(ctx context.Context, cfg domain.MeterConfig) (domain.MeterReading, error) {
	fail := func(err error) (domain.MeterReading, error) {
		return domain.MeterReading{}, &domain.AcquisitionError{MeterID: cfg.MeterID, Cause: err}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Endpoint, nil)
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Accept", "application/json")
	if cfg.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.AccessToken)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(fmt.Errorf("unexpected status %s", resp.Status))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fail(fmt.Errorf("read payload: %w", err))
	}
	var body pullPayload
	if err := json.Unmarshal(raw, &body); err != nil {
		return fail(fmt.Errorf("decode payload: %w", err))
	}
	if body.Value == nil {
		return fail(errors.New("payload has no value"))
	}
	if *body.Value < 0 {
		return fail(fmt.Errorf("negative value %v", *body.Value))
	}

	reading := domain.MeterReading{
		MeterID:    cfg.MeterID,
		Value:      *body.Value,
		Kind:       domain.KindFor(cfg.MeterType),
		ObservedAt: p.now().Unix(),
		Unit:       domain.UnitKWh,
		Source:     domain.SourcePoll,
	}
	log.Debug().Str("meter_id", cfg.MeterID).Float64("value_kwh", reading.Value).
		Str("kind", string(reading.Kind)).Msg("meter read")
	return reading, nil
}
