package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/domain"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/metrics"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/registry"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/submission"
)

// DefaultRecoveryDelay is how long the loop waits after a cycle that failed
// in an unexpected way, instead of the full interval.
const DefaultRecoveryDelay = 10 * time.Second

var ErrAlreadyRunning = errors.New("monitoring loop already running")

type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

type Source interface {
	PollOne(ctx context.Context, cfg domain.MeterConfig) (domain.MeterReading, error)
}

type Processor interface {
	Process(ctx context.Context, r domain.MeterReading) (submission.Result, error)
}

type CycleReport struct {
	Polled    int `json:"polled"`
	Submitted int `json:"submitted"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type Loop struct {
	reg           *registry.Registry
	source        Source
	proc          Processor
	metrics       *metrics.Metrics
	recoveryDelay time.Duration

	mu    sync.Mutex
	state State
	stop  chan struct{}
	last  CycleReport
}

type Option func(*Loop)

func WithRecoveryDelay(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.recoveryDelay = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

func NewLoop(reg *registry.Registry, source Source, proc Processor, opts ...Option) *Loop {
	l := &Loop{
		reg:           reg,
		source:        source,
		proc:          proc,
		recoveryDelay: DefaultRecoveryDelay,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// LastCycle returns the report of the most recent cycle, including one cut
// short by Stop.
func (l *Loop) LastCycle() CycleReport {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Start runs poll cycles every interval until Stop is called, ctx is done or
// a fatal submission error occurs. It blocks; the fatal error is returned.
func (l *Loop) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", interval)
	}

	l.mu.Lock()
	if l.state == Running {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	l.state = Running
	stop := make(chan struct{})
	l.stop = stop
	l.mu.Unlock()

	l.metrics.SetRunning(true)
	log.Info().Dur("interval", interval).Int("meters", l.reg.Len()).Msg("monitoring loop started")

	defer func() {
		l.mu.Lock()
		// a later Start may already own the loop
		if l.stop == stop && l.state == Running {
			l.state = Stopped
			close(stop)
		}
		l.mu.Unlock()
		l.metrics.SetRunning(false)
		log.Info().Msg("monitoring loop stopped")
	}()

	for {
		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		started := time.Now()
		report, err := l.runCycle(ctx, stop)

		wait := interval - time.Since(started)
		switch {
		case domain.IsFatal(err):
			log.Error().Err(err).Msg("fatal submission error, halting monitoring loop")
			return err
		case err != nil:
			log.Error().Err(err).Dur("retry_in", l.recoveryDelay).Msg("poll cycle failed unexpectedly")
			wait = l.recoveryDelay
		case report.Skipped > 0:
			log.Info().Int("polled", report.Polled).Int("submitted", report.Submitted).
				Int("failed", report.Failed).Int("skipped", report.Skipped).Msg("poll cycle stopped early")
		default:
			log.Info().Int("polled", report.Polled).Int("submitted", report.Submitted).
				Int("failed", report.Failed).Dur("next_in", wait).Msg("poll cycle complete")
		}
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-stop:
			timer.Stop()
			return nil
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Stop prevents new cycles and new polls from starting. Submissions already
// in flight complete. Calling it while stopped does nothing.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Running {
		return
	}
	l.state = Stopped
	close(l.stop)
}

// RunCycle polls, attests and submits every meter once, in registry order.
func (l *Loop) RunCycle(ctx context.Context) (CycleReport, error) {
	return l.runCycle(ctx, nil)
}

func (l *Loop) runCycle(ctx context.Context, stop <-chan struct{}) (report CycleReport, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("poll cycle panic: %v", p)
		}
	}()

	meters := l.reg.All()
	for i, cfg := range meters {
		select {
		case <-stop:
			report.Skipped = len(meters) - i
			l.setLast(report)
			return report, nil
		default:
		}

		reading, perr := l.source.PollOne(ctx, cfg)
		if perr != nil {
			report.Failed++
			l.metrics.AcquisitionFailed(cfg.MeterID)
			log.Warn().Err(perr).Str("meter_id", cfg.MeterID).Str("op", "poll").Msg("meter read failed")
			continue
		}
		report.Polled++
		l.metrics.ReadingAcquired(domain.SourcePoll)

		if _, serr := l.proc.Process(ctx, reading); serr != nil {
			report.Failed++
			if domain.IsFatal(serr) {
				return report, serr
			}
			continue
		}
		report.Submitted++
	}

	l.metrics.CycleCompleted()
	l.setLast(report)
	return report, nil
}

func (l *Loop) setLast(r CycleReport) {
	l.mu.Lock()
	l.last = r
	l.mu.Unlock()
}
