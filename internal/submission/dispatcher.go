package submission

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/domain"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/metrics"
)

// Policy decides what Enqueue does when the queue is full.
type Policy string

const (
	PolicyBlock      Policy = "block"
	PolicyDropOldest Policy = "drop_oldest"
)

type Handler func(ctx context.Context, r domain.MeterReading) error

// Dispatcher decouples push delivery from submission: producers enqueue into
// a bounded channel and a fixed set of workers drain it.
type Dispatcher struct {
	queue   chan domain.MeterReading
	policy  Policy
	workers int
	handle  Handler
	metrics *metrics.Metrics
	onFatal func(error)

	done      chan struct{}
	stopOnce  sync.Once
	fatalOnce sync.Once
	wg        sync.WaitGroup
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// OnFatal registers a callback run once, on its own goroutine, when a
// handler reports a fatal submission error.
func OnFatal(fn func(error)) DispatcherOption {
	return func(d *Dispatcher) { d.onFatal = fn }
}

func NewDispatcher(size, workers int, policy Policy, handle Handler, opts ...DispatcherOption) *Dispatcher {
	if size <= 0 {
		size = 1
	}
	if workers <= 0 {
		workers = 1
	}
	if policy != PolicyDropOldest {
		policy = PolicyBlock
	}
	d := &Dispatcher{
		queue:   make(chan domain.MeterReading, size),
		policy:  policy,
		workers: workers,
		handle:  handle,
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case <-ctx.Done():
			return
		case r := <-d.queue:
			d.metrics.SetQueueLength(len(d.queue))
			if d.stopped() {
				d.drop(r, "stopped")
				continue
			}
			if err := d.handle(ctx, r); domain.IsFatal(err) {
				d.fatal(err)
			}
		}
	}
}

func (d *Dispatcher) fatal(err error) {
	d.fatalOnce.Do(func() {
		log.Error().Err(err).Str("op", "dispatch").Msg("fatal submission error, halting push path")
		d.Stop()
		if d.onFatal != nil {
			go d.onFatal(err)
		}
	})
}

// Enqueue hands a reading to the workers without waiting for submission.
// It returns false when the reading was not queued.
func (d *Dispatcher) Enqueue(r domain.MeterReading) bool {
	if d.stopped() {
		d.drop(r, "stopped")
		return false
	}

	if d.policy == PolicyDropOldest {
		for {
			select {
			case d.queue <- r:
				d.metrics.SetQueueLength(len(d.queue))
				return true
			default:
			}
			select {
			case old := <-d.queue:
				d.drop(old, "queue_full")
			default:
			}
		}
	}

	select {
	case d.queue <- r:
		d.metrics.SetQueueLength(len(d.queue))
		return true
	case <-d.done:
		d.drop(r, "stopped")
		return false
	}
}

func (d *Dispatcher) drop(r domain.MeterReading, reason string) {
	d.metrics.PushDropped(reason)
	log.Warn().Str("meter_id", r.MeterID).Int64("observed_at", r.ObservedAt).
		Str("reason", reason).Msg("push reading dropped")
}

func (d *Dispatcher) Len() int { return len(d.queue) }

func (d *Dispatcher) stopped() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Stop refuses new work. Handlers already running finish; queued readings
// are dropped.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
}

// Close stops the dispatcher and waits for in-flight handlers.
func (d *Dispatcher) Close() {
	d.Stop()
	d.wg.Wait()
}
