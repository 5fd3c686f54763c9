package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/domain"
)

// Metrics holds the bridge's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	readings       *prometheus.CounterVec
	acquisitionErr *prometheus.CounterVec
	signingErr     prometheus.Counter
	submissions    *prometheus.CounterVec
	attempts       prometheus.Counter
	submitLatency  prometheus.Histogram
	pushDropped    *prometheus.CounterVec
	queueLength    prometheus.Gauge
	cycles         prometheus.Counter
	running        prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meter_readings_acquired_total",
			Help: "Readings obtained from meters, by source adapter.",
		}, []string{"source"}),
		acquisitionErr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meter_acquisition_errors_total",
			Help: "Failed meter reads, by meter.",
		}, []string{"meter_id"}),
		signingErr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meter_signing_errors_total",
			Help: "Readings dropped because no attestation could be produced.",
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_submissions_total",
			Help: "Submission outcomes, by status.",
		}, []string{"status"}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oracle_submission_attempts_total",
			Help: "Individual oracle calls including retries.",
		}),
		submitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oracle_submit_latency_seconds",
			Help:    "Wall time of a submission including retries.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		pushDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "push_messages_dropped_total",
			Help: "Push messages dropped before submission, by reason.",
		}, []string{"reason"}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "push_queue_length",
			Help: "Readings waiting in the push handoff queue.",
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_cycles_total",
			Help: "Completed poll cycles.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "monitor_running",
			Help: "1 while the monitoring loop is running.",
		}),
	}

	reg.MustRegister(m.readings, m.acquisitionErr, m.signingErr, m.submissions, m.attempts,
		m.submitLatency, m.pushDropped, m.queueLength, m.cycles, m.running)
	return m
}

func (m *Metrics) ReadingAcquired(src domain.Source) {
	if m != nil {
		m.readings.WithLabelValues(string(src)).Inc()
	}
}

func (m *Metrics) AcquisitionFailed(meterID string) {
	if m != nil {
		m.acquisitionErr.WithLabelValues(meterID).Inc()
	}
}

func (m *Metrics) SigningFailed() {
	if m != nil {
		m.signingErr.Inc()
	}
}

func (m *Metrics) Submitted(status domain.SubmissionStatus, attempts int, seconds float64) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(string(status)).Inc()
	m.attempts.Add(float64(attempts))
	m.submitLatency.Observe(seconds)
}

func (m *Metrics) PushDropped(reason string) {
	if m != nil {
		m.pushDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SetQueueLength(n int) {
	if m != nil {
		m.queueLength.Set(float64(n))
	}
}

func (m *Metrics) CycleCompleted() {
	if m != nil {
		m.cycles.Inc()
	}
}

func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.running.Set(1)
		return
	}
	m.running.Set(0)
}
