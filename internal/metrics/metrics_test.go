package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/domain"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ReadingAcquired(domain.SourcePoll)
	m.ReadingAcquired(domain.SourcePoll)
	m.ReadingAcquired(domain.SourcePush)
	require.Equal(t, 2.0, testutil.ToFloat64(m.readings.WithLabelValues("poll")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.readings.WithLabelValues("push")))

	m.Submitted(domain.StatusAccepted, 3, 0.2)
	require.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("accepted")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.attempts))
	require.Equal(t, 1, testutil.CollectAndCount(m.submitLatency))

	m.PushDropped("unknown_topic")
	require.Equal(t, 1.0, testutil.ToFloat64(m.pushDropped.WithLabelValues("unknown_topic")))

	m.SetQueueLength(7)
	require.Equal(t, 7.0, testutil.ToFloat64(m.queueLength))

	m.SetRunning(true)
	require.Equal(t, 1.0, testutil.ToFloat64(m.running))
	m.SetRunning(false)
	require.Equal(t, 0.0, testutil.ToFloat64(m.running))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ReadingAcquired(domain.SourcePush)
		m.AcquisitionFailed("A")
		m.SigningFailed()
		m.Submitted(domain.StatusFailed, 1, 0)
		m.PushDropped("queue_full")
		m.SetQueueLength(1)
		m.CycleCompleted()
		m.SetRunning(true)
	})
}
