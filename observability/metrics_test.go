package observability

import (
	"testing"
	"time"
	"whiteboard-lab/domain"
	"whiteboard-lab/protocol"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordsPerChannel(t *testing.T) {
	req := require.New(t)
	m := NewMetrics(prometheus.NewRegistry())

	m.IncReceived(domain.Reliable, protocol.KindChat)
	m.IncReceived(domain.BestEffort, protocol.KindDraw)
	m.IncReceived(domain.BestEffort, protocol.KindDraw)
	m.IncDecodeError(domain.BestEffort)
	m.ObserveBroadcast(domain.Reliable, 3, 1, 2*time.Millisecond)

	req.Equal(1.0, testutil.ToFloat64(m.EventsReceived.WithLabelValues("reliable", "chat")))
	req.Equal(2.0, testutil.ToFloat64(m.EventsReceived.WithLabelValues("best_effort", "draw")))
	req.Equal(1.0, testutil.ToFloat64(m.DecodeErrors.WithLabelValues("best_effort")))
	req.Equal(3.0, testutil.ToFloat64(m.EventsRelayed.WithLabelValues("reliable")))
	req.Equal(1.0, testutil.ToFloat64(m.DeliveryFailures.WithLabelValues("reliable")))
	req.Equal(1, testutil.CollectAndCount(m.BroadcastDuration))
}

func TestMetrics_Gauges(t *testing.T) {
	req := require.New(t)
	m := NewMetrics(prometheus.NewRegistry())

	m.SetPopulation(4, 7)
	m.SetProcess(1<<20, 12.5)
	m.IncHandshakeFailure()

	req.Equal(4.0, testutil.ToFloat64(m.Participants))
	req.Equal(7.0, testutil.ToFloat64(m.DatagramAddresses))
	req.Equal(float64(1<<20), testutil.ToFloat64(m.ProcessRSS))
	req.Equal(12.5, testutil.ToFloat64(m.ProcessCPU))
	req.Equal(1.0, testutil.ToFloat64(m.HandshakeFailures))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	require.NotPanics(t, func() {
		m.IncReceived(domain.Reliable, protocol.KindChat)
		m.IncDecodeError(domain.Reliable)
		m.IncHandshakeFailure()
		m.ObserveBroadcast(domain.BestEffort, 1, 0, time.Millisecond)
		m.SetPopulation(1, 1)
		m.SetProcess(1, 1)
	})
}
