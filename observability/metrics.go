package observability

import (
	"time"
	"whiteboard-lab/domain"
	"whiteboard-lab/protocol"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "whiteboard"

// Metrics groups the hub's Prometheus collectors.
// A nil *Metrics is valid and records nothing, which keeps unit tests free of registries.
type Metrics struct {
	EventsReceived    *prometheus.CounterVec
	EventsRelayed     *prometheus.CounterVec
	DeliveryFailures  *prometheus.CounterVec
	DecodeErrors      *prometheus.CounterVec
	HandshakeFailures prometheus.Counter
	BroadcastDuration *prometheus.HistogramVec

	Participants      prometheus.Gauge
	DatagramAddresses prometheus.Gauge

	ProcessRSS prometheus.Gauge
	ProcessCPU prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Decoded events received, by channel and kind",
		}, []string{"channel", "kind"}),
		EventsRelayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_relayed_total",
			Help:      "Successful per-target deliveries, by channel",
		}, []string{"channel"}),
		DeliveryFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Failed per-target deliveries, by channel",
		}, []string{"channel"}),
		DecodeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Discarded malformed messages, by channel",
		}, []string{"channel"}),
		HandshakeFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_failures_total",
			Help:      "Reliable connections closed before a valid hello",
		}),
		BroadcastDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_duration_seconds",
			Help:      "Time to fan one event out to every target",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"channel"}),
		Participants: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants",
			Help:      "Registered participants",
		}),
		DatagramAddresses: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "datagram_addresses",
			Help:      "Known best-effort addresses",
		}),
		ProcessRSS: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_rss_bytes",
			Help:      "Resident set size of the hub process",
		}),
		ProcessCPU: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_cpu_percent",
			Help:      "CPU usage of the hub process",
		}),
	}
}

func (m *Metrics) IncReceived(ch domain.Channel, kind protocol.Kind) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(ch.String(), string(kind)).Inc()
}

func (m *Metrics) IncDecodeError(ch domain.Channel) {
	if m == nil {
		return
	}
	m.DecodeErrors.WithLabelValues(ch.String()).Inc()
}

func (m *Metrics) IncHandshakeFailure() {
	if m == nil {
		return
	}
	m.HandshakeFailures.Inc()
}

func (m *Metrics) ObserveBroadcast(ch domain.Channel, delivered, failed int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.EventsRelayed.WithLabelValues(ch.String()).Add(float64(delivered))
	m.DeliveryFailures.WithLabelValues(ch.String()).Add(float64(failed))
	m.BroadcastDuration.WithLabelValues(ch.String()).Observe(elapsed.Seconds())
}

func (m *Metrics) SetPopulation(participants, addresses int) {
	if m == nil {
		return
	}
	m.Participants.Set(float64(participants))
	m.DatagramAddresses.Set(float64(addresses))
}

func (m *Metrics) SetProcess(rss uint64, cpuPercent float64) {
	if m == nil {
		return
	}
	m.ProcessRSS.Set(float64(rss))
	m.ProcessCPU.Set(cpuPercent)
}
