package lib

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "mictcp"

// Metrics are the transport counters of one Stack.
type Metrics struct {
	SegmentsSent     *prometheus.CounterVec
	SegmentsReceived *prometheus.CounterVec
	SegmentsDropped  *prometheus.CounterVec
	Retransmissions  prometheus.Counter
	ToleratedLosses  prometheus.Counter
	AckTimeouts      prometheus.Counter
	Handshakes       *prometheus.CounterVec
	WindowLosses     prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SegmentsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "segments_sent_total",
			Help:      "Segments handed to the IP layer, by kind.",
		}, []string{"kind"}),
		SegmentsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "segments_received_total",
			Help:      "Segments decoded by the delivery loop, by kind.",
		}, []string{"kind"}),
		SegmentsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "segments_dropped_total",
			Help:      "Inbound segments discarded, by reason.",
		}, []string{"reason"}),
		Retransmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "retransmissions_total",
			Help:      "Data segments sent again because recent loss exceeded the tolerance.",
		}),
		ToleratedLosses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tolerated_losses_total",
			Help:      "Data segments given up on without retransmission.",
		}),
		AckTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ack_timeouts_total",
			Help:      "Acknowledgment waits that timed out.",
		}),
		Handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "handshakes_total",
			Help:      "Completed or failed handshakes, by side and result.",
		}, []string{"side", "result"}),
		WindowLosses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "loss_window_losses",
			Help:      "Timed out attempts currently in the loss window.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.SegmentsSent,
			m.SegmentsReceived,
			m.SegmentsDropped,
			m.Retransmissions,
			m.ToleratedLosses,
			m.AckTimeouts,
			m.Handshakes,
			m.WindowLosses,
		)
	}
	return m
}

func segmentKind(s *Segment) string {
	switch {
	case s.IsSYN() && s.IsACK():
		return "synack"
	case s.IsSYN():
		return "syn"
	case s.IsACK():
		return "ack"
	default:
		return "data"
	}
}
