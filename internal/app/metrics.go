package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type RelayMetrics struct {
	Connections prometheus.Gauge
	Members     prometheus.Gauge
	Messages    *prometheus.CounterVec
	Dropped     prometheus.Counter
	Kicked      prometheus.Counter
}

// NewRelayMetrics registers on reg; a nil reg yields unregistered collectors.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	f := promauto.With(reg)
	return &RelayMetrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "voicemesh", Subsystem: "relay", Name: "connections",
			Help: "Open signaling connections.",
		}),
		Members: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "voicemesh", Subsystem: "relay", Name: "room_members",
			Help: "Room memberships across all rooms.",
		}),
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicemesh", Subsystem: "relay", Name: "messages_total",
			Help: "Signaling messages handled, by type.",
		}, []string{"type"}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "voicemesh", Subsystem: "relay", Name: "dropped_total",
			Help: "Messages dropped on full send queues.",
		}),
		Kicked: f.NewCounter(prometheus.CounterOpts{
			Namespace: "voicemesh", Subsystem: "relay", Name: "kicked_total",
			Help: "Connections kicked by the backpressure policy.",
		}),
	}
}
