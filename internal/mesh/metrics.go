package mesh

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Peers        prometheus.Gauge
	Negotiations *prometheus.CounterVec
	Restarts     prometheus.Counter
	Removed      *prometheus.CounterVec
}

// NewMetrics registers on reg; a nil reg yields unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Peers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "voicemesh", Subsystem: "mesh", Name: "peers",
			Help: "Remote peers currently tracked.",
		}),
		Negotiations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicemesh", Subsystem: "mesh", Name: "negotiations_total",
			Help: "Offer/answer exchanges by step and result.",
		}, []string{"step", "result"}),
		Restarts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "voicemesh", Subsystem: "mesh", Name: "ice_restarts_total",
			Help: "ICE restarts attempted after a failed connection.",
		}),
		Removed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicemesh", Subsystem: "mesh", Name: "peers_removed_total",
			Help: "Peers torn down, by reason.",
		}, []string{"reason"}),
	}
}
