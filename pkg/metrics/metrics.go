// Package metrics exposes the node's Prometheus instrumentation: a
// small counter/gauge set for session state, gossip traffic, and
// fetch/announce durations.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups every collector the node registers.
type Metrics struct {
	SessionsByState   *prometheus.GaugeVec
	GossipMessagesIn  prometheus.Counter
	GossipMessagesOut prometheus.Counter
	FetchDuration     prometheus.Histogram
	AnnounceDuration  prometheus.Histogram
	ReconnectsTotal   prometheus.Counter
}

// New creates and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "driftmesh",
			Subsystem: "sessions",
			Name:      "by_state",
			Help:      "Number of sessions currently in each connection state.",
		}, []string{"state"}),
		GossipMessagesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "driftmesh",
			Subsystem: "gossip",
			Name:      "messages_in_total",
			Help:      "Inventory messages received from peers.",
		}),
		GossipMessagesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "driftmesh",
			Subsystem: "gossip",
			Name:      "messages_out_total",
			Help:      "Inventory messages sent to peers.",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "driftmesh",
			Subsystem: "sync",
			Name:      "fetch_duration_seconds",
			Help:      "Time spent on a single seed's fetch attempt.",
			Buckets:   prometheus.DefBuckets,
		}),
		AnnounceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "driftmesh",
			Subsystem: "sync",
			Name:      "announce_duration_seconds",
			Help:      "Time spent waiting for a single seed's announce confirmation.",
			Buckets:   prometheus.DefBuckets,
		}),
		ReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "driftmesh",
			Subsystem: "sessions",
			Name:      "reconnects_total",
			Help:      "Connect commands emitted by the reconnection policy.",
		}),
	}
	reg.MustRegister(
		m.SessionsByState,
		m.GossipMessagesIn,
		m.GossipMessagesOut,
		m.FetchDuration,
		m.AnnounceDuration,
		m.ReconnectsTotal,
	)
	return m
}
