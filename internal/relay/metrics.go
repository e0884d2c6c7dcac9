package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay-own observability (distinct from the per-host metrics wire
// message computed agent-side and relayed through to browsers).
var (
	connectedAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connected_agents",
		Help: "Number of agent websocket connections currently open.",
	})
	connectedBrowsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connected_browsers",
		Help: "Number of browser websocket connections currently open.",
	})
	tierLimitHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_tier_limit_hits_total",
		Help: "Creation requests rejected by tier gating, by pane type.",
	}, []string{"pane_type", "tier"})
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_request_duration_seconds",
		Help:    "Time from a browser request envelope to its routed response.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})
)
