package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks node RPC calls and mint outcomes.
type Metrics struct {
	RPCRequests  *prometheus.CounterVec
	RPCDuration  *prometheus.HistogramVec
	MintDuration *prometheus.HistogramVec
}

// New creates and registers chain metrics. network labels every series so
// several deployments can share a Prometheus.
func New(reg prometheus.Registerer, network string) *Metrics {
	if network == "" {
		network = "unknown"
	}
	factory := promauto.With(reg)
	labels := prometheus.Labels{"network": network}
	return &Metrics{
		RPCRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "skillproof",
			Subsystem:   "chain_rpc",
			Name:        "operations_total",
			Help:        "Count of node RPC operations.",
			ConstLabels: labels,
		}, []string{"operation", "status"}),
		RPCDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "skillproof",
			Subsystem:   "chain_rpc",
			Name:        "operation_duration_seconds",
			Help:        "Duration of node RPC operations.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, []string{"operation", "status"}),
		MintDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "skillproof",
			Subsystem:   "chain",
			Name:        "mint_duration_seconds",
			Help:        "End-to-end mint duration by outcome stage (success or failing stage).",
			Buckets:     []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
			ConstLabels: labels,
		}, []string{"stage"}),
	}
}

// Observe records a single RPC call outcome and duration.
func (m *Metrics) Observe(operation string, err error, started time.Time) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RPCRequests.WithLabelValues(operation, status).Inc()
	m.RPCDuration.WithLabelValues(operation, status).Observe(time.Since(started).Seconds())
}

// ObserveMint records how long a mint took and where it ended.
func (m *Metrics) ObserveMint(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.MintDuration.WithLabelValues(stage).Observe(d.Seconds())
}
