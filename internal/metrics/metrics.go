// Package metrics exposes the gateway's Prometheus collectors as a process-wide singleton.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway and the supervisor
type Metrics struct {
	// RPC gateway
	RPCAttempts         *prometheus.CounterVec
	RPCLatency          *prometheus.HistogramVec
	ExhaustedFallbacks  *prometheus.CounterVec
	EndpointSuccessRate *prometheus.GaugeVec

	// Health monitor
	HealthRatio   *prometheus.GaugeVec
	HealthTier    prometheus.Gauge
	PoolReachable *prometheus.GaugeVec
	HealthCycles  *prometheus.CounterVec

	// Process supervisor
	MiningRunning     *prometheus.GaugeVec
	MiningStarts      *prometheus.CounterVec
	MiningExits       *prometheus.CounterVec
	MiningOutputLines *prometheus.CounterVec

	// Event broadcaster
	Subscribers        prometheus.Gauge
	SubscribersDropped prometheus.Counter
	HubResubscribes    prometheus.Counter
	HistoryWriteErrors prometheus.Counter
}

var (
	metrics     *Metrics
	metricsOnce sync.Once
)

// Get returns the singleton Metrics instance
func Get() *Metrics {
	metricsOnce.Do(func() {
		metrics = newMetrics()
	})
	return metrics
}

func newMetrics() *Metrics {
	return &Metrics{
		RPCAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rpc_attempts_total",
			Help: "Single endpoint attempts by outcome (success, transport_error, protocol_error)",
		}, []string{"coin", "network", "endpoint", "outcome"}),
		RPCLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_rpc_attempt_duration_seconds",
			Help:    "Latency of single endpoint attempts",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"coin", "network"}),
		ExhaustedFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_fallback_exhausted_total",
			Help: "Requests for which every candidate endpoint failed",
		}, []string{"coin", "network", "op"}),
		EndpointSuccessRate: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_endpoint_success_ratio",
			Help: "Lifetime success ratio of each endpoint (0-1)",
		}, []string{"coin", "network", "endpoint"}),

		HealthRatio: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_health_ratio",
			Help: "Success ratio of the last health cycle by scope (rpc, pool, overall)",
		}, []string{"scope"}),
		HealthTier: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_health_tier",
			Help: "Health tier of the last cycle: 0=healthy, 1=degraded, 2=impaired, 3=critical, -1=nothing measured",
		}),
		PoolReachable: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_pool_reachable",
			Help: "Whether a mining pool accepted a TCP connection in the last cycle",
		}, []string{"coin", "address"}),
		HealthCycles: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_health_cycles_total",
			Help: "Completed health cycles by kind (liveness, sweep)",
		}, []string{"kind"}),

		MiningRunning: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "supervisor_mining_running",
			Help: "1 while a mining process for the coin is live",
		}, []string{"coin"}),
		MiningStarts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "supervisor_mining_starts_total",
			Help: "Mining processes spawned",
		}, []string{"coin"}),
		MiningExits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "supervisor_mining_exits_total",
			Help: "Mining process exits by reason (manual, crashed)",
		}, []string{"coin", "reason"}),
		MiningOutputLines: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "supervisor_mining_output_lines_total",
			Help: "Output lines captured from mining processes",
		}, []string{"coin"}),

		Subscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "events_subscribers",
			Help: "Currently connected event subscribers",
		}),
		SubscribersDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "events_subscribers_dropped_total",
			Help: "Subscribers disconnected because their buffer was full",
		}),
		HubResubscribes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ws_hub_resubscribes_total",
			Help: "Times the websocket hub fell behind and resubscribed",
		}),
		HistoryWriteErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "history_write_errors_total",
			Help: "Failed writes to the history store",
		}),
	}
}

// TierValue maps a tier name onto the gauge encoding.
func TierValue(tier string) float64 {
	switch tier {
	case "healthy":
		return 0
	case "degraded":
		return 1
	case "impaired":
		return 2
	case "unknown":
		return -1
	default:
		return 3
	}
}
