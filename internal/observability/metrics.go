// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the watchdog.
type Metrics struct {
	// Event pipeline
	EventsProcessed  *prometheus.CounterVec
	EventErrors      *prometheus.CounterVec
	CatchupLastBlock *prometheus.GaugeVec
	CaughtUp         *prometheus.GaugeVec
	ArchiveDropped   prometheus.Counter

	// Protocol actions
	ClaimsSubmitted      *prometheus.CounterVec
	ChallengesSubmitted  *prometheus.CounterVec
	WithdrawalsSubmitted *prometheus.CounterVec
	FraudDetected        *prometheus.CounterVec
	OutcomeDivergences   prometheus.Counter
	PartialDefenses      prometheus.Counter

	// Economics
	RewardsSkipped *prometheus.CounterVec

	// Infrastructure
	RPCCallLatency  *prometheus.HistogramVec
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
	LockWaitSeconds *prometheus.HistogramVec
	AdminAlerts     prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "counterstake_watchdog"
	}

	return &Metrics{
		EventsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "processed_total",
			Help:      "Protocol events applied, by network and kind",
		}, []string{"network", "kind"}),
		EventErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "errors_total",
			Help:      "Event application errors, by network",
		}, []string{"network"}),
		CatchupLastBlock: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "last_block",
			Help:      "Last fully processed block per network",
		}, []string{"network"}),
		CaughtUp: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "caught_up",
			Help:      "1 once the network finished its catch-up replay",
		}, []string{"network"}),
		ArchiveDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "archive_dropped_total",
			Help:      "Events dropped by the archive sink under backpressure",
		}),

		ClaimsSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "claims_total",
			Help:      "Claims submitted on behalf of transfer senders",
		}, []string{"network"}),
		ChallengesSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "challenges_total",
			Help:      "Counterstakes submitted against claims",
		}, []string{"network"}),
		WithdrawalsSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "withdrawals_total",
			Help:      "Withdrawal requests submitted for settled claims",
		}, []string{"network"}),
		FraudDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "fraud_detected_total",
			Help:      "Claims judged fraudulent after matching failed",
		}, []string{"network"}),
		OutcomeDivergences: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "outcome_divergences_total",
			Help:      "Claims whose on-chain outcome contradicts the local verdict",
		}),
		PartialDefenses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "partial_defenses_total",
			Help:      "Counterstakes capped below the required amount by the exposure limit",
		}),

		RewardsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "economics",
			Name:      "rewards_skipped_total",
			Help:      "Claimable transfers skipped, by reason",
		}, []string{"reason"}),

		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "infra",
			Name:      "rpc_call_seconds",
			Help:      "RPC call latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"network", "method"}),
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "infra",
			Name:      "db_query_seconds",
			Help:      "Database query latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "infra",
			Name:      "db_query_errors_total",
			Help:      "Database query errors",
		}, []string{"operation"}),
		LockWaitSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "infra",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting on named locks",
			Buckets:   []float64{.001, .01, .1, 1, 10, 60, 300},
		}, []string{"lock"}),
		AdminAlerts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "infra",
			Name:      "admin_alerts_total",
			Help:      "Operator notifications sent",
		}),
	}
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
