package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the option market service.
type Metrics struct {
	// --- Market operations ---
	OpsApplied  *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec

	// --- Market state ---
	CachedCost      prometheus.Gauge
	PoolEquity      prometheus.Gauge
	CollateralHeld  prometheus.Gauge
	LPShareSupply   prometheus.Gauge
	TapeSequence    prometheus.Gauge
	InvariantBreach prometheus.Counter

	// --- Ingestion ---
	CommandsReceived  *prometheus.CounterVec
	CommandsDuplicate prometheus.Counter
	CommandsMalformed prometheus.Counter

	// --- Tape persistence & publishing ---
	TapeRecordsWritten prometheus.Counter
	TapeWriteErrors    prometheus.Counter
	TapeBatchSize      prometheus.Histogram
	TapePublished      *prometheus.CounterVec
	TapePublishErrors  prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
// Pass prometheus.DefaultRegisterer in production, a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OpsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "optionladder_ops_applied_total",
			Help: "State-changing operations applied, by operation type.",
		}, []string{"op"}),

		OpsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "optionladder_ops_rejected_total",
			Help: "Operations rejected, by operation type and reason.",
		}, []string{"op", "reason"}),

		OpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "optionladder_op_duration_seconds",
			Help:    "Operation execution time, by operation type.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"op"}),

		CachedCost: factory.NewGauge(prometheus.GaugeOpts{
			Name: "optionladder_cached_cost",
			Help: "Current cached cost of all outstanding positions (option liability).",
		}),

		PoolEquity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "optionladder_pool_equity",
			Help: "Collateral value attributable to liquidity providers.",
		}),

		CollateralHeld: factory.NewGauge(prometheus.GaugeOpts{
			Name: "optionladder_collateral_held",
			Help: "Collateral currently held by the market vault.",
		}),

		LPShareSupply: factory.NewGauge(prometheus.GaugeOpts{
			Name: "optionladder_lp_share_supply",
			Help: "Outstanding LP shares (doubles as the LMSR liquidity parameter).",
		}),

		TapeSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "optionladder_tape_sequence",
			Help: "Last tape sequence assigned by the engine.",
		}),

		InvariantBreach: factory.NewCounter(prometheus.CounterOpts{
			Name: "optionladder_invariant_breach_total",
			Help: "Times the held >= cost + equity solvency check failed after an operation.",
		}),

		CommandsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "optionladder_commands_received_total",
			Help: "Commands received over NATS, by command type.",
		}, []string{"type"}),

		CommandsDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Name: "optionladder_commands_duplicate_total",
			Help: "Commands dropped by the idempotency LRU.",
		}),

		CommandsMalformed: factory.NewCounter(prometheus.CounterOpts{
			Name: "optionladder_commands_malformed_total",
			Help: "Commands that failed to parse.",
		}),

		TapeRecordsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "optionladder_tape_records_written_total",
			Help: "Tape records written to Postgres.",
		}),

		TapeWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "optionladder_tape_write_errors_total",
			Help: "Failed tape batch writes.",
		}),

		TapeBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "optionladder_tape_batch_size",
			Help:    "Records per persisted tape batch.",
			Buckets: prometheus.LinearBuckets(1, 10, 10),
		}),

		TapePublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "optionladder_tape_published_total",
			Help: "Tape records published to NATS, by record type.",
		}, []string{"type"}),

		TapePublishErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "optionladder_tape_publish_errors_total",
			Help: "Failed NATS publishes of tape records.",
		}),
	}
}
