package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the pool service.
type Metrics struct {
	// --- Engine ---
	CommandsApplied  *prometheus.CounterVec
	CommandsRejected *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	Sequence         prometheus.Gauge

	// --- Settlement ---
	TickDuration       prometheus.Histogram
	AssetsSkipped      *prometheus.CounterVec
	AccountsLiquidated *prometheus.CounterVec
	MarginClamped      prometheus.Counter

	// --- Pool ---
	CustodyBalance prometheus.Gauge
	FeeSinkBalance prometheus.Gauge
	OpenInterest   *prometheus.GaugeVec

	// --- Oracle ---
	PriceUpdates      *prometheus.CounterVec
	PriceStaleDropped *prometheus.CounterVec
	PriceSequenceGaps *prometheus.CounterVec

	// --- Channel & Backpressure ---
	ProjectionDrops prometheus.Counter
	PublishDrops    prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge

	// --- Persistence ---
	PersistBatchDur     prometheus.Histogram
	PersistCommands     prometheus.Counter
	PersistErrors       *prometheus.CounterVec
	PersistLastSequence prometheus.Gauge
	ProjectionUpdateDur prometheus.Histogram

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	ReplayCommands    prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers on reg. Tests use a fresh prometheus.NewRegistry().
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}
	ioBuckets := []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

	return &Metrics{
		CommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_pool_commands_applied_total",
			Help: "Commands successfully applied by the engine",
		}, []string{"command"}),

		CommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_pool_commands_rejected_total",
			Help: "Commands rejected by the engine",
		}, []string{"command", "reason"}),

		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_pool_command_duration_seconds",
			Help:    "Time to apply a single command",
			Buckets: latencyBuckets,
		}, []string{"command"}),

		Sequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_pool_sequence",
			Help: "Last applied command sequence",
		}),

		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_pool_tick_duration_seconds",
			Help:    "Duration of one settlement cycle",
			Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),

		AssetsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_pool_settlement_assets_skipped_total",
			Help: "Assets skipped by mark-to-market for lack of an oracle price",
		}, []string{"asset"}),

		AccountsLiquidated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_pool_accounts_liquidated_total",
			Help: "Accounts fully liquidated or unwound",
		}, []string{"kind"}),

		MarginClamped: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_pool_margin_clamped_total",
			Help: "Margin entries clamped to zero by mark-to-market",
		}),

		CustodyBalance: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_pool_custody_balance",
			Help: "Pool custodial account balance",
		}),

		FeeSinkBalance: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_pool_fee_sink_balance",
			Help: "Treasury fee sink balance",
		}),

		OpenInterest: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_pool_open_interest",
			Help: "Aggregate long and short exposure per asset after matching",
		}, []string{"asset", "side"}),

		PriceUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_pool_price_updates_total",
			Help: "Oracle price updates accepted",
		}, []string{"asset"}),

		PriceStaleDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_pool_price_stale_total",
			Help: "Oracle price updates dropped as stale or duplicate",
		}, []string{"asset"}),

		PriceSequenceGaps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_pool_price_sequence_gaps_total",
			Help: "Accepted oracle updates that skipped sequence numbers",
		}, []string{"asset"}),

		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_pool_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_pool_publish_drops_total",
			Help: "Notifications dropped due to full publish channel",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_pool_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"command", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_pool_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_pool_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: ioBuckets,
		}),

		PersistCommands: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_pool_persist_commands_total",
			Help: "Commands written to the command log",
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_pool_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"op"}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_pool_persist_last_sequence",
			Help: "Last persisted command sequence",
		}),

		ProjectionUpdateDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_pool_projection_update_duration_seconds",
			Help:    "Projection batch update duration",
			Buckets: ioBuckets,
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_pool_snapshot_taken_total",
			Help: "Snapshots written",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_pool_snapshot_duration_seconds",
			Help:    "Snapshot serialization and write duration",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_pool_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),

		ReplayCommands: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_pool_replay_commands_total",
			Help: "Commands replayed at startup",
		}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_pool_query_requests_total",
			Help: "API requests by method and status code",
		}, []string{"method", "code"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_pool_query_duration_seconds",
			Help:    "Query latency by method",
			Buckets: latencyBuckets,
		}, []string{"method"}),
	}
}
