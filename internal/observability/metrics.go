package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the voting tracker.
// Components accept a nil *Metrics and skip recording in that case.
type Metrics struct {
	// --- Effect stream ---
	StreamEntryDelay  prometheus.Summary
	StreamEntries     prometheus.Counter
	StreamBunches     *prometheus.CounterVec
	StreamRestarts    prometheus.Counter
	StreamCursorSaves prometheus.Counter

	// --- Jobs ---
	JobsProcessed *prometheus.CounterVec
	ParseDropped  *prometheus.CounterVec
	VotesInserted prometheus.Counter
	VotesSkipped  prometheus.Counter
	VotesClosed   prometheus.Counter

	// --- Backfill ---
	BackfillRecords prometheus.Counter

	// --- Claim-back reconciliation ---
	ClaimBackChecked  prometheus.Counter
	ClaimBackUpdated  prometheus.Counter
	ClaimBackErrors   prometheus.Counter
	ClaimBackDuration prometheus.Histogram

	// --- Snapshot ---
	SnapshotRuns     *prometheus.CounterVec
	SnapshotMarkets  prometheus.Gauge
	SnapshotDuration prometheus.Histogram

	// --- Rewards ---
	RewardRuns          *prometheus.CounterVec
	RewardMarkets       prometheus.Gauge
	RewardSplitFallback *prometheus.CounterVec
	RewardDuration      prometheus.Histogram

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	jobBuckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
	queryBuckets := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

	return &Metrics{
		StreamEntryDelay: factory.NewSummary(prometheus.SummaryOpts{
			Name:       "voting_effects_stream_receive_entry_delay_seconds",
			Help:       "Delay between creation of an entry and its receipt by the stream",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}),

		StreamEntries: factory.NewCounter(prometheus.CounterOpts{
			Name: "voting_effects_stream_processed_entries_total",
			Help: "Stream entries processed",
		}),

		StreamBunches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voting_effects_stream_dispatched_bunches_total",
			Help: "Operation bunches dispatched by kind (create, close)",
		}, []string{"kind"}),

		StreamRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "voting_effects_stream_restarts_total",
			Help: "Stream restarts after a source or handler error",
		}),

		StreamCursorSaves: factory.NewCounter(prometheus.CounterOpts{
			Name: "voting_effects_stream_cursor_saves_total",
			Help: "Cursor positions persisted",
		}),

		JobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voting_jobs_processed_total",
			Help: "Vote jobs handled by kind and outcome",
		}, []string{"kind", "outcome"}),

		ParseDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voting_parse_dropped_total",
			Help: "Ledger records dropped because they failed vote validation",
		}, []string{"kind", "reason"}),

		VotesInserted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voting_votes_inserted_total",
			Help: "Votes inserted",
		}),

		VotesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "voting_votes_duplicate_total",
			Help: "Vote inserts skipped because the balance id already exists",
		}),

		VotesClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "voting_votes_closed_total",
			Help: "Close events applied from the effect stream",
		}),

		BackfillRecords: factory.NewCounter(prometheus.CounterOpts{
			Name: "voting_backfill_records_total",
			Help: "Claimable balance records read by the backfill loader",
		}),

		ClaimBackChecked: factory.NewCounter(prometheus.CounterOpts{
			Name: "voting_claim_back_checked_total",
			Help: "Expired votes checked against operation history",
		}),

		ClaimBackUpdated: factory.NewCounter(prometheus.CounterOpts{
			Name: "voting_claim_back_updated_total",
			Help: "Votes marked as claimed back by the reconciler",
		}),

		ClaimBackErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "voting_claim_back_errors_total",
			Help: "Per-vote lookups or updates that failed and were skipped",
		}),

		ClaimBackDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voting_claim_back_batch_duration_seconds",
			Help:    "Time to reconcile one batch",
			Buckets: jobBuckets,
		}),

		SnapshotRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voting_snapshot_runs_total",
			Help: "Snapshot runs by status",
		}, []string{"status"}),

		SnapshotMarkets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voting_snapshot_markets",
			Help: "Markets in the latest snapshot",
		}),

		SnapshotDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voting_snapshot_duration_seconds",
			Help:    "Time to build and persist a snapshot",
			Buckets: jobBuckets,
		}),

		RewardRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voting_reward_runs_total",
			Help: "Reward allocation runs by status",
		}, []string{"status"}),

		RewardMarkets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voting_reward_zone_markets",
			Help: "Markets in the current reward zone",
		}),

		RewardSplitFallback: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voting_reward_split_fallback_total",
			Help: "Markets that fell back to the static venue split",
		}, []string{"reason"}),

		RewardDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voting_reward_duration_seconds",
			Help:    "Time to compute rewards",
			Buckets: jobBuckets,
		}),

		QueryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voting_query_requests_total",
			Help: "Query requests",
		}, []string{"route"}),

		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voting_query_duration_seconds",
			Help:    "Query latency",
			Buckets: queryBuckets,
		}, []string{"route"}),

		QueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voting_query_errors_total",
			Help: "Query errors",
		}, []string{"route", "code"}),
	}
}
