package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Orchestrator counters and histograms, partitioned by provider, outcome or status.

var (
	// Fanout
	FanoutJobsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "fanout",
		Name:      "jobs_created_total",
		Help:      "Total aggregation jobs created",
	})

	FanoutJobsReused = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "fanout",
		Name:      "jobs_reused_total",
		Help:      "Total ensure calls answered by a live job pointer",
	}, []string{"shape"})

	FanoutEnsureErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "fanout",
		Name:      "ensure_errors_total",
		Help:      "Total ensure calls that returned an error",
	}, []string{"kind"})

	FanoutEnsureLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "orchestrator",
		Subsystem: "fanout",
		Name:      "ensure_duration_seconds",
		Help:      "Ensure call duration including publishes",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	FanoutCombosPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "fanout",
		Name:      "combos_published_total",
		Help:      "Total integration requests submitted to the bus",
	}, []string{"provider"})

	FanoutPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "fanout",
		Name:      "publish_failures_total",
		Help:      "Total combos degraded to failure because publishing failed",
	}, []string{"provider"})

	// Tracker
	TrackerOutcomesReported = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "tracker",
		Name:      "outcomes_reported_total",
		Help:      "Total outcome reports applied to a job",
	}, []string{"outcome"})

	TrackerExpiredReports = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "tracker",
		Name:      "expired_job_reports_total",
		Help:      "Total outcome reports for jobs whose metadata already expired",
	})

	TrackerDuplicateReports = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "tracker",
		Name:      "duplicate_reports_total",
		Help:      "Total outcome reports for combos that were no longer pending",
	})

	TrackerJobsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "tracker",
		Name:      "jobs_finalized_total",
		Help:      "Total jobs that reached a terminal status",
	}, []string{"status"})

	TrackerReportLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "orchestrator",
		Subsystem: "tracker",
		Name:      "report_duration_seconds",
		Help:      "Outcome report processing duration",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})

	// Query
	QuerySnapshots = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "query",
		Name:      "snapshots_total",
		Help:      "Total snapshot reads by result",
	}, []string{"result"})

	// Consumer
	ConsumerMessagesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "consumer",
		Name:      "messages_processed_total",
		Help:      "Total outcome messages consumed from the stream",
	})

	ConsumerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "consumer",
		Name:      "errors_total",
		Help:      "Total outcome consumer errors",
	}, []string{"kind"})

	// Reaper
	ReaperSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "reaper",
		Name:      "sweeps_total",
		Help:      "Total reaper sweeps",
	})

	ReaperCombosTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "reaper",
		Name:      "combos_timed_out_total",
		Help:      "Total pending combos reported as timed out",
	})

	ReaperJobsTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "reaper",
		Name:      "jobs_timed_out_total",
		Help:      "Total jobs marked timed out wholesale",
	})

	ReaperRunningJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Subsystem: "reaper",
		Name:      "running_jobs",
		Help:      "Running jobs seen by the last sweep",
	})

	// Bus
	BusBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Subsystem: "bus",
		Name:      "breaker_state",
		Help:      "Circuit breaker state per routing key (0=closed, 1=open, 2=half-open)",
	}, []string{"routing_key"})

	BusPublishRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "bus",
		Name:      "publish_retries_total",
		Help:      "Total publish retries after transient errors",
	}, []string{"routing_key"})

	// Provider support
	ProviderSupportErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "provider",
		Name:      "support_errors_total",
		Help:      "Total chain-support collaborator failures treated as unsupported",
	}, []string{"provider", "chain"})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts delivered per channel",
	}, []string{"channel", "type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts suppressed by the cooldown window",
	}, []string{"channel", "type"})
)
