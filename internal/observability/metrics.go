package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the closure engine. A nil
// *Metrics is valid everywhere; callers guard with `if m != nil`.
type Metrics struct {
	// --- Archival pipeline ---
	ArchiveRuns          *prometheus.CounterVec // status: success|partial|failed|rejected
	ArchiveDuration      prometheus.Histogram
	ParticipantsArchived prometheus.Counter
	ParticipantsFailed   prometheus.Counter
	ParticipantRetries   prometheus.Counter
	SnapshotsWritten     prometheus.Counter
	SnapshotFailures     prometheus.Counter

	// --- Cleanup pipeline ---
	CleanupRuns        *prometheus.CounterVec // status: success|failed|rejected
	CleanupDuration    prometheus.Histogram
	TombstonedRows     prometheus.Counter
	DeletedLiveRows    prometheus.Counter
	ValidationFailures *prometheus.CounterVec // reason

	// --- Locks ---
	LockContention     *prometheus.CounterVec // op
	LocksForceReleased prometheus.Counter

	// --- Audit ---
	AuditAppends *prometheus.CounterVec // event
	AuditErrors  prometheus.Counter

	// --- Notifications ---
	NotifyPublished prometheus.Counter
	NotifyDropped   prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	// Batch runs are seconds-to-minutes, not microseconds.
	runBuckets := []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

	return &Metrics{
		ArchiveRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cierre_archive_runs_total",
			Help: "Archival batch runs by terminal status",
		}, []string{"status"}),

		ArchiveDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "cierre_archive_duration_seconds",
			Help:    "Wall-clock duration of one archival batch",
			Buckets: runBuckets,
		}),

		ParticipantsArchived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cierre_participants_archived_total",
			Help: "Participants successfully archived",
		}),

		ParticipantsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cierre_participants_failed_total",
			Help: "Participants that exhausted retries",
		}),

		ParticipantRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cierre_participant_retries_total",
			Help: "Retry attempts across all participant units",
		}),

		SnapshotsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cierre_snapshots_written_total",
			Help: "Period snapshots written",
		}),

		SnapshotFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cierre_snapshot_failures_total",
			Help: "Period snapshot writes that failed (non-fatal)",
		}),

		CleanupRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cierre_cleanup_runs_total",
			Help: "Cleanup runs by terminal status",
		}, []string{"status"}),

		CleanupDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "cierre_cleanup_duration_seconds",
			Help:    "Wall-clock duration of one cleanup run",
			Buckets: runBuckets,
		}),

		TombstonedRows: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cierre_tombstoned_rows_total",
			Help: "Live entries copied into the tombstone table",
		}),

		DeletedLiveRows: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cierre_deleted_live_rows_total",
			Help: "Live entries deleted after tombstoning",
		}),

		ValidationFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cierre_cleanup_validation_failures_total",
			Help: "Cleanup gate refusals by reason",
		}, []string{"reason"}),

		LockContention: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cierre_lock_contention_total",
			Help: "Acquire attempts that lost to an existing ACTIVE lock",
		}, []string{"op"}),

		LocksForceReleased: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cierre_locks_force_released_total",
			Help: "Stuck locks released by operator action",
		}),

		AuditAppends: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cierre_audit_appends_total",
			Help: "Audit entries appended",
		}, []string{"event"}),

		AuditErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cierre_audit_errors_total",
			Help: "Audit appends that failed",
		}),

		NotifyPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cierre_notifications_published_total",
			Help: "Period-changed notifications published",
		}),

		NotifyDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cierre_notifications_dropped_total",
			Help: "Period-changed notifications that failed to publish (best-effort)",
		}),
	}
}
