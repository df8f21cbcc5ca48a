// Package cleanup implements the destructive half of period closure.
// It runs only after archival is independently verified complete: live
// rows are copied into the tombstone table, then deleted, frozen flags
// are cleared and derived totals reset. Validation is
// all-or-nothing at the gate; destructive failure stops immediately and
// keeps every tombstone already written.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CierreLedger/internal/audit"
	"CierreLedger/internal/closure"
	"CierreLedger/internal/directory"
	"CierreLedger/internal/lock"
	"CierreLedger/internal/observability"
	"CierreLedger/internal/period"
)

// LedgerStore gives cleanup its read and destructive operations on the
// live ledger. ArchiveEntries must fully succeed before DeleteEntries
// is issued for the same window; the store keeps the copy idempotent so
// a failed run can be retried.
type LedgerStore interface {
	EntriesInWindow(ctx context.Context, start, end time.Time) ([]closure.LiveEntry, error)
	TotalsForPeriod(ctx context.Context, periodDate time.Time) ([]closure.LiveTotal, error)
	ArchiveEntries(ctx context.Context, tombstones []closure.ArchivedLiveEntry) (int, error)
	DeleteEntries(ctx context.Context, start, end time.Time) (int, error)
	DeleteTotals(ctx context.Context, periodDate time.Time) (int, error)
	ClearFrozen(ctx context.Context, periodDate time.Time) (int, error)
}

// HistoryStore is the archived side the validation gate checks against.
type HistoryStore interface {
	CountForPeriod(ctx context.Context, periodDate time.Time) (int, error)
	ArchivedParticipants(ctx context.Context, periodDate time.Time) ([]uuid.UUID, error)
}

// SnapshotStore answers the advisory snapshot-present check.
type SnapshotStore interface {
	Exists(ctx context.Context, periodDate time.Time) (bool, error)
}

// Notifier tells downstream consumers a new period started.
// Best-effort: errors are logged, never propagated.
type Notifier interface {
	PeriodChanged(ctx context.Context, closed, next period.Period) error
}

// ErrValidationFailed wraps the enumerated gate refusals.
var ErrValidationFailed = errors.New("cleanup validation failed")

// Stats summarize the period's state for readiness checks.
type Stats struct {
	LiveEntries          int  `json:"live_entries"`
	LiveParticipants     int  `json:"live_participants"`
	HistoryRecords       int  `json:"history_records"`
	ArchivedParticipants int  `json:"archived_participants"`
	SnapshotPresent      bool `json:"snapshot_present"`
}

// Readiness is the outcome of the validation gate.
type Readiness struct {
	PeriodDate time.Time   `json:"period_date"`
	PeriodType period.Type `json:"period_type"`
	CanCleanup bool        `json:"can_cleanup"`
	Errors     []string    `json:"validation_errors,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
	Stats      Stats       `json:"stats"`
}

// Report is what a successful run returns.
type Report struct {
	BatchID     uuid.UUID   `json:"batch_id"`
	PeriodDate  time.Time   `json:"period_date"`
	PeriodType  period.Type `json:"period_type"`
	Archived    int         `json:"archived"` // tombstoned live rows
	Deleted     int         `json:"deleted"`
	TotalsReset int         `json:"totals_reset"`
	Unfrozen    int         `json:"unfrozen"`
	Warnings    []string    `json:"warnings,omitempty"`
	ExecutionMs int64       `json:"execution_ms"`
}

// Pipeline runs cleanup after archival.
type Pipeline struct {
	ledger    LedgerStore
	history   HistoryStore
	snapshots SnapshotStore
	locks     *lock.Manager
	audit     *audit.Writer
	notifier  Notifier
	metrics   *observability.Metrics
	now       func() time.Time
	log       zerolog.Logger
}

// Options tune a pipeline; Notifier may be nil (no sink configured).
type Options struct {
	Notifier Notifier
	Metrics  *observability.Metrics
	Now      func() time.Time
}

func NewPipeline(
	ledger LedgerStore,
	history HistoryStore,
	snapshots SnapshotStore,
	locks *lock.Manager,
	auditw *audit.Writer,
	log zerolog.Logger,
	opts Options,
) *Pipeline {
	p := &Pipeline{
		ledger:    ledger,
		history:   history,
		snapshots: snapshots,
		locks:     locks,
		audit:     auditw,
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		now:       opts.Now,
		log:       log,
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Validate runs the all-or-nothing gate for the period without touching
// anything. Every failed precondition is enumerated; there is no
// partial validation.
func (p *Pipeline) Validate(ctx context.Context, per period.Period) (*Readiness, error) {
	r := &Readiness{PeriodDate: per.Date, PeriodType: per.Type}

	entries, err := p.ledger.EntriesInWindow(ctx, per.Start(), per.End())
	if err != nil {
		return nil, fmt.Errorf("read live window: %w", err)
	}
	totals, err := p.ledger.TotalsForPeriod(ctx, per.Date)
	if err != nil {
		return nil, fmt.Errorf("read live totals: %w", err)
	}
	histCount, err := p.history.CountForPeriod(ctx, per.Date)
	if err != nil {
		return nil, fmt.Errorf("count history records: %w", err)
	}
	archivedIDs, err := p.history.ArchivedParticipants(ctx, per.Date)
	if err != nil {
		return nil, fmt.Errorf("list archived participants: %w", err)
	}
	snapPresent, err := p.snapshots.Exists(ctx, per.Date)
	if err != nil {
		return nil, fmt.Errorf("check snapshot: %w", err)
	}

	r.Stats = Stats{
		LiveEntries:          len(entries),
		HistoryRecords:       histCount,
		ArchivedParticipants: len(archivedIDs),
		SnapshotPresent:      snapPresent,
	}

	if histCount == 0 {
		r.Errors = append(r.Errors, fmt.Sprintf("no history records exist for period %s: archive first", per))
	}

	// Archival must be complete, not just started: every participant
	// holding a live total must appear in the archived set.
	archived := make(map[uuid.UUID]bool, len(archivedIDs))
	for _, id := range archivedIDs {
		archived[id] = true
	}
	liveParticipants := make(map[uuid.UUID]bool, len(totals))
	for _, t := range totals {
		liveParticipants[t.ParticipantID] = true
		if !archived[t.ParticipantID] {
			r.Errors = append(r.Errors, fmt.Sprintf("participant %s has a live total but no history records for %s", t.ParticipantID, per))
		}
	}
	r.Stats.LiveParticipants = len(liveParticipants)

	archiveKey := lock.Key{PeriodDate: per.Date, PeriodType: per.Type, Op: lock.OpArchive}
	if active, err := p.locks.FindActive(ctx, archiveKey); err != nil {
		return nil, fmt.Errorf("check archive lock: %w", err)
	} else if active != nil {
		r.Errors = append(r.Errors, fmt.Sprintf("archive lock is ACTIVE for %s (holder %s)", per, active.Holder))
	}

	if !snapPresent {
		r.Warnings = append(r.Warnings, "no period snapshot exists; manual rollback loses its primary recovery artifact")
	}

	r.CanCleanup = len(r.Errors) == 0
	if !r.CanCleanup && p.metrics != nil {
		p.metrics.ValidationFailures.WithLabelValues("gate").Inc()
	}
	return r, nil
}

// Cleanup validates, takes the CLEANUP lock and runs the destructive
// sequence. Returns *lock.HeldError on contention and a
// ErrValidationFailed-wrapped error when the gate refuses.
func (p *Pipeline) Cleanup(ctx context.Context, op directory.Operator, hint *time.Time) (*Report, *Readiness, error) {
	per, err := p.targetPeriod(hint)
	if err != nil {
		return nil, nil, err
	}

	readiness, err := p.Validate(ctx, per)
	if err != nil {
		return nil, nil, err
	}
	if !readiness.CanCleanup {
		return nil, readiness, fmt.Errorf("%w: %d precondition(s) not met", ErrValidationFailed, len(readiness.Errors))
	}

	key := lock.Key{PeriodDate: per.Date, PeriodType: per.Type, Op: lock.OpCleanup}
	l, err := p.locks.Acquire(ctx, key, op.ID)
	if err != nil {
		var held *lock.HeldError
		if errors.As(err, &held) && p.metrics != nil {
			p.metrics.LockContention.WithLabelValues(string(lock.OpCleanup)).Inc()
		}
		return nil, nil, err
	}

	batchID := uuid.New()
	started := p.now()
	log := p.log.With().Str("batch_id", batchID.String()).Str("period", per.String()).Logger()

	if err := p.audit.Record(ctx, audit.Entry{
		BatchID:    batchID,
		Event:      audit.EventCleanupStart,
		PeriodDate: per.Date,
		PeriodType: per.Type,
		Operator:   op.ID,
		Details:    audit.Details{LockID: l.ID.String(), Warnings: readiness.Warnings},
	}); err != nil {
		return nil, nil, p.abort(ctx, l, batchID, per, op, err)
	}

	report := &Report{BatchID: batchID, PeriodDate: per.Date, PeriodType: per.Type, Warnings: readiness.Warnings}

	// Tombstone before delete: the copy is one logical step with the
	// delete, and the delete is only issued once the copy fully
	// succeeded. A failure here leaves tombstones in place — they are
	// strictly additive and the recovery source of truth.
	entries, err := p.ledger.EntriesInWindow(ctx, per.Start(), per.End())
	if err != nil {
		return nil, nil, p.abort(ctx, l, batchID, per, op, fmt.Errorf("read live window: %w", err))
	}
	archivedAt := p.now().UTC()
	tombstones := make([]closure.ArchivedLiveEntry, len(entries))
	for i, e := range entries {
		tombstones[i] = closure.ArchivedLiveEntry{
			LiveEntry:  e,
			BatchID:    batchID,
			ArchivedBy: op.ID,
			ArchivedAt: archivedAt,
			Restorable: true,
		}
	}
	report.Archived, err = p.ledger.ArchiveEntries(ctx, tombstones)
	if err != nil {
		return nil, nil, p.abort(ctx, l, batchID, per, op, fmt.Errorf("tombstone live entries: %w", err))
	}

	report.Deleted, err = p.ledger.DeleteEntries(ctx, per.Start(), per.End())
	if err != nil {
		return nil, nil, p.abort(ctx, l, batchID, per, op, fmt.Errorf("delete live entries: %w", err))
	}

	// Flags come off while the period's totals rows still exist, so the
	// unfrozen count covers the period being cleaned, not just stragglers.
	report.Unfrozen, err = p.ledger.ClearFrozen(ctx, per.Date)
	if err != nil {
		return nil, nil, p.abort(ctx, l, batchID, per, op, fmt.Errorf("clear frozen flags: %w", err))
	}

	// Totals are derived data; the period's truth now lives only in
	// history_records.
	report.TotalsReset, err = p.ledger.DeleteTotals(ctx, per.Date)
	if err != nil {
		return nil, nil, p.abort(ctx, l, batchID, per, op, fmt.Errorf("reset live totals: %w", err))
	}

	p.notify(ctx, per, log)

	report.ExecutionMs = p.now().Sub(started).Milliseconds()
	if err := p.audit.Record(ctx, audit.Entry{
		BatchID:    batchID,
		Event:      audit.EventCleanupComplete,
		PeriodDate: per.Date,
		PeriodType: per.Type,
		Operator:   op.ID,
		Details: audit.Details{
			Status:         "success",
			TombstonedRows: report.Archived,
			DeletedRows:    report.Deleted,
			TotalsReset:    report.TotalsReset,
			Unfrozen:       report.Unfrozen,
			ExecutionMs:    report.ExecutionMs,
			Warnings:       readiness.Warnings,
		},
	}); err != nil {
		return nil, nil, p.abort(ctx, l, batchID, per, op, err)
	}
	if err := p.locks.Release(ctx, l, lock.StatusCompleted, "success"); err != nil {
		return nil, nil, err
	}

	if p.metrics != nil {
		p.metrics.CleanupRuns.WithLabelValues("success").Inc()
		p.metrics.CleanupDuration.Observe(float64(report.ExecutionMs) / 1000)
		p.metrics.TombstonedRows.Add(float64(report.Archived))
		p.metrics.DeletedLiveRows.Add(float64(report.Deleted))
	}
	log.Info().
		Int("tombstoned", report.Archived).
		Int("deleted", report.Deleted).
		Int("totals_reset", report.TotalsReset).
		Msg("cleanup finished")
	return report, readiness, nil
}

// notify emits the new-period notification best-effort.
func (p *Pipeline) notify(ctx context.Context, closed period.Period, log zerolog.Logger) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.PeriodChanged(ctx, closed, closed.Next()); err != nil {
		log.Warn().Err(err).Msg("period-changed notification failed")
		if p.metrics != nil {
			p.metrics.NotifyDropped.Inc()
		}
		return
	}
	if p.metrics != nil {
		p.metrics.NotifyPublished.Inc()
	}
}

// abort stops before any further destructive step: lock released as
// FAILED, cleanup_error audited, tombstones already written stay.
func (p *Pipeline) abort(ctx context.Context, l *lock.Lock, batchID uuid.UUID, per period.Period, op directory.Operator, cause error) error {
	p.audit.Advisory(ctx, audit.Entry{
		BatchID:    batchID,
		Event:      audit.EventCleanupError,
		PeriodDate: per.Date,
		PeriodType: per.Type,
		Operator:   op.ID,
		Details:    audit.Details{Error: cause.Error()},
	})
	if err := p.locks.Release(ctx, l, lock.StatusFailed, cause.Error()); err != nil {
		p.log.Error().Err(err).Msg("failed to release cleanup lock after error")
	}
	if p.metrics != nil {
		p.metrics.CleanupRuns.WithLabelValues("failed").Inc()
	}
	return fmt.Errorf("cleanup aborted: %w", cause)
}

func (p *Pipeline) targetPeriod(hint *time.Time) (period.Period, error) {
	if hint != nil {
		return period.FromStart(*hint)
	}
	now := p.now()
	if !period.IsClosureDay(now) {
		return period.Period{}, fmt.Errorf("%w: %s is not a closure day", ErrValidationFailed, period.Day(now).Format("2006-01-02"))
	}
	return period.PeriodToClose(now)
}

// TargetPeriod resolves the period a readiness probe should inspect:
// the explicitly hinted window, or the window that would close today.
func (p *Pipeline) TargetPeriod(hint *time.Time) (period.Period, error) {
	if hint != nil {
		return period.FromStart(*hint)
	}
	now := p.now()
	if period.IsClosureDay(now) {
		return period.PeriodToClose(now)
	}
	// Between closure days the candidate is the most recently closed
	// window: the one before the currently open period.
	cur := period.ForDate(now)
	return previous(cur), nil
}

func previous(p period.Period) period.Period {
	if p.Type == period.SecondHalf {
		return period.Period{
			Date: time.Date(p.Date.Year(), p.Date.Month(), 1, 0, 0, 0, 0, time.UTC),
			Type: period.FirstHalf,
		}
	}
	prev := p.Date.AddDate(0, -1, 0)
	return period.Period{
		Date: time.Date(prev.Year(), prev.Month(), 16, 0, 0, 0, 0, time.UTC),
		Type: period.SecondHalf,
	}
}
