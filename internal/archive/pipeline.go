// Package archive implements the archival pipeline: at period close it
// freezes the live ledger window, prices every participant's earnings
// against a batch-wide rate snapshot, writes immutable history records
// plus one recovery snapshot, and reports per-participant failures
// without aborting the batch.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"CierreLedger/internal/audit"
	"CierreLedger/internal/closure"
	"CierreLedger/internal/directory"
	"CierreLedger/internal/lock"
	"CierreLedger/internal/observability"
	"CierreLedger/internal/period"
	"CierreLedger/internal/pricing"
)

// LedgerStore reads the live ledger. The pipeline never writes it.
type LedgerStore interface {
	EntriesForParticipant(ctx context.Context, participantID uuid.UUID, start, end time.Time) ([]closure.LiveEntry, error)
	EntriesInWindow(ctx context.Context, start, end time.Time) ([]closure.LiveEntry, error)
	TotalsForPeriod(ctx context.Context, periodDate time.Time) ([]closure.LiveTotal, error)
}

// HistoryStore persists the immutable archive. WriteRecords must be
// idempotent per (participant, period, source): re-writing an already
// archived triple is a no-op, never a duplicate.
type HistoryStore interface {
	ExistsForPeriod(ctx context.Context, periodDate time.Time) (bool, error)
	ExistsForParticipant(ctx context.Context, participantID uuid.UUID, periodDate time.Time) (bool, error)
	WriteRecords(ctx context.Context, recs []closure.HistoryRecord) error
}

// SnapshotStore persists the one-per-period recovery blob.
type SnapshotStore interface {
	Create(ctx context.Context, snap closure.PeriodSnapshot) error
}

// Precondition errors; all rejected before any lock is touched.
var (
	ErrNotClosureDay       = errors.New("today is not a closure day")
	ErrAlreadyArchived     = errors.New("period already has history records")
	ErrParticipantArchived = errors.New("participant already archived for period")
	ErrPeriodStillOpen     = errors.New("period is still open")
)

// Batch status values, mirrored into the audit trail.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Report is what one run returns to the caller: enough structure to
// drive a targeted per-participant repair instead of a blind re-run.
type Report struct {
	BatchID         uuid.UUID                 `json:"batch_id"`
	PeriodDate      time.Time                 `json:"period_date"`
	PeriodType      period.Type               `json:"period_type"`
	Status          string                    `json:"status"`
	Archived        int                       `json:"archived"`
	Failed          []audit.FailedParticipant `json:"failed_participants,omitempty"`
	SnapshotCreated bool                      `json:"snapshot_created"`
	ExecutionMs     int64                     `json:"execution_ms"`
}

// Options tune a pipeline. Zero values fall back to defaults.
type Options struct {
	Rules    pricing.Rules
	Workers  int // bounded pool size; 1 = sequential
	Attempts int // attempts per participant unit, backoff between
	Backoff  BackoffSchedule
	Metrics  *observability.Metrics
	Now      func() time.Time
}

// Pipeline runs archival batches. All collaborators are injected; the
// zero dependencies are the in-memory fakes in the tests.
type Pipeline struct {
	ledger       LedgerStore
	history      HistoryStore
	snapshots    SnapshotStore
	participants directory.ParticipantDirectory
	rates        directory.RateDirectory
	locks        *lock.Manager
	audit        *audit.Writer

	rules    pricing.Rules
	workers  int
	attempts int
	backoff  BackoffSchedule
	metrics  *observability.Metrics
	now      func() time.Time
	log      zerolog.Logger
}

func NewPipeline(
	ledger LedgerStore,
	history HistoryStore,
	snapshots SnapshotStore,
	participants directory.ParticipantDirectory,
	rates directory.RateDirectory,
	locks *lock.Manager,
	auditw *audit.Writer,
	log zerolog.Logger,
	opts Options,
) *Pipeline {
	p := &Pipeline{
		ledger:       ledger,
		history:      history,
		snapshots:    snapshots,
		participants: participants,
		rates:        rates,
		locks:        locks,
		audit:        auditw,
		rules:        opts.Rules,
		workers:      opts.Workers,
		attempts:     opts.Attempts,
		backoff:      opts.Backoff,
		metrics:      opts.Metrics,
		now:          opts.Now,
		log:          log,
	}
	if p.rules == nil {
		p.rules = pricing.DefaultRules()
	}
	if p.workers <= 0 {
		p.workers = 8
	}
	if p.attempts <= 0 {
		p.attempts = 3
	}
	if p.backoff == nil {
		p.backoff = DefaultBackoff
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Archive runs one archival batch for the period derived from the hint
// (or from today, which must then be a closure day). Contention
// surfaces as *lock.HeldError; precondition failures as the Err*
// sentinels. One participant's failure never aborts the batch.
func (p *Pipeline) Archive(ctx context.Context, op directory.Operator, hint *time.Time) (*Report, error) {
	per, err := p.targetPeriod(hint)
	if err != nil {
		return nil, err
	}

	// Idempotency guard: archival is not re-runnable once any history
	// record exists for the period. Failed participants go through
	// ArchiveParticipant instead.
	archived, err := p.history.ExistsForPeriod(ctx, per.Date)
	if err != nil {
		return nil, fmt.Errorf("check existing history: %w", err)
	}
	if archived {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyArchived, per)
	}

	key := lock.Key{PeriodDate: per.Date, PeriodType: per.Type, Op: lock.OpArchive}
	l, err := p.locks.Acquire(ctx, key, op.ID)
	if err != nil {
		var held *lock.HeldError
		if errors.As(err, &held) && p.metrics != nil {
			p.metrics.LockContention.WithLabelValues(string(lock.OpArchive)).Inc()
		}
		return nil, err
	}

	batchID := uuid.New()
	started := p.now()
	log := p.log.With().Str("batch_id", batchID.String()).Str("period", per.String()).Logger()

	if err := p.audit.Record(ctx, audit.Entry{
		BatchID:    batchID,
		Event:      audit.EventArchiveStart,
		PeriodDate: per.Date,
		PeriodType: per.Type,
		Operator:   op.ID,
		Details:    audit.Details{LockID: l.ID.String()},
	}); err != nil {
		return nil, p.abort(ctx, l, batchID, per, op, err)
	}

	rates, err := p.rates.ActiveRates(ctx)
	if err != nil {
		return nil, p.abort(ctx, l, batchID, per, op, fmt.Errorf("resolve rate snapshot: %w", err))
	}

	parts, err := p.participants.Eligible(ctx, op)
	if err != nil {
		return nil, p.abort(ctx, l, batchID, per, op, fmt.Errorf("resolve eligible participants: %w", err))
	}

	results := p.runUnits(ctx, l, batchID, per, parts, rates)

	var failed []audit.FailedParticipant
	archivedCount := 0
	for _, r := range results {
		if r.err != nil {
			failed = append(failed, audit.FailedParticipant{
				ParticipantID: r.participant.ID,
				Name:          r.participant.Name,
				Error:         r.err.Error(),
				Retries:       r.retries,
			})
			continue
		}
		archivedCount++
	}
	p.locks.UpdateProgress(ctx, l, len(results), len(parts))

	// The snapshot reflects the final live state at hand-off: taken
	// only after every unit finished, success or exhausted failure.
	snapshotCreated := p.writeSnapshot(ctx, batchID, per, op, log)

	status := StatusSuccess
	switch {
	case len(parts) > 0 && archivedCount == 0:
		status = StatusFailed
	case len(failed) > 0:
		status = StatusPartial
	}

	execMs := p.now().Sub(started).Milliseconds()
	if err := p.audit.Record(ctx, audit.Entry{
		BatchID:    batchID,
		Event:      audit.EventArchiveComplete,
		PeriodDate: per.Date,
		PeriodType: per.Type,
		Operator:   op.ID,
		Details: audit.Details{
			Status:          status,
			Archived:        archivedCount,
			Failed:          len(failed),
			Total:           len(parts),
			SnapshotCreated: snapshotCreated,
			ExecutionMs:     execMs,
			FailedList:      failed,
		},
	}); err != nil {
		return nil, p.abort(ctx, l, batchID, per, op, err)
	}

	lockStatus := lock.StatusCompleted
	if status == StatusFailed {
		lockStatus = lock.StatusFailed
	}
	if err := p.locks.Release(ctx, l, lockStatus, status); err != nil {
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.ArchiveRuns.WithLabelValues(status).Inc()
		p.metrics.ArchiveDuration.Observe(float64(execMs) / 1000)
		p.metrics.ParticipantsArchived.Add(float64(archivedCount))
		p.metrics.ParticipantsFailed.Add(float64(len(failed)))
	}
	log.Info().Str("status", status).Int("archived", archivedCount).Int("failed", len(failed)).Msg("archive batch finished")

	return &Report{
		BatchID:         batchID,
		PeriodDate:      per.Date,
		PeriodType:      per.Type,
		Status:          status,
		Archived:        archivedCount,
		Failed:          failed,
		SnapshotCreated: snapshotCreated,
		ExecutionMs:     execMs,
	}, nil
}

// ArchiveParticipant is the narrow repair path for participants that
// failed during the batch run. The batch-level guard blocks full
// re-runs, so repairs are guarded per participant instead.
func (p *Pipeline) ArchiveParticipant(ctx context.Context, op directory.Operator, periodStart time.Time, participantID uuid.UUID) (*Report, error) {
	per, err := period.FromStart(periodStart)
	if err != nil {
		return nil, err
	}
	// Repairs freeze a window the same way batch runs do: an open
	// period's entries are still mutable and must not be archived.
	if !per.End().Before(period.Day(p.now())) {
		return nil, fmt.Errorf("%w: %s", ErrPeriodStillOpen, per)
	}

	part, err := p.participants.Get(ctx, op, participantID)
	if err != nil {
		return nil, fmt.Errorf("resolve participant: %w", err)
	}
	if part == nil {
		return nil, fmt.Errorf("participant %s not found or not visible to operator %s", participantID, op.ID)
	}

	exists, err := p.history.ExistsForParticipant(ctx, participantID, per.Date)
	if err != nil {
		return nil, fmt.Errorf("check participant history: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s in %s", ErrParticipantArchived, participantID, per)
	}

	// Repairs take the same ARCHIVE lock as batch runs so the two can
	// never interleave on one period.
	key := lock.Key{PeriodDate: per.Date, PeriodType: per.Type, Op: lock.OpArchive}
	l, err := p.locks.Acquire(ctx, key, op.ID)
	if err != nil {
		return nil, err
	}

	batchID := uuid.New()
	started := p.now()

	rates, err := p.rates.ActiveRates(ctx)
	if err != nil {
		return nil, p.abort(ctx, l, batchID, per, op, fmt.Errorf("resolve rate snapshot: %w", err))
	}

	res := p.runUnit(ctx, batchID, per, *part, rates)

	report := &Report{
		BatchID:    batchID,
		PeriodDate: per.Date,
		PeriodType: per.Type,
		Status:     StatusSuccess,
		Archived:   1,
	}
	details := audit.Details{Status: StatusSuccess, Archived: 1, Total: 1}
	lockStatus := lock.StatusCompleted
	if res.err != nil {
		fp := audit.FailedParticipant{
			ParticipantID: part.ID,
			Name:          part.Name,
			Error:         res.err.Error(),
			Retries:       res.retries,
		}
		report.Status = StatusFailed
		report.Archived = 0
		report.Failed = []audit.FailedParticipant{fp}
		details = audit.Details{Status: StatusFailed, Failed: 1, Total: 1, FailedList: report.Failed}
		lockStatus = lock.StatusFailed
	}
	report.ExecutionMs = p.now().Sub(started).Milliseconds()
	details.ExecutionMs = report.ExecutionMs

	if err := p.audit.Record(ctx, audit.Entry{
		BatchID:    batchID,
		Event:      audit.EventParticipantRepair,
		PeriodDate: per.Date,
		PeriodType: per.Type,
		Operator:   op.ID,
		Details:    details,
	}); err != nil {
		return nil, p.abort(ctx, l, batchID, per, op, err)
	}
	if err := p.locks.Release(ctx, l, lockStatus, report.Status); err != nil {
		return nil, err
	}
	return report, nil
}

// abort releases the lock as FAILED and records the pipeline-fatal
// error, returning it wrapped for the caller.
func (p *Pipeline) abort(ctx context.Context, l *lock.Lock, batchID uuid.UUID, per period.Period, op directory.Operator, cause error) error {
	p.audit.Advisory(ctx, audit.Entry{
		BatchID:    batchID,
		Event:      audit.EventArchiveError,
		PeriodDate: per.Date,
		PeriodType: per.Type,
		Operator:   op.ID,
		Details:    audit.Details{Error: cause.Error()},
	})
	if err := p.locks.Release(ctx, l, lock.StatusFailed, cause.Error()); err != nil {
		p.log.Error().Err(err).Msg("failed to release lock after pipeline error")
	}
	if p.metrics != nil {
		p.metrics.ArchiveRuns.WithLabelValues(StatusFailed).Inc()
	}
	return fmt.Errorf("archive batch aborted: %w", cause)
}

func (p *Pipeline) targetPeriod(hint *time.Time) (period.Period, error) {
	if hint != nil {
		per, err := period.FromStart(*hint)
		if err != nil {
			return period.Period{}, err
		}
		if !per.End().Before(period.Day(p.now())) {
			return period.Period{}, fmt.Errorf("%w: %s", ErrPeriodStillOpen, per)
		}
		return per, nil
	}
	now := p.now()
	if !period.IsClosureDay(now) {
		return period.Period{}, fmt.Errorf("%w: %s", ErrNotClosureDay, period.Day(now).Format("2006-01-02"))
	}
	return period.PeriodToClose(now)
}

type unitResult struct {
	participant directory.Participant
	retries     int
	err         error
}

// runUnits processes participants on a bounded worker pool. Ordering
// across participants is irrelevant; each unit is read -> price ->
// write with retries wrapping the whole unit.
func (p *Pipeline) runUnits(ctx context.Context, l *lock.Lock, batchID uuid.UUID, per period.Period, parts []directory.Participant, rates pricing.RateSnapshot) []unitResult {
	results := make([]unitResult, len(parts))
	sem := make(chan struct{}, p.workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	done := 0

	for i, part := range parts {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, part directory.Participant) {
			defer wg.Done()
			defer func() { <-sem }()

			results[i] = p.runUnit(ctx, batchID, per, part, rates)

			mu.Lock()
			done++
			n := done
			mu.Unlock()
			p.locks.UpdateProgress(ctx, l, n, len(parts))
		}(i, part)
	}
	wg.Wait()
	return results
}

func (p *Pipeline) runUnit(ctx context.Context, batchID uuid.UUID, per period.Period, part directory.Participant, rates pricing.RateSnapshot) unitResult {
	attempts, err := withBackoff(ctx, p.attempts, p.backoff, func(ctx context.Context) error {
		entries, err := p.ledger.EntriesForParticipant(ctx, part.ID, per.Start(), per.End())
		if err != nil {
			return fmt.Errorf("read live window: %w", err)
		}
		latest := latestPerSource(entries)
		if len(latest) == 0 {
			return nil // nothing earned this period
		}
		recs := buildRecords(batchID, per, part, latest, p.rules, rates, p.now().UTC())
		if err := p.history.WriteRecords(ctx, recs); err != nil {
			return fmt.Errorf("write history records: %w", err)
		}
		return nil
	})

	res := unitResult{participant: part, retries: attempts, err: err}
	if err != nil {
		p.log.Warn().Err(err).
			Str("participant_id", part.ID.String()).
			Int("retries", attempts).
			Msg("participant archival failed after retries")
		if p.metrics != nil {
			p.metrics.ParticipantRetries.Add(float64(attempts - 1))
		}
	} else if attempts > 1 && p.metrics != nil {
		p.metrics.ParticipantRetries.Add(float64(attempts - 1))
	}
	return res
}

// latestPerSource keeps the most-recently-updated entry per source:
// last-write-wins within the window, never a sum.
func latestPerSource(entries []closure.LiveEntry) []closure.LiveEntry {
	bySource := make(map[string]closure.LiveEntry, len(entries))
	for _, e := range entries {
		cur, ok := bySource[e.SourceID]
		if !ok || e.UpdatedAt.After(cur.UpdatedAt) {
			bySource[e.SourceID] = e
		}
	}
	out := make([]closure.LiveEntry, 0, len(bySource))
	for _, e := range bySource {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// buildRecords prices one participant's window: one record per source
// plus the consolidated record. The consolidated value is the sum of
// raw per-source values — never of converted amounts, so currencies are
// not mixed in a value field. Rounding happens here and only here.
func buildRecords(batchID uuid.UUID, per period.Period, part directory.Participant, latest []closure.LiveEntry, rules pricing.Rules, rates pricing.RateSnapshot, now time.Time) []closure.HistoryRecord {
	recs := make([]closure.HistoryRecord, 0, len(latest)+1)
	rawSum := decimal.Zero
	priced := make([]pricing.Priced, 0, len(latest))

	for _, e := range latest {
		pr := pricing.Resolve(e.Value, e.SourceID, rules, rates, part.CommissionPct)
		priced = append(priced, pr)
		rawSum = rawSum.Add(e.Value)
		recs = append(recs, closure.HistoryRecord{
			ID:            uuid.New(),
			BatchID:       batchID,
			ParticipantID: part.ID,
			PeriodDate:    per.Date,
			PeriodType:    per.Type,
			SourceID:      e.SourceID,
			Value:         e.Value,
			RateEURUSD:    rates.EURUSD,
			RateGBPUSD:    rates.GBPUSD,
			RateUSDCOP:    rates.USDCOP,
			CommissionPct: pr.CommissionPct,
			GrossUSD:      pricing.RoundAmount(pr.GrossUSD),
			ShareUSD:      pricing.RoundAmount(pr.ShareUSD),
			ShareCOP:      pricing.RoundLocal(pr.ShareCOP),
			CreatedAt:     now,
		})
	}

	total := pricing.Sum(priced...)
	recs = append(recs, closure.HistoryRecord{
		ID:            uuid.New(),
		BatchID:       batchID,
		ParticipantID: part.ID,
		PeriodDate:    per.Date,
		PeriodType:    per.Type,
		SourceID:      closure.ConsolidatedSource,
		Value:         rawSum,
		RateEURUSD:    rates.EURUSD,
		RateGBPUSD:    rates.GBPUSD,
		RateUSDCOP:    rates.USDCOP,
		CommissionPct: part.CommissionPct,
		GrossUSD:      pricing.RoundAmount(total.GrossUSD),
		ShareUSD:      pricing.RoundAmount(total.ShareUSD),
		ShareCOP:      pricing.RoundLocal(total.ShareCOP),
		CreatedAt:     now,
	})
	return recs
}

// writeSnapshot is the best-effort safety net: failure is logged and
// audited but never flips the batch status.
func (p *Pipeline) writeSnapshot(ctx context.Context, batchID uuid.UUID, per period.Period, op directory.Operator, log zerolog.Logger) bool {
	entries, err := p.ledger.EntriesInWindow(ctx, per.Start(), per.End())
	if err == nil {
		var totals []closure.LiveTotal
		totals, err = p.ledger.TotalsForPeriod(ctx, per.Date)
		if err == nil {
			var payload []byte
			payload, err = json.Marshal(closure.SnapshotPayload{
				BatchID:    batchID,
				Operator:   op.ID,
				PeriodDate: per.Date.Format("2006-01-02"),
				PeriodType: per.Type,
				TakenAt:    p.now().UTC(),
				Entries:    entries,
				Totals:     totals,
			})
			if err == nil {
				err = p.snapshots.Create(ctx, closure.PeriodSnapshot{
					ID:         uuid.New(),
					BatchID:    batchID,
					PeriodDate: per.Date,
					PeriodType: per.Type,
					Operator:   op.ID,
					Payload:    payload,
					CreatedAt:  p.now().UTC(),
				})
			}
		}
	}
	if err != nil {
		log.Warn().Err(err).Msg("period snapshot failed; archival result stands, manual recovery loses the safety net")
		p.audit.Advisory(ctx, audit.Entry{
			BatchID:    batchID,
			Event:      audit.EventSnapshotWriteError,
			PeriodDate: per.Date,
			PeriodType: per.Type,
			Operator:   op.ID,
			Details:    audit.Details{Error: err.Error()},
		})
		if p.metrics != nil {
			p.metrics.SnapshotFailures.Inc()
		}
		return false
	}
	if p.metrics != nil {
		p.metrics.SnapshotsWritten.Inc()
	}
	return true
}
