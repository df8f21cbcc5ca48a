// Package audit is the append-only trail of closure lifecycle events.
// Every lock acquisition, pipeline start, completion, partial failure
// and error lands here; the cleanup pipeline's validation gate reads it
// back. Entries are never mutated or deleted.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CierreLedger/internal/observability"
	"CierreLedger/internal/period"
)

// Event names one lifecycle transition.
type Event string

const (
	EventArchiveStart       Event = "archive_start"
	EventArchiveComplete    Event = "archive_complete"
	EventArchiveError       Event = "archive_error"
	EventCleanupStart       Event = "cleanup_start"
	EventCleanupComplete    Event = "cleanup_complete"
	EventCleanupError       Event = "cleanup_error"
	EventLockForceReleased  Event = "lock_force_released"
	EventParticipantRepair  Event = "participant_repair"
	EventSnapshotWriteError Event = "snapshot_write_error"
)

// FailedParticipant is one participant the archival batch gave up on
// after exhausting retries.
type FailedParticipant struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	Name          string    `json:"name,omitempty"`
	Error         string    `json:"error"`
	Retries       int       `json:"retries"`
}

// Details is the structured payload of an entry. Zero fields are
// omitted from the stored JSON.
type Details struct {
	Status          string              `json:"status,omitempty"` // success | partial | failed
	Archived        int                 `json:"archived,omitempty"`
	Failed          int                 `json:"failed,omitempty"`
	Total           int                 `json:"total,omitempty"`
	TombstonedRows  int                 `json:"tombstoned_rows,omitempty"`
	DeletedRows     int                 `json:"deleted_rows,omitempty"`
	TotalsReset     int                 `json:"totals_reset,omitempty"`
	Unfrozen        int                 `json:"unfrozen,omitempty"`
	SnapshotCreated bool                `json:"snapshot_created,omitempty"`
	ExecutionMs     int64               `json:"execution_ms,omitempty"`
	Error           string              `json:"error,omitempty"`
	Warnings        []string            `json:"warnings,omitempty"`
	FailedList      []FailedParticipant `json:"failed_participants,omitempty"`
	LockID          string              `json:"lock_id,omitempty"`
}

// Entry is one immutable audit row.
type Entry struct {
	ID         uuid.UUID   `json:"id"`
	BatchID    uuid.UUID   `json:"batch_id"`
	Event      Event       `json:"event"`
	PeriodDate time.Time   `json:"period_date"`
	PeriodType period.Type `json:"period_type"`
	Operator   string      `json:"operator"`
	Details    Details     `json:"details"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Store persists entries. Append-only: there is no update or delete.
type Store interface {
	Append(ctx context.Context, e Entry) error
	LastForPeriod(ctx context.Context, periodDate time.Time, events ...Event) (*Entry, error)
}

// Writer emits audit entries. Record is blocking — the pipelines must
// not proceed past a start/complete step whose audit write failed.
// Advisory logs the failure and moves on.
type Writer struct {
	store   Store
	log     zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewWriter(store Store, log zerolog.Logger) *Writer {
	return &Writer{store: store, log: log, now: time.Now}
}

// WithMetrics attaches counters for appends and append failures.
func (w *Writer) WithMetrics(m *observability.Metrics) *Writer {
	w.metrics = m
	return w
}

// Record appends an entry; failure is pipeline-fatal for the caller.
func (w *Writer) Record(ctx context.Context, e Entry) error {
	w.fill(&e)
	if err := w.store.Append(ctx, e); err != nil {
		if w.metrics != nil {
			w.metrics.AuditErrors.Inc()
		}
		return fmt.Errorf("audit %s: %w", e.Event, err)
	}
	if w.metrics != nil {
		w.metrics.AuditAppends.WithLabelValues(string(e.Event)).Inc()
	}
	w.log.Info().
		Str("event", string(e.Event)).
		Str("batch_id", e.BatchID.String()).
		Str("period", e.PeriodDate.Format("2006-01-02")).
		Str("operator", e.Operator).
		Msg("audit recorded")
	return nil
}

// Advisory appends an entry best-effort. Used for events whose loss
// must not stall a pipeline (snapshot warnings, force releases).
func (w *Writer) Advisory(ctx context.Context, e Entry) {
	w.fill(&e)
	if err := w.store.Append(ctx, e); err != nil {
		if w.metrics != nil {
			w.metrics.AuditErrors.Inc()
		}
		w.log.Warn().Err(err).Str("event", string(e.Event)).Msg("advisory audit write failed")
		return
	}
	if w.metrics != nil {
		w.metrics.AuditAppends.WithLabelValues(string(e.Event)).Inc()
	}
}

// Last returns the most recent entry for a period restricted to the
// given events (all events when none given).
func (w *Writer) Last(ctx context.Context, periodDate time.Time, events ...Event) (*Entry, error) {
	return w.store.LastForPeriod(ctx, periodDate, events...)
}

func (w *Writer) fill(e *Entry) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = w.now().UTC()
	}
}

// MarshalDetails serializes a Details payload for storage.
func MarshalDetails(d Details) ([]byte, error) {
	return json.Marshal(d)
}
