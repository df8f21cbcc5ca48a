// Package closure holds the shared row types of the closure engine.
// These mirror the persisted tables one-to-one; the pipelines move data
// between them but never mutate a history row, a snapshot, or a
// tombstone once written.
package closure

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"CierreLedger/internal/period"
)

// ConsolidatedSource is the reserved source id marking the per-period
// consolidated total row in history_records.
const ConsolidatedSource = "TOTAL"

// LiveEntry is one raw value for one participant, one income source,
// one day inside the open period. Owned by the live ledger; mutable
// until the period closes. Later writes overwrite, they never accumulate.
type LiveEntry struct {
	ParticipantID uuid.UUID       `json:"participant_id"`
	SourceID      string          `json:"source_id"`
	EntryDate     time.Time       `json:"entry_date"`
	Value         decimal.Decimal `json:"value"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// LiveTotal is the derived running total the dashboard shows for the
// open period. Reset by the cleanup pipeline once the period's truth
// lives in history_records.
type LiveTotal struct {
	ParticipantID uuid.UUID       `json:"participant_id"`
	PeriodDate    time.Time       `json:"period_date"`
	Total         decimal.Decimal `json:"total"`
	Frozen        bool            `json:"frozen"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// HistoryRecord is the immutable, fully-priced archive of one
// participant's one source (or the consolidated total) for one closed
// period. Written exclusively by the archival pipeline, never updated
// or deleted by this engine.
type HistoryRecord struct {
	ID            uuid.UUID   `json:"id"`
	BatchID       uuid.UUID   `json:"batch_id"`
	ParticipantID uuid.UUID   `json:"participant_id"`
	PeriodDate    time.Time   `json:"period_date"`
	PeriodType    period.Type `json:"period_type"`
	SourceID      string      `json:"source_id"` // platform id, or ConsolidatedSource

	Value decimal.Decimal `json:"value"` // raw value as reported by the source

	RateEURUSD    decimal.Decimal `json:"rate_eur_usd"`
	RateGBPUSD    decimal.Decimal `json:"rate_gbp_usd"`
	RateUSDCOP    decimal.Decimal `json:"rate_usd_cop"`
	CommissionPct decimal.Decimal `json:"commission_pct"`

	GrossUSD decimal.Decimal `json:"gross_usd"` // gross in settlement currency, 2 dp
	ShareUSD decimal.Decimal `json:"share_usd"` // participant's share in settlement currency, 2 dp
	ShareCOP decimal.Decimal `json:"share_cop"` // participant's share localized, whole pesos

	CreatedAt time.Time `json:"created_at"`
}

// PeriodSnapshot is the one-per-period recovery blob: a full copy of
// every live entry and live total that existed at archival time, for
// manual rollback of a cleanup gone wrong. Best-effort; its absence
// never invalidates the archived history.
type PeriodSnapshot struct {
	ID         uuid.UUID
	BatchID    uuid.UUID
	PeriodDate time.Time
	PeriodType period.Type
	Operator   string
	Payload    []byte // JSON SnapshotPayload
	CreatedAt  time.Time
}

// SnapshotPayload is the JSON body of a PeriodSnapshot.
type SnapshotPayload struct {
	BatchID    uuid.UUID   `json:"batch_id"`
	Operator   string      `json:"operator"`
	PeriodDate string      `json:"period_date"`
	PeriodType period.Type `json:"period_type"`
	TakenAt    time.Time   `json:"taken_at"`
	Entries    []LiveEntry `json:"entries"`
	Totals     []LiveTotal `json:"totals"`
}

// ArchivedLiveEntry is a tombstone: a live entry copied verbatim plus
// archival metadata. Written by the cleanup pipeline strictly before
// the corresponding live row is deleted.
type ArchivedLiveEntry struct {
	LiveEntry
	BatchID    uuid.UUID
	ArchivedBy string
	ArchivedAt time.Time
	Restorable bool
}
