package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"CierreLedger/internal/closure"
)

// LedgerStore is the engine's view of the live ledger tables. Reads
// serve the archival pipeline; the destructive operations serve
// cleanup. It implements both archive.LedgerStore and
// cleanup.LedgerStore.
type LedgerStore struct {
	db *sql.DB
}

func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) EntriesForParticipant(ctx context.Context, participantID uuid.UUID, start, end time.Time) ([]closure.LiveEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT participant_id, source_id, entry_date, value, updated_at
		FROM live_entries
		WHERE participant_id = $1 AND entry_date BETWEEN $2 AND $3
		ORDER BY source_id, entry_date`,
		participantID, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("query live entries for participant: %w", err)
	}
	return collectEntries(rows)
}

func (s *LedgerStore) EntriesInWindow(ctx context.Context, start, end time.Time) ([]closure.LiveEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT participant_id, source_id, entry_date, value, updated_at
		FROM live_entries
		WHERE entry_date BETWEEN $1 AND $2
		ORDER BY participant_id, source_id, entry_date`,
		start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("query live entries in window: %w", err)
	}
	return collectEntries(rows)
}

func (s *LedgerStore) TotalsForPeriod(ctx context.Context, periodDate time.Time) ([]closure.LiveTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT participant_id, period_date, total, frozen, updated_at
		FROM live_totals
		WHERE period_date = $1`,
		periodDate,
	)
	if err != nil {
		return nil, fmt.Errorf("query live totals: %w", err)
	}
	defer rows.Close()

	var totals []closure.LiveTotal
	for rows.Next() {
		var t closure.LiveTotal
		if err := rows.Scan(&t.ParticipantID, &t.PeriodDate, &t.Total, &t.Frozen, &t.UpdatedAt); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// ArchiveEntries copies live rows into archived_live_entries. Idempotent
// on (participant_id, source_id, entry_date): re-running a failed
// cleanup re-copies nothing that already landed, so the copy step can
// be retried safely before any delete is issued.
func (s *LedgerStore) ArchiveEntries(ctx context.Context, tombstones []closure.ArchivedLiveEntry) (int, error) {
	if len(tombstones) == 0 {
		return 0, nil
	}

	query := `INSERT INTO archived_live_entries
		(participant_id, source_id, entry_date, value, updated_at,
		 batch_id, archived_by, archived_at, restorable)
		VALUES `

	const cols = 9
	values := make([]string, 0, len(tombstones))
	args := make([]interface{}, 0, len(tombstones)*cols)
	for i, t := range tombstones {
		base := i * cols
		ph := make([]string, cols)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		values = append(values, "("+strings.Join(ph, ", ")+")")
		args = append(args,
			t.ParticipantID, t.SourceID, t.EntryDate, t.Value, t.UpdatedAt,
			t.BatchID, t.ArchivedBy, t.ArchivedAt, t.Restorable,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (participant_id, source_id, entry_date) DO NOTHING"

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("insert tombstones: %w", err)
	}
	return len(tombstones), nil
}

func (s *LedgerStore) DeleteEntries(ctx context.Context, start, end time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM live_entries WHERE entry_date BETWEEN $1 AND $2`,
		start, end,
	)
	if err != nil {
		return 0, fmt.Errorf("delete live entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *LedgerStore) DeleteTotals(ctx context.Context, periodDate time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM live_totals WHERE period_date = $1`,
		periodDate,
	)
	if err != nil {
		return 0, fmt.Errorf("delete live totals: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ClearFrozen drops the advisory frozen flags for periods at or before
// the given date so downstream live UIs unfreeze.
func (s *LedgerStore) ClearFrozen(ctx context.Context, periodDate time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE live_totals SET frozen = FALSE WHERE period_date <= $1 AND frozen`,
		periodDate,
	)
	if err != nil {
		return 0, fmt.Errorf("clear frozen flags: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func collectEntries(rows *sql.Rows) ([]closure.LiveEntry, error) {
	defer rows.Close()
	var entries []closure.LiveEntry
	for rows.Next() {
		var e closure.LiveEntry
		if err := rows.Scan(&e.ParticipantID, &e.SourceID, &e.EntryDate, &e.Value, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
