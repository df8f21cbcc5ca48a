package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"CierreLedger/internal/closure"
	"CierreLedger/internal/period"
)

// HistoryStore writes and inspects the immutable archive. Records are
// inserted with a multi-row INSERT and ON CONFLICT DO NOTHING on the
// (participant_id, period_date, source_id) key, which is what makes a
// retried participant unit safe: a half-written attempt re-derives the
// same rows and the duplicates are silently skipped, never updated.
type HistoryStore struct {
	db *sql.DB
}

func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

func (s *HistoryStore) WriteRecords(ctx context.Context, recs []closure.HistoryRecord) error {
	if len(recs) == 0 {
		return nil
	}

	query := `INSERT INTO history_records
		(id, batch_id, participant_id, period_date, period_type, source_id,
		 value, rate_eur_usd, rate_gbp_usd, rate_usd_cop, commission_pct,
		 gross_usd, share_usd, share_cop, created_at)
		VALUES `

	const cols = 15
	values := make([]string, 0, len(recs))
	args := make([]interface{}, 0, len(recs)*cols)

	for i, r := range recs {
		base := i * cols
		ph := make([]string, cols)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		values = append(values, "("+strings.Join(ph, ", ")+")")
		args = append(args,
			r.ID, r.BatchID, r.ParticipantID, r.PeriodDate, string(r.PeriodType), r.SourceID,
			r.Value, r.RateEURUSD, r.RateGBPUSD, r.RateUSDCOP, r.CommissionPct,
			r.GrossUSD, r.ShareUSD, r.ShareCOP, r.CreatedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (participant_id, period_date, source_id) DO NOTHING"

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert history records: %w", err)
	}
	return nil
}

func (s *HistoryStore) ExistsForPeriod(ctx context.Context, periodDate time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM history_records WHERE period_date = $1)`,
		periodDate,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check history for period: %w", err)
	}
	return exists, nil
}

func (s *HistoryStore) ExistsForParticipant(ctx context.Context, participantID uuid.UUID, periodDate time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM history_records WHERE participant_id = $1 AND period_date = $2)`,
		participantID, periodDate,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check history for participant: %w", err)
	}
	return exists, nil
}

func (s *HistoryStore) CountForPeriod(ctx context.Context, periodDate time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM history_records WHERE period_date = $1`,
		periodDate,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count history records: %w", err)
	}
	return n, nil
}

func (s *HistoryStore) ArchivedParticipants(ctx context.Context, periodDate time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT participant_id FROM history_records WHERE period_date = $1`,
		periodDate,
	)
	if err != nil {
		return nil, fmt.Errorf("list archived participants: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecordsForPeriod returns the archived rows for one period, sorted for
// stable presentation. Read path for the status API.
func (s *HistoryStore) RecordsForPeriod(ctx context.Context, periodDate time.Time) ([]closure.HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, participant_id, period_date, period_type, source_id,
		       value, rate_eur_usd, rate_gbp_usd, rate_usd_cop, commission_pct,
		       gross_usd, share_usd, share_cop, created_at
		FROM history_records
		WHERE period_date = $1
		ORDER BY participant_id, source_id`,
		periodDate,
	)
	if err != nil {
		return nil, fmt.Errorf("query history records: %w", err)
	}
	defer rows.Close()

	var recs []closure.HistoryRecord
	for rows.Next() {
		var r closure.HistoryRecord
		var periodType string
		if err := rows.Scan(
			&r.ID, &r.BatchID, &r.ParticipantID, &r.PeriodDate, &periodType, &r.SourceID,
			&r.Value, &r.RateEURUSD, &r.RateGBPUSD, &r.RateUSDCOP, &r.CommissionPct,
			&r.GrossUSD, &r.ShareUSD, &r.ShareCOP, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		r.PeriodType = period.Type(periodType)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}
