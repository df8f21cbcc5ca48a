package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"CierreLedger/internal/audit"
	"CierreLedger/internal/period"
)

// AuditStore is the append-only closure_audit_log. There is no update
// or delete path, deliberately.
type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Append(ctx context.Context, e audit.Entry) error {
	details, err := audit.MarshalDetails(e.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO closure_audit_log
			(id, batch_id, event, period_date, period_type, operator, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.BatchID, string(e.Event), e.PeriodDate, string(e.PeriodType),
		e.Operator, details, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (s *AuditStore) LastForPeriod(ctx context.Context, periodDate time.Time, events ...audit.Event) (*audit.Entry, error) {
	query := `
		SELECT id, batch_id, event, period_date, period_type, operator, details, created_at
		FROM closure_audit_log
		WHERE period_date = $1`
	args := []interface{}{periodDate}
	if len(events) > 0 {
		names := make([]string, len(events))
		for i, ev := range events {
			names[i] = string(ev)
		}
		query += ` AND event = ANY($2)`
		args = append(args, pq.Array(names))
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	var e audit.Entry
	var event, periodType string
	var details []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&e.ID, &e.BatchID, &event, &e.PeriodDate, &periodType, &e.Operator, &details, &e.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last audit entry: %w", err)
	}
	e.Event = audit.Event(event)
	e.PeriodType = period.Type(periodType)
	if err := json.Unmarshal(details, &e.Details); err != nil {
		return nil, fmt.Errorf("unmarshal audit details: %w", err)
	}
	return &e, nil
}
