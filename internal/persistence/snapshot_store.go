package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"CierreLedger/internal/closure"
	"CierreLedger/internal/period"
)

// SnapshotStore persists the one-per-period recovery blobs. One row per
// period date; a duplicate create is rejected rather than overwritten
// because snapshots are immutable.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) Create(ctx context.Context, snap closure.PeriodSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO period_snapshots
			(id, batch_id, period_date, period_type, operator, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		snap.ID, snap.BatchID, snap.PeriodDate, string(snap.PeriodType),
		snap.Operator, snap.Payload, snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert period snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Exists(ctx context.Context, periodDate time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM period_snapshots WHERE period_date = $1)`,
		periodDate,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check period snapshot: %w", err)
	}
	return exists, nil
}

// Get returns the snapshot for a period, nil when absent. The status
// surface reads it; the pipelines never do.
func (s *SnapshotStore) Get(ctx context.Context, periodDate time.Time) (*closure.PeriodSnapshot, error) {
	var snap closure.PeriodSnapshot
	var periodType string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, batch_id, period_date, period_type, operator, payload, created_at
		FROM period_snapshots
		WHERE period_date = $1`,
		periodDate,
	).Scan(&snap.ID, &snap.BatchID, &snap.PeriodDate, &periodType, &snap.Operator, &snap.Payload, &snap.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query period snapshot: %w", err)
	}
	snap.PeriodType = period.Type(periodType)
	return &snap, nil
}
