package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"CierreLedger/internal/lock"
	"CierreLedger/internal/period"
)

// LockStore is the Postgres lock.Store. Single-winner acquisition rides
// on the partial unique index closure_locks_one_active (period_date,
// period_type, op) WHERE status = 'ACTIVE': the losing INSERT raises a
// unique violation, which maps to lock.ErrConflict.
type LockStore struct {
	db *sql.DB
}

func NewLockStore(db *sql.DB) *LockStore {
	return &LockStore{db: db}
}

func (s *LockStore) Create(ctx context.Context, l *lock.Lock) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO closure_locks
			(id, period_date, period_type, op, holder, acquired_at, status, processed, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0)`,
		l.ID, l.Key.PeriodDate, string(l.Key.PeriodType), string(l.Key.Op),
		l.Holder, l.AcquiredAt, string(l.Status),
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return lock.ErrConflict
		}
		return fmt.Errorf("insert lock: %w", err)
	}
	return nil
}

func (s *LockStore) FindActive(ctx context.Context, key lock.Key) (*lock.Lock, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, period_date, period_type, op, holder, acquired_at, released_at,
		       status, processed, total, COALESCE(reason, '')
		FROM closure_locks
		WHERE period_date = $1 AND period_type = $2 AND op = $3 AND status = 'ACTIVE'`,
		key.PeriodDate, string(key.PeriodType), string(key.Op),
	)
	l, err := scanLock(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

func (s *LockStore) Get(ctx context.Context, id uuid.UUID) (*lock.Lock, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, period_date, period_type, op, holder, acquired_at, released_at,
		       status, processed, total, COALESCE(reason, '')
		FROM closure_locks
		WHERE id = $1`, id,
	)
	l, err := scanLock(row)
	if err == sql.ErrNoRows {
		return nil, lock.ErrNotFound
	}
	return l, err
}

func (s *LockStore) UpdateProgress(ctx context.Context, id uuid.UUID, processed, total int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE closure_locks SET processed = $2, total = $3
		WHERE id = $1 AND status = 'ACTIVE'`,
		id, processed, total,
	)
	if err != nil {
		return fmt.Errorf("update lock progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lock.ErrNotFound
	}
	return nil
}

func (s *LockStore) Release(ctx context.Context, id uuid.UUID, status lock.Status, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE closure_locks
		SET status = $2, reason = NULLIF($3, ''), released_at = NOW()
		WHERE id = $1 AND status = 'ACTIVE'`,
		id, string(status), reason,
	)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lock.ErrNotFound
	}
	return nil
}

func scanLock(row *sql.Row) (*lock.Lock, error) {
	var l lock.Lock
	var periodType, op, status string
	var released sql.NullTime
	err := row.Scan(
		&l.ID, &l.Key.PeriodDate, &periodType, &op, &l.Holder,
		&l.AcquiredAt, &released, &status, &l.Processed, &l.Total, &l.Reason,
	)
	if err != nil {
		return nil, err
	}
	l.Key.PeriodType = period.Type(periodType)
	l.Key.Op = lock.Op(op)
	l.Status = lock.Status(status)
	if released.Valid {
		t := released.Time
		l.ReleasedAt = &t
	}
	return &l, nil
}
