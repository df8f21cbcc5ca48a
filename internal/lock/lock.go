// Package lock implements the closure lock: mutual exclusion scoped to
// (period date, period type, operation). Acquisition is non-blocking;
// contention is a signal ("someone else is running this"), not an error
// condition. At most one ACTIVE lock may exist per key at any time —
// the store is responsible for making that atomic.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CierreLedger/internal/observability"
	"CierreLedger/internal/period"
)

// Op is the operation a lock serializes. Archive and cleanup on the
// same period never contend; two runs of the same op do.
type Op string

const (
	OpArchive Op = "ARCHIVE"
	OpCleanup Op = "CLEANUP"
)

// Status of a lock. ACTIVE is the only non-terminal state.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Key identifies the mutual-exclusion scope.
type Key struct {
	PeriodDate time.Time
	PeriodType period.Type
	Op         Op
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.PeriodDate.Format("2006-01-02"), k.PeriodType, k.Op)
}

// Lock is one coordination record. Progress counters are advisory and
// only ever written by the holder.
type Lock struct {
	ID         uuid.UUID
	Key        Key
	Holder     string
	AcquiredAt time.Time
	ReleasedAt *time.Time
	Status     Status
	Processed  int
	Total      int
	Reason     string
}

// ErrConflict is returned by Store.Create when an ACTIVE lock already
// exists for the key.
var ErrConflict = errors.New("active lock exists for key")

// ErrNotFound is returned when a lock id does not exist.
var ErrNotFound = errors.New("lock not found")

// Store persists locks. Create must be atomic with respect to
// concurrent creates on the same key: exactly one caller wins, the rest
// get ErrConflict.
type Store interface {
	Create(ctx context.Context, l *Lock) error
	FindActive(ctx context.Context, key Key) (*Lock, error)
	Get(ctx context.Context, id uuid.UUID) (*Lock, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, processed, total int) error
	Release(ctx context.Context, id uuid.UUID, status Status, reason string) error
}

// HeldError reports a lost acquisition: the existing holder and when it
// acquired, so the caller can surface "already running".
type HeldError struct {
	Key        Key
	LockID     uuid.UUID
	Holder     string
	AcquiredAt time.Time
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("lock %s held by %s since %s", e.Key, e.Holder, e.AcquiredAt.Format(time.RFC3339))
}

// Manager wraps a Store with the acquire/progress/release protocol.
type Manager struct {
	store   Store
	log     zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewManager(store Store, log zerolog.Logger) *Manager {
	return &Manager{store: store, log: log, now: time.Now}
}

// WithMetrics attaches the force-release counter.
func (m *Manager) WithMetrics(metrics *observability.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// Acquire tries to take the lock for key. It never blocks: on
// contention it returns a *HeldError describing the current holder.
func (m *Manager) Acquire(ctx context.Context, key Key, holder string) (*Lock, error) {
	l := &Lock{
		ID:         uuid.New(),
		Key:        key,
		Holder:     holder,
		AcquiredAt: m.now().UTC(),
		Status:     StatusActive,
	}

	err := m.store.Create(ctx, l)
	if err == nil {
		m.log.Info().Str("key", key.String()).Str("holder", holder).Str("lock_id", l.ID.String()).Msg("lock acquired")
		return l, nil
	}
	if !errors.Is(err, ErrConflict) {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}

	existing, ferr := m.store.FindActive(ctx, key)
	if ferr != nil || existing == nil {
		// Lost the race and the winner already released; report
		// generically rather than retrying.
		return nil, &HeldError{Key: key}
	}
	return nil, &HeldError{
		Key:        key,
		LockID:     existing.ID,
		Holder:     existing.Holder,
		AcquiredAt: existing.AcquiredAt,
	}
}

// UpdateProgress records processed/total counters. Advisory: failures
// are logged and swallowed, the caller never sees them.
func (m *Manager) UpdateProgress(ctx context.Context, l *Lock, processed, total int) {
	l.Processed, l.Total = processed, total
	if err := m.store.UpdateProgress(ctx, l.ID, processed, total); err != nil {
		m.log.Warn().Err(err).Str("lock_id", l.ID.String()).Msg("lock progress update failed")
	}
}

// Release moves the lock to a terminal status. The key becomes eligible
// for a fresh acquire by a later batch.
func (m *Manager) Release(ctx context.Context, l *Lock, status Status, reason string) error {
	if status == StatusActive {
		return fmt.Errorf("release requires a terminal status, got %s", status)
	}
	if err := m.store.Release(ctx, l.ID, status, reason); err != nil {
		return fmt.Errorf("release lock %s: %w", l.Key, err)
	}
	l.Status = status
	l.Reason = reason
	m.log.Info().Str("key", l.Key.String()).Str("status", string(status)).Msg("lock released")
	return nil
}

// ForceRelease is the operator escape hatch for a stuck ACTIVE lock
// (e.g. the holding process died mid-batch). Never invoked
// automatically.
func (m *Manager) ForceRelease(ctx context.Context, id uuid.UUID, operator string) (*Lock, error) {
	l, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.Status != StatusActive {
		return nil, fmt.Errorf("lock %s is already %s", id, l.Status)
	}
	reason := fmt.Sprintf("force released by %s", operator)
	if err := m.store.Release(ctx, id, StatusFailed, reason); err != nil {
		return nil, fmt.Errorf("force release lock %s: %w", id, err)
	}
	l.Status = StatusFailed
	l.Reason = reason
	if m.metrics != nil {
		m.metrics.LocksForceReleased.Inc()
	}
	m.log.Warn().Str("lock_id", id.String()).Str("operator", operator).Msg("lock force released")
	return l, nil
}

// FindActive exposes the store lookup for validation checks (cleanup
// refuses to run while an ARCHIVE lock is ACTIVE).
func (m *Manager) FindActive(ctx context.Context, key Key) (*Lock, error) {
	return m.store.FindActive(ctx, key)
}
