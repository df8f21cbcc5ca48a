package persistence_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"CierreLedger/internal/audit"
	"CierreLedger/internal/closure"
	"CierreLedger/internal/lock"
	"CierreLedger/internal/period"
	"CierreLedger/internal/persistence"
	"CierreLedger/internal/testutil"
)

var periodDate = time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)

func setup(t *testing.T) *sql.DB {
	t.Helper()
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	migrator := persistence.NewMigrator(db, "../../migrations", zerolog.Nop())
	if err := migrator.Up(context.Background()); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	return db
}

func testLock(op lock.Op) *lock.Lock {
	return &lock.Lock{
		ID: uuid.New(),
		Key: lock.Key{
			PeriodDate: periodDate,
			PeriodType: period.FirstHalf,
			Op:         op,
		},
		Holder:     "integration-test",
		AcquiredAt: time.Now().UTC(),
		Status:     lock.StatusActive,
	}
}

func testRecord(participantID uuid.UUID, source string) closure.HistoryRecord {
	return closure.HistoryRecord{
		ID:            uuid.New(),
		BatchID:       uuid.New(),
		ParticipantID: participantID,
		PeriodDate:    periodDate,
		PeriodType:    period.FirstHalf,
		SourceID:      source,
		Value:         decimal.NewFromInt(100),
		RateEURUSD:    decimal.NewFromFloat(1.10),
		RateGBPUSD:    decimal.NewFromFloat(1.25),
		RateUSDCOP:    decimal.NewFromInt(4000),
		CommissionPct: decimal.NewFromInt(60),
		GrossUSD:      decimal.NewFromInt(100),
		ShareUSD:      decimal.NewFromInt(60),
		ShareCOP:      decimal.NewFromInt(240000),
		CreatedAt:     time.Now().UTC(),
	}
}

// ==== Test: Lock store single winner ====

func TestLockStore_SingleWinner(t *testing.T) {
	db := setup(t)
	ctx := context.Background()
	store := persistence.NewLockStore(db)

	winner := testLock(lock.OpArchive)
	if err := store.Create(ctx, winner); err != nil {
		t.Fatalf("create: %v", err)
	}

	loser := testLock(lock.OpArchive)
	if err := store.Create(ctx, loser); !errors.Is(err, lock.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// A different op on the same period does not contend.
	if err := store.Create(ctx, testLock(lock.OpCleanup)); err != nil {
		t.Fatalf("cleanup lock blocked by archive lock: %v", err)
	}

	active, err := store.FindActive(ctx, winner.Key)
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if active == nil || active.ID != winner.ID {
		t.Fatalf("active = %+v", active)
	}

	if err := store.Release(ctx, winner.ID, lock.StatusCompleted, "done"); err != nil {
		t.Fatalf("release: %v", err)
	}
	// Releasing twice hits no ACTIVE row.
	if err := store.Release(ctx, winner.ID, lock.StatusCompleted, "done"); !errors.Is(err, lock.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// The partial index frees the key once the winner is terminal.
	if err := store.Create(ctx, testLock(lock.OpArchive)); err != nil {
		t.Fatalf("re-create after release: %v", err)
	}

	got, err := store.Get(ctx, winner.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != lock.StatusCompleted || got.ReleasedAt == nil {
		t.Fatalf("released lock: %+v", got)
	}
}

// ==== Test: History writes are idempotent per triple ====

func TestHistoryStore_IdempotentWrites(t *testing.T) {
	db := setup(t)
	ctx := context.Background()
	store := persistence.NewHistoryStore(db)
	pid := uuid.New()

	recs := []closure.HistoryRecord{
		testRecord(pid, "streamate"),
		testRecord(pid, closure.ConsolidatedSource),
	}
	if err := store.WriteRecords(ctx, recs); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Same triples again, fresh ids: the conflict target swallows them.
	if err := store.WriteRecords(ctx, []closure.HistoryRecord{
		testRecord(pid, "streamate"),
		testRecord(pid, closure.ConsolidatedSource),
	}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	count, err := store.CountForPeriod(ctx, periodDate)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	exists, err := store.ExistsForParticipant(ctx, pid, periodDate)
	if err != nil || !exists {
		t.Fatalf("exists = %v %v", exists, err)
	}
	ids, err := store.ArchivedParticipants(ctx, periodDate)
	if err != nil || len(ids) != 1 || ids[0] != pid {
		t.Fatalf("archived = %v %v", ids, err)
	}
}

// ==== Test: Tombstone copy is idempotent, delete counts rows ====

func TestLedgerStore_TombstoneAndDelete(t *testing.T) {
	db := setup(t)
	ctx := context.Background()
	store := persistence.NewLedgerStore(db)
	pid := uuid.New()

	for _, day := range []int{3, 9} {
		_, err := db.ExecContext(ctx, `
			INSERT INTO live_entries (participant_id, source_id, entry_date, value, updated_at)
			VALUES ($1, 'streamate', $2, 100, NOW())`,
			pid, time.Date(2025, time.July, day, 0, 0, 0, 0, time.UTC),
		)
		if err != nil {
			t.Fatalf("seed entry: %v", err)
		}
	}
	start := periodDate
	end := time.Date(2025, time.July, 15, 0, 0, 0, 0, time.UTC)

	entries, err := store.EntriesInWindow(ctx, start, end)
	if err != nil || len(entries) != 2 {
		t.Fatalf("window = %d %v", len(entries), err)
	}

	batchID := uuid.New()
	tombstones := make([]closure.ArchivedLiveEntry, len(entries))
	for i, e := range entries {
		tombstones[i] = closure.ArchivedLiveEntry{
			LiveEntry:  e,
			BatchID:    batchID,
			ArchivedBy: "integration-test",
			ArchivedAt: time.Now().UTC(),
			Restorable: true,
		}
	}
	n, err := store.ArchiveEntries(ctx, tombstones)
	if err != nil || n != 2 {
		t.Fatalf("tombstone = %d %v", n, err)
	}
	// Re-copying the same rows is a no-op, not a duplicate-key failure.
	if _, err := store.ArchiveEntries(ctx, tombstones); err != nil {
		t.Fatalf("re-tombstone: %v", err)
	}

	deleted, err := store.DeleteEntries(ctx, start, end)
	if err != nil || deleted != 2 {
		t.Fatalf("deleted = %d %v", deleted, err)
	}
	entries, err = store.EntriesInWindow(ctx, start, end)
	if err != nil || len(entries) != 0 {
		t.Fatalf("window after delete = %d %v", len(entries), err)
	}
}

// ==== Test: Snapshot uniqueness per period ====

func TestSnapshotStore_OnePerPeriod(t *testing.T) {
	db := setup(t)
	ctx := context.Background()
	store := persistence.NewSnapshotStore(db)

	snap := closure.PeriodSnapshot{
		ID:         uuid.New(),
		BatchID:    uuid.New(),
		PeriodDate: periodDate,
		PeriodType: period.FirstHalf,
		Operator:   "integration-test",
		Payload:    []byte(`{"entries":[],"totals":[]}`),
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.Create(ctx, snap); err != nil {
		t.Fatalf("create: %v", err)
	}

	exists, err := store.Exists(ctx, periodDate)
	if err != nil || !exists {
		t.Fatalf("exists = %v %v", exists, err)
	}

	dup := snap
	dup.ID = uuid.New()
	if err := store.Create(ctx, dup); err == nil {
		t.Fatal("expected duplicate snapshot to be rejected")
	}

	got, err := store.Get(ctx, periodDate)
	if err != nil || got == nil {
		t.Fatalf("get = %v %v", got, err)
	}
	if got.ID != snap.ID {
		t.Fatalf("snapshot id = %s, want %s", got.ID, snap.ID)
	}
}

// ==== Test: Audit append and last-entry lookup ====

func TestAuditStore_LastForPeriod(t *testing.T) {
	db := setup(t)
	ctx := context.Background()
	store := persistence.NewAuditStore(db)
	base := time.Now().UTC().Truncate(time.Microsecond)

	for i, ev := range []audit.Event{audit.EventArchiveStart, audit.EventArchiveComplete, audit.EventCleanupStart} {
		err := store.Append(ctx, audit.Entry{
			ID:         uuid.New(),
			BatchID:    uuid.New(),
			Event:      ev,
			PeriodDate: periodDate,
			PeriodType: period.FirstHalf,
			Operator:   "integration-test",
			Details:    audit.Details{Status: "success"},
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("append %s: %v", ev, err)
		}
	}

	last, err := store.LastForPeriod(ctx, periodDate)
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if last == nil || last.Event != audit.EventCleanupStart {
		t.Fatalf("last = %+v", last)
	}

	// Restricted to archive events the cleanup row is filtered out.
	last, err = store.LastForPeriod(ctx, periodDate, audit.EventArchiveStart, audit.EventArchiveComplete)
	if err != nil {
		t.Fatalf("last filtered: %v", err)
	}
	if last == nil || last.Event != audit.EventArchiveComplete {
		t.Fatalf("filtered last = %+v", last)
	}
	if last.Details.Status != "success" {
		t.Fatalf("details round-trip: %+v", last.Details)
	}
}
