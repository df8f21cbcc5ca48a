// Package query serves the read-only status surface of the closure
// engine: has a period been archived, is a run in flight, what was
// written, and is the period ready for cleanup.
package query

import (
	"context"
	"time"

	"CierreLedger/internal/audit"
	"CierreLedger/internal/closure"
	"CierreLedger/internal/lock"
	"CierreLedger/internal/period"
)

// HistoryReader is the slice of the history store the service needs.
type HistoryReader interface {
	CountForPeriod(ctx context.Context, periodDate time.Time) (int, error)
	RecordsForPeriod(ctx context.Context, periodDate time.Time) ([]closure.HistoryRecord, error)
}

// SnapshotReader resolves the recovery blob for a period, nil if none
// was written.
type SnapshotReader interface {
	Get(ctx context.Context, periodDate time.Time) (*closure.PeriodSnapshot, error)
}

// LockInfo is the caller-facing view of an active lock.
type LockInfo struct {
	ID         string      `json:"id"`
	Op         lock.Op     `json:"op"`
	Holder     string      `json:"holder"`
	AcquiredAt time.Time   `json:"acquired_at"`
	Status     lock.Status `json:"status"`
	Processed  int         `json:"processed"`
	Total      int         `json:"total"`
}

// ArchiveStatus is the answer to "what happened to this period".
type ArchiveStatus struct {
	PeriodDate     time.Time    `json:"period_date"`
	PeriodType     period.Type  `json:"period_type"`
	Archived       bool         `json:"archived"`
	HistoryRecords int          `json:"history_records"`
	InProgress     bool         `json:"in_progress"`
	Lock           *LockInfo    `json:"lock,omitempty"`
	LastAudit      *audit.Entry `json:"last_audit_entry,omitempty"`
}

// PeriodRecords is the archived rows of one period plus its key.
type PeriodRecords struct {
	PeriodDate time.Time               `json:"period_date"`
	PeriodType period.Type             `json:"period_type"`
	Records    []closure.HistoryRecord `json:"records"`
}

// Service answers status queries. All collaborators are read-only.
type Service struct {
	history   HistoryReader
	snapshots SnapshotReader
	locks     *lock.Manager
	audit     *audit.Writer
}

func NewService(history HistoryReader, snapshots SnapshotReader, locks *lock.Manager, auditw *audit.Writer) *Service {
	return &Service{history: history, snapshots: snapshots, locks: locks, audit: auditw}
}

func (s *Service) ArchiveStatus(ctx context.Context, per period.Period) (*ArchiveStatus, error) {
	st := &ArchiveStatus{PeriodDate: per.Date, PeriodType: per.Type}

	count, err := s.history.CountForPeriod(ctx, per.Date)
	if err != nil {
		return nil, err
	}
	st.HistoryRecords = count
	st.Archived = count > 0

	active, err := s.locks.FindActive(ctx, lock.Key{PeriodDate: per.Date, PeriodType: per.Type, Op: lock.OpArchive})
	if err != nil {
		return nil, err
	}
	if active != nil {
		st.InProgress = true
		st.Lock = &LockInfo{
			ID:         active.ID.String(),
			Op:         active.Key.Op,
			Holder:     active.Holder,
			AcquiredAt: active.AcquiredAt,
			Status:     active.Status,
			Processed:  active.Processed,
			Total:      active.Total,
		}
	}

	last, err := s.audit.Last(ctx, per.Date,
		audit.EventArchiveStart, audit.EventArchiveComplete, audit.EventArchiveError, audit.EventParticipantRepair)
	if err != nil {
		return nil, err
	}
	st.LastAudit = last

	return st, nil
}

// Records returns the archived rows for a period, empty when the period
// was never archived.
func (s *Service) Records(ctx context.Context, per period.Period) (*PeriodRecords, error) {
	recs, err := s.history.RecordsForPeriod(ctx, per.Date)
	if err != nil {
		return nil, err
	}
	return &PeriodRecords{PeriodDate: per.Date, PeriodType: per.Type, Records: recs}, nil
}

// Snapshot returns the period's recovery blob, nil if none was written.
func (s *Service) Snapshot(ctx context.Context, per period.Period) (*closure.PeriodSnapshot, error) {
	return s.snapshots.Get(ctx, per.Date)
}
