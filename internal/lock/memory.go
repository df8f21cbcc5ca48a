package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and single-node
// deployments without Postgres. Mirrors the single-winner semantics of
// the Postgres store under a mutex.
type MemoryStore struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*Lock
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locks: make(map[uuid.UUID]*Lock)}
}

func (s *MemoryStore) Create(ctx context.Context, l *Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.locks {
		if existing.Status == StatusActive && sameKey(existing.Key, l.Key) {
			return ErrConflict
		}
	}
	cp := *l
	s.locks[l.ID] = &cp
	return nil
}

func (s *MemoryStore) FindActive(ctx context.Context, key Key) (*Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.locks {
		if l.Status == StatusActive && sameKey(l.Key, key) {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *MemoryStore) UpdateProgress(ctx context.Context, id uuid.UUID, processed, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		return ErrNotFound
	}
	l.Processed, l.Total = processed, total
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, id uuid.UUID, status Status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	l.Status = status
	l.Reason = reason
	l.ReleasedAt = &now
	return nil
}

func sameKey(a, b Key) bool {
	return a.PeriodDate.Equal(b.PeriodDate) && a.PeriodType == b.PeriodType && a.Op == b.Op
}
