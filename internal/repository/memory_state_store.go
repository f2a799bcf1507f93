package repository

import (
	"context"
	"sync"
	"time"

	"TradeEngine/internal/domain/models"
	domrepo "TradeEngine/internal/domain/repository"
)

// MemoryStateStore keeps the recovery record in process. It backs tests and the
// "memory" persistence backend; nothing survives a restart.
type MemoryStateStore struct {
	mu     sync.RWMutex
	record *models.PersistedState
	saves  int
	now    func() time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{now: time.Now}
}

func (s *MemoryStateStore) SaveState(_ context.Context, state models.SystemState, orderID, positionID string) error {
	if !state.Valid() {
		return domrepo.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.record = &models.PersistedState{
		State:      state,
		OrderID:    orderID,
		PositionID: positionID,
		Timestamp:  s.now().UTC(),
	}
	s.saves++
	return nil
}

func (s *MemoryStateStore) LoadState(_ context.Context) (*models.PersistedState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.record == nil {
		return nil, domrepo.ErrNotFound
	}
	out := *s.record
	return &out, nil
}

// Saves counts successful writes.
func (s *MemoryStateStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

var _ domrepo.StateStore = (*MemoryStateStore)(nil)
