package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TradeEngine/internal/domain/models"
	domrepo "TradeEngine/internal/domain/repository"
	"TradeEngine/pkg/cache"
)

// RedisStateStore keeps the recovery record as one JSON value per symbol.
// Any cache.Service works; production passes a *cache.RedisCache.
type RedisStateStore struct {
	cache  cache.Service
	symbol string
	now    func() time.Time
}

func NewRedisStateStore(c cache.Service, symbol string) *RedisStateStore {
	return &RedisStateStore{cache: c, symbol: symbol, now: time.Now}
}

func (s *RedisStateStore) key() string {
	return "engine:state:" + s.symbol
}

func (s *RedisStateStore) SaveState(ctx context.Context, state models.SystemState, orderID, positionID string) error {
	if !state.Valid() {
		return fmt.Errorf("save state %q: %w", state, domrepo.ErrInvalidInput)
	}
	rec := models.PersistedState{
		State:      state,
		OrderID:    orderID,
		PositionID: positionID,
		Timestamp:  s.now().UTC(),
	}
	if err := s.cache.Set(ctx, s.key(), rec, 0); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (s *RedisStateStore) LoadState(ctx context.Context) (*models.PersistedState, error) {
	var rec models.PersistedState
	if err := s.cache.Get(ctx, s.key(), &rec); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, domrepo.ErrNotFound
		}
		return nil, fmt.Errorf("load state: %w", err)
	}
	if !rec.State.Valid() {
		return nil, fmt.Errorf("load state: unknown state %q: %w", rec.State, domrepo.ErrInvalidInput)
	}
	return &rec, nil
}

var _ domrepo.StateStore = (*RedisStateStore)(nil)
