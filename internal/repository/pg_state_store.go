package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TradeEngine/internal/domain/models"
	domrepo "TradeEngine/internal/domain/repository"
	"TradeEngine/pkg/postgres"

	"github.com/jackc/pgx/v5"
)

// PGStateStore keeps one recovery row per symbol in engine_state and appends
// every write to engine_state_history in the same transaction.
type PGStateStore struct {
	pool   *postgres.Pool
	symbol string
}

func NewPGStateStore(pool *postgres.Pool, symbol string) *PGStateStore {
	return &PGStateStore{pool: pool, symbol: symbol}
}

func (s *PGStateStore) SaveState(ctx context.Context, state models.SystemState, orderID, positionID string) error {
	if !state.Valid() {
		return domrepo.ErrInvalidInput
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO engine_state (symbol, state, order_id, position_id, updated_at)
			VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NOW())
			ON CONFLICT (symbol) DO UPDATE
			SET state = EXCLUDED.state,
			    order_id = EXCLUDED.order_id,
			    position_id = EXCLUDED.position_id,
			    updated_at = NOW()
		`, s.symbol, string(state), orderID, positionID); err != nil {
			return fmt.Errorf("upsert engine_state: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO engine_state_history (symbol, state, order_id, position_id)
			VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''))
		`, s.symbol, string(state), orderID, positionID); err != nil {
			return fmt.Errorf("append engine_state_history: %w", err)
		}
		return nil
	})
}

func (s *PGStateStore) LoadState(ctx context.Context) (*models.PersistedState, error) {
	var (
		raw        string
		orderID    *string
		positionID *string
		updatedAt  time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT state, order_id, position_id, updated_at
		FROM engine_state
		WHERE symbol = $1
	`, s.symbol).Scan(&raw, &orderID, &positionID, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domrepo.ErrNotFound
		}
		return nil, err
	}

	state, err := models.ParseSystemState(raw)
	if err != nil {
		return nil, fmt.Errorf("load state: %v: %w", err, domrepo.ErrInvalidInput)
	}
	ps := &models.PersistedState{State: state, Timestamp: updatedAt.UTC()}
	if orderID != nil {
		ps.OrderID = *orderID
	}
	if positionID != nil {
		ps.PositionID = *positionID
	}
	return ps, nil
}

// History returns the latest n persisted writes, newest first.
func (s *PGStateStore) History(ctx context.Context, n int) ([]models.PersistedState, error) {
	if n <= 0 {
		return nil, domrepo.ErrInvalidInput
	}
	rows, err := s.pool.Query(ctx, `
		SELECT state, COALESCE(order_id, ''), COALESCE(position_id, ''), recorded_at
		FROM engine_state_history
		WHERE symbol = $1
		ORDER BY id DESC
		LIMIT $2
	`, s.symbol, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PersistedState
	for rows.Next() {
		var (
			ps  models.PersistedState
			raw string
		)
		if err := rows.Scan(&raw, &ps.OrderID, &ps.PositionID, &ps.Timestamp); err != nil {
			return nil, err
		}
		ps.State = models.SystemState(raw)
		out = append(out, ps)
	}
	return out, rows.Err()
}

var _ domrepo.StateStore = (*PGStateStore)(nil)
