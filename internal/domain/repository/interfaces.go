package repository

import (
	"context"
	"errors"

	"TradeEngine/internal/domain/models"
)

var (
	// ErrNotFound is returned when no persisted record exists.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned for arguments a store refuses to write.
	ErrInvalidInput = errors.New("invalid input")
)

// MarketStream delivers candles and quotes from an upstream feed.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan models.MarketEvent, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// StateStore persists the single recovery record.
type StateStore interface {
	// SaveState overwrites the record. Empty ids mean "none".
	SaveState(ctx context.Context, state models.SystemState, orderID, positionID string) error
	// LoadState returns ErrNotFound when nothing has been saved.
	LoadState(ctx context.Context) (*models.PersistedState, error)
}

// EventPublisher delivers events at least once.
type EventPublisher interface {
	Publish(ctx context.Context, ev models.Event) error
}

// Exchange is the read-side capability used by recovery and the decision loop.
type Exchange interface {
	// GetPosition returns nil, nil when no position is open.
	GetPosition(ctx context.Context, symbol string) (*models.Position, error)
	GetOrderStatus(ctx context.Context, symbol, orderID string) (*models.OrderStatus, error)
	GetExchangeType() models.ExchangeType
}

// OrderExecutor places and cancels entry orders.
type OrderExecutor interface {
	PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

// TradingVenue is an exchange that can also take orders.
type TradingVenue interface {
	Exchange
	OrderExecutor
}

// CandleObserver receives every closed candle after the decision loop has processed it.
type CandleObserver interface {
	ObserveCandle(c models.Candle)
}

// Metrics records engine telemetry.
type Metrics interface {
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordLastPrice(symbol string, price float64)
	RecordTransition(from, to models.SystemState)
	RecordSignal(trigger models.Trigger, dir models.Direction)
	RecordFilter(name string, passed bool)
	SetState(state models.SystemState)
}
