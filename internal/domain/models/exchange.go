package models

import "time"

// ExchangeType is the closed set of exchange variants.
type ExchangeType string

const (
	ExchangePaper ExchangeType = "paper"
	ExchangeLive  ExchangeType = "live"
)

// Position is an open position reported by the exchange.
type Position struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Size       float64   `json:"size"`
	EntryPrice float64   `json:"entry_price"`
	Stop       float64   `json:"stop"`
	Target     float64   `json:"target"`
	OpenedAt   time.Time `json:"opened_at"`
}

// OrderState is the exchange-side status of an order.
type OrderState string

const (
	OrderPending  OrderState = "pending"
	OrderFilled   OrderState = "filled"
	OrderCanceled OrderState = "canceled"
	OrderRejected OrderState = "rejected"
	OrderExpired  OrderState = "expired"
)

// Terminal reports whether no further fills can happen.
func (s OrderState) Terminal() bool {
	return s == OrderFilled || s == OrderCanceled || s == OrderRejected || s == OrderExpired
}

// OrderStatus is returned by the exchange for an order id.
type OrderStatus struct {
	OrderID    string     `json:"order_id"`
	Symbol     string     `json:"symbol"`
	State      OrderState `json:"state"`
	FilledQty  float64    `json:"filled_qty"`
	AvgPrice   float64    `json:"avg_price"`
	PositionID string     `json:"position_id,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// OrderRequest is an entry order derived from a signal.
type OrderRequest struct {
	ClientID  string    `json:"client_id"`
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Size      float64   `json:"size"`
	Price     float64   `json:"price"`
	Stop      float64   `json:"stop"`
	Target    float64   `json:"target"`
}

// Order acknowledges an accepted order.
type Order struct {
	ID       string     `json:"id"`
	ClientID string     `json:"client_id"`
	Symbol   string     `json:"symbol"`
	State    OrderState `json:"state"`
}
