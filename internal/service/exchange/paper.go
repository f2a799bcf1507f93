package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"TradeEngine/internal/domain/models"
	drepo "TradeEngine/internal/domain/repository"
	"TradeEngine/pkg/logger"

	"github.com/google/uuid"
)

// ClosedTrade is a paper position that hit its stop or target.
type ClosedTrade struct {
	Position  models.Position `json:"position"`
	ExitPrice float64         `json:"exit_price"`
	Reason    string          `json:"reason"` // "stop" or "target"
	ClosedAt  time.Time       `json:"closed_at"`
	PnL       float64         `json:"pnl"`
}

type PaperOption func(*PaperExchange)

// WithFillDelay keeps new orders pending for n observed candles before they fill.
func WithFillDelay(n int) PaperOption {
	return func(p *PaperExchange) {
		if n > 0 {
			p.fillDelay = n
		}
	}
}

type paperOrder struct {
	req     models.OrderRequest
	status  models.OrderStatus
	waiting int // candles left before the fill
}

// PaperExchange simulates a venue in memory. Entries fill at the requested
// price. A position closes on the first observed candle that reaches its stop
// or target; when one candle reaches both, the stop wins. The first candle
// observed after a fill may have traded before the entry, so only its close
// is tested.
type PaperExchange struct {
	mu        sync.Mutex
	orders    map[string]*paperOrder
	byClient  map[string]string
	positions map[string]*models.Position // by symbol
	fresh     map[string]bool             // symbol filled since the last observed candle
	closed    []ClosedTrade
	fillDelay int
	now       func() time.Time
	log       *logger.Logger
}

func NewPaperExchange(log *logger.Logger, opts ...PaperOption) *PaperExchange {
	if log == nil {
		log = logger.Nop()
	}
	p := &PaperExchange{
		orders:    make(map[string]*paperOrder),
		byClient:  make(map[string]string),
		positions: make(map[string]*models.Position),
		fresh:     make(map[string]bool),
		now:       time.Now,
		log:       log.With(logger.String("exchange", "paper")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *PaperExchange) GetExchangeType() models.ExchangeType { return models.ExchangePaper }

// PlaceOrder is idempotent on ClientID. Invalid requests and requests for a
// symbol that already has an open position are accepted as rejected orders.
func (p *PaperExchange) PlaceOrder(_ context.Context, req models.OrderRequest) (*models.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.byClient[req.ClientID]; ok && req.ClientID != "" {
		o := p.orders[id]
		return &models.Order{ID: id, ClientID: req.ClientID, Symbol: req.Symbol, State: o.status.State}, nil
	}

	now := p.now().UTC()
	o := &paperOrder{
		req:     req,
		waiting: p.fillDelay,
		status: models.OrderStatus{
			OrderID:   uuid.NewString(),
			Symbol:    req.Symbol,
			State:     models.OrderPending,
			UpdatedAt: now,
		},
	}
	if reason := p.rejectReason(req); reason != "" {
		o.status.State = models.OrderRejected
		o.status.Reason = reason
	} else if o.waiting == 0 {
		p.fill(o, now)
	}

	p.orders[o.status.OrderID] = o
	if req.ClientID != "" {
		p.byClient[req.ClientID] = o.status.OrderID
	}
	p.log.Info("paper order placed",
		logger.String("order_id", o.status.OrderID),
		logger.String("client_id", req.ClientID),
		logger.String("direction", string(req.Direction)),
		logger.Float64("price", req.Price),
		logger.String("state", string(o.status.State)),
	)
	return &models.Order{ID: o.status.OrderID, ClientID: req.ClientID, Symbol: req.Symbol, State: o.status.State}, nil
}

func (p *PaperExchange) rejectReason(req models.OrderRequest) string {
	switch {
	case req.Symbol == "":
		return "symbol_missing"
	case req.Direction != models.Long && req.Direction != models.Short:
		return "direction_invalid"
	case req.Size <= 0 || req.Price <= 0:
		return "size_or_price_invalid"
	case p.positions[req.Symbol] != nil:
		return "position_open"
	}
	return ""
}

// fill opens the position. Callers hold mu.
func (p *PaperExchange) fill(o *paperOrder, at time.Time) {
	pos := &models.Position{
		ID:         uuid.NewString(),
		Symbol:     o.req.Symbol,
		Direction:  o.req.Direction,
		Size:       o.req.Size,
		EntryPrice: o.req.Price,
		Stop:       o.req.Stop,
		Target:     o.req.Target,
		OpenedAt:   at,
	}
	p.positions[pos.Symbol] = pos
	p.fresh[pos.Symbol] = true
	o.status.State = models.OrderFilled
	o.status.FilledQty = o.req.Size
	o.status.AvgPrice = o.req.Price
	o.status.PositionID = pos.ID
	o.status.UpdatedAt = at
}

func (p *PaperExchange) CancelOrder(_ context.Context, _ string, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("cancel %s: %w", orderID, drepo.ErrNotFound)
	}
	if o.status.State == models.OrderPending {
		o.status.State = models.OrderCanceled
		o.status.UpdatedAt = p.now().UTC()
	}
	return nil
}

func (p *PaperExchange) GetOrderStatus(_ context.Context, _ string, orderID string) (*models.OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, drepo.ErrNotFound)
	}
	st := o.status
	return &st, nil
}

func (p *PaperExchange) GetPosition(_ context.Context, symbol string) (*models.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos := p.positions[symbol]
	if pos == nil {
		return nil, nil
	}
	out := *pos
	return &out, nil
}

// ObserveCandle advances delayed fills and closes positions whose stop or
// target the candle reached.
func (p *PaperExchange) ObserveCandle(c models.Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	at := c.Bucket
	for _, o := range p.orders {
		if o.status.State != models.OrderPending || o.req.Symbol != c.Symbol {
			continue
		}
		o.waiting--
		if o.waiting > 0 {
			continue
		}
		if p.positions[o.req.Symbol] != nil {
			o.status.State = models.OrderRejected
			o.status.Reason = "position_open"
			o.status.UpdatedAt = at
			continue
		}
		p.fill(o, at)
	}

	pos := p.positions[c.Symbol]
	if pos == nil {
		return
	}
	bar := c
	if p.fresh[c.Symbol] {
		delete(p.fresh, c.Symbol)
		bar.High, bar.Low = c.Close, c.Close
	}
	exit, reason, hit := exitFor(pos, bar)
	if !hit {
		return
	}
	trade := ClosedTrade{
		Position:  *pos,
		ExitPrice: exit,
		Reason:    reason,
		ClosedAt:  at,
		PnL:       (exit - pos.EntryPrice) * pos.Direction.Sign() * pos.Size,
	}
	p.closed = append(p.closed, trade)
	delete(p.positions, c.Symbol)
	delete(p.fresh, c.Symbol)
	p.log.Info("paper position closed",
		logger.String("position_id", pos.ID),
		logger.String("reason", reason),
		logger.Float64("exit", exit),
		logger.Float64("pnl", trade.PnL),
	)
}

func exitFor(pos *models.Position, c models.Candle) (float64, string, bool) {
	if pos.Direction == models.Short {
		if pos.Stop > 0 && c.High >= pos.Stop {
			return pos.Stop, "stop", true
		}
		if pos.Target > 0 && c.Low <= pos.Target {
			return pos.Target, "target", true
		}
		return 0, "", false
	}
	if pos.Stop > 0 && c.Low <= pos.Stop {
		return pos.Stop, "stop", true
	}
	if pos.Target > 0 && c.High >= pos.Target {
		return pos.Target, "target", true
	}
	return 0, "", false
}

// Closed returns the trades closed so far, oldest first.
func (p *PaperExchange) Closed() []ClosedTrade {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ClosedTrade(nil), p.closed...)
}

var (
	_ drepo.TradingVenue   = (*PaperExchange)(nil)
	_ drepo.CandleObserver = (*PaperExchange)(nil)
)
