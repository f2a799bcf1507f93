package usecase

import (
	"context"
	"math"
	"sync"
	"time"

	"TradeEngine/internal/domain/models"
	drepo "TradeEngine/internal/domain/repository"
)

const testSymbol = "BTCUSDT"

// genCandles builds n one-minute candles starting at start: a gentle uptrend with
// a short oscillation so every indicator has something to chew on.
func genCandles(start time.Time, n int) []models.Candle {
	out := make([]models.Candle, 0, n)
	for i := 0; i < n; i++ {
		mid := 100 + float64(i)*0.01 + math.Sin(float64(i)/5)*0.3
		open := mid - 0.05
		closePx := mid + 0.05
		out = append(out, models.Candle{
			Bucket: start.Add(time.Duration(i) * time.Minute),
			Symbol: testSymbol,
			Open:   open,
			High:   closePx + 0.1,
			Low:    open - 0.1,
			Close:  closePx,
			Volume: 10 + float64(i%7),
		})
	}
	return out
}

type staticHistory struct {
	candles []models.Candle
	err     error
}

func (h *staticHistory) GetCandles(context.Context, string, time.Time, time.Time, drepo.Timeframe) ([]models.Candle, error) {
	return h.candles, h.err
}

func (h *staticHistory) GetLatestNCandles(_ context.Context, _ string, n int, _ drepo.Timeframe) ([]models.Candle, error) {
	if h.err != nil {
		return nil, h.err
	}
	if len(h.candles) > n {
		return h.candles[len(h.candles)-n:], nil
	}
	return h.candles, nil
}

// fakeVenue is a scriptable TradingVenue.
type fakeVenue struct {
	mu sync.Mutex

	position    *models.Position
	positionErr error
	status      *models.OrderStatus
	statusErr   error
	placeErr    error

	placed       []models.OrderRequest
	canceled     []string
	positionHits int
	statusHits   int
}

func (f *fakeVenue) GetPosition(context.Context, string) (*models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positionHits++
	if f.positionErr != nil {
		return nil, f.positionErr
	}
	if f.position == nil {
		return nil, nil
	}
	p := *f.position
	return &p, nil
}

func (f *fakeVenue) GetOrderStatus(_ context.Context, _ string, orderID string) (*models.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusHits++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if f.status == nil {
		return &models.OrderStatus{OrderID: orderID, State: models.OrderPending}, nil
	}
	s := *f.status
	s.OrderID = orderID
	return &s, nil
}

func (f *fakeVenue) GetExchangeType() models.ExchangeType { return models.ExchangePaper }

func (f *fakeVenue) PlaceOrder(_ context.Context, req models.OrderRequest) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.placed = append(f.placed, req)
	return &models.Order{ID: "ord-" + req.ClientID, ClientID: req.ClientID, Symbol: req.Symbol, State: models.OrderPending}, nil
}

func (f *fakeVenue) CancelOrder(_ context.Context, _ string, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, orderID)
	return nil
}

func (f *fakeVenue) set(fn func(f *fakeVenue)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}
