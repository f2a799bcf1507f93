package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"TradeEngine/internal/domain/models"
	domrepo "TradeEngine/internal/domain/repository"
)

// MemoryCandleHistory is a bounded in-process candle archive. It is the warm-up
// source when ClickHouse is disabled and records live candles as a CandleObserver
// so a later re-warm-up sees them.
type MemoryCandleHistory struct {
	mu      sync.RWMutex
	limit   int
	candles map[string][]models.Candle
}

func NewMemoryCandleHistory(limit int) *MemoryCandleHistory {
	return &MemoryCandleHistory{limit: limit, candles: make(map[string][]models.Candle)}
}

// Append adds candles for their symbol. Candles that do not advance time are ignored.
func (h *MemoryCandleHistory) Append(cs ...models.Candle) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range cs {
		list := h.candles[c.Symbol]
		if n := len(list); n > 0 && !c.Bucket.After(list[n-1].Bucket) {
			continue
		}
		list = append(list, c)
		if h.limit > 0 && len(list) > h.limit {
			list = list[len(list)-h.limit:]
		}
		h.candles[c.Symbol] = list
	}
}

// ObserveCandle implements CandleObserver.
func (h *MemoryCandleHistory) ObserveCandle(c models.Candle) { h.Append(c) }

func (h *MemoryCandleHistory) GetCandles(_ context.Context, symbol string, from, to time.Time, _ domrepo.Timeframe) ([]models.Candle, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	list := h.candles[symbol]
	lo := sort.Search(len(list), func(i int) bool { return !list[i].Bucket.Before(from) })
	out := make([]models.Candle, 0)
	for _, c := range list[lo:] {
		if c.Bucket.After(to) {
			break
		}
		out = append(out, c)
	}
	return out, nil
}

func (h *MemoryCandleHistory) GetLatestNCandles(_ context.Context, symbol string, n int, _ domrepo.Timeframe) ([]models.Candle, error) {
	if n <= 0 {
		return nil, domrepo.ErrInvalidInput
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	list := h.candles[symbol]
	if len(list) > n {
		list = list[len(list)-n:]
	}
	out := make([]models.Candle, len(list))
	copy(out, list)
	return out, nil
}

var (
	_ domrepo.CandleHistory  = (*MemoryCandleHistory)(nil)
	_ domrepo.CandleObserver = (*MemoryCandleHistory)(nil)
)
