package models

import (
	"fmt"
	"math"
	"time"
)

// Candle represents a closed OHLCV bar.
type Candle struct {
	Bucket time.Time `json:"bucket"`
	Symbol string    `json:"symbol"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Bullish reports whether the candle closed above its open.
func (c Candle) Bullish() bool { return c.Close > c.Open }

// Bearish reports whether the candle closed below its open.
func (c Candle) Bearish() bool { return c.Close < c.Open }

// Range returns high minus low.
func (c Candle) Range() float64 { return c.High - c.Low }

// Validate checks OHLCV consistency.
func (c Candle) Validate() error {
	if c.Bucket.IsZero() {
		return fmt.Errorf("candle bucket is zero")
	}
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("candle has non-finite value")
		}
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return fmt.Errorf("candle has non-positive price")
	}
	if c.Volume < 0 {
		return fmt.Errorf("candle has negative volume")
	}
	if c.High < c.Low {
		return fmt.Errorf("candle high %.8f below low %.8f", c.High, c.Low)
	}
	if c.Open > c.High || c.Open < c.Low || c.Close > c.High || c.Close < c.Low {
		return fmt.Errorf("candle open/close outside high-low range")
	}
	return nil
}

// Quote is a best bid/ask observation.
type Quote struct {
	Symbol     string    `json:"symbol"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	ReceivedAt time.Time `json:"received_at"`
}

// Validate checks quote fields.
func (q Quote) Validate() error {
	if q.Symbol == "" {
		return fmt.Errorf("quote symbol empty")
	}
	if q.ReceivedAt.IsZero() {
		return fmt.Errorf("quote receive time is zero")
	}
	if q.Bid <= 0 || q.Ask <= 0 {
		return fmt.Errorf("quote has non-positive price")
	}
	return nil
}

// MarketEventKind distinguishes the payload of a MarketEvent.
type MarketEventKind int

const (
	MarketEventCandle MarketEventKind = iota + 1
	MarketEventQuote
)

// MarketEvent is the immutable unit producers enqueue for the decision loop.
type MarketEvent struct {
	Kind   MarketEventKind
	Candle Candle
	Quote  Quote
}

// CandleEvent wraps a candle.
func CandleEvent(c Candle) MarketEvent { return MarketEvent{Kind: MarketEventCandle, Candle: c} }

// QuoteEvent wraps a quote.
func QuoteEvent(q Quote) MarketEvent { return MarketEvent{Kind: MarketEventQuote, Quote: q} }
