// Package filters holds the hard entry gates. Each gate is a pure function of
// its inputs and returns a models.FilterResult; none of them ever panics on bad data.
package filters

import (
	"time"

	"TradeEngine/internal/domain/models"
	"TradeEngine/pkg/config"
)

const (
	NameADX    = "adx"
	NameSpread = "spread"

	ReasonADXBelowThreshold = "adx_below_threshold"
	ReasonStaleSpread       = "stale spread data"
	ReasonSpreadTooWide     = "spread_too_wide"
	ReasonInvalidQuote      = "invalid quote"
)

// ADXGate passes only when trend strength is at or above Threshold.
type ADXGate struct {
	Threshold float64
}

func NewADXGate(cfg config.Engine) ADXGate {
	return ADXGate{Threshold: cfg.ADXThreshold}
}

func (g ADXGate) Evaluate(adx float64) models.FilterResult {
	res := models.FilterResult{Name: NameADX, Value: adx, Threshold: g.Threshold, Passed: adx >= g.Threshold}
	if !res.Passed {
		res.Reason = ReasonADXBelowThreshold
	}
	return res
}

// SpreadGate fails closed on missing or stale quotes, then checks the normalized spread.
type SpreadGate struct {
	MaxAge time.Duration
	MaxPct float64
	Now    func() time.Time
}

func NewSpreadGate(cfg config.Engine) SpreadGate {
	return SpreadGate{MaxAge: cfg.SpreadMaxAge, MaxPct: cfg.SpreadMaxPct, Now: time.Now}
}

func (g SpreadGate) Evaluate(q *models.Quote) models.FilterResult {
	res := models.FilterResult{Name: NameSpread, Threshold: g.MaxPct}

	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	if q == nil || now().Sub(q.ReceivedAt) > g.MaxAge {
		res.Reason = ReasonStaleSpread
		return res
	}
	if q.Bid <= 0 || q.Ask < q.Bid {
		res.Reason = ReasonInvalidQuote
		return res
	}

	res.Value = (q.Ask - q.Bid) / q.Bid
	res.Passed = res.Value < g.MaxPct
	if !res.Passed {
		res.Reason = ReasonSpreadTooWide
	}
	return res
}
