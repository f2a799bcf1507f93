package models

import "time"

// Direction is the side of a trade.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Sign returns +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// Priority tells the consumer whether to execute immediately or wait for confirmation.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
)

// Trigger names the setup that produced a signal.
type Trigger string

const (
	TriggerPullback     Trigger = "pullback"
	TriggerSwingFailure Trigger = "swing_failure"
)

// TradingSignal is a scored trade proposal. It is consumed at most once.
type TradingSignal struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Direction    Direction `json:"direction"`
	Entry        float64   `json:"entry"`
	Stop         float64   `json:"stop"`
	Target       float64   `json:"target"`
	Confidence   float64   `json:"confidence"`
	Priority     Priority  `json:"priority"`
	Trigger      Trigger   `json:"trigger"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedIndex int64     `json:"created_index"`
	ExpiryIndex  int64     `json:"expiry_index"`
}

// Risk returns the absolute entry-to-stop distance.
func (s TradingSignal) Risk() float64 {
	r := (s.Entry - s.Stop) * s.Direction.Sign()
	if r < 0 {
		return -r
	}
	return r
}

// RewardRisk returns reward divided by risk, or 0 when risk is zero.
func (s TradingSignal) RewardRisk() float64 {
	risk := s.Risk()
	if risk == 0 {
		return 0
	}
	return (s.Target - s.Entry) * s.Direction.Sign() / risk
}

// Expired reports whether the signal is stale at the given candle.
func (s TradingSignal) Expired(index int64, at time.Time) bool {
	if s.ExpiryIndex > 0 && index > s.ExpiryIndex {
		return true
	}
	return !s.ExpiresAt.IsZero() && at.After(s.ExpiresAt)
}

// FilterResult is the outcome of a hard entry gate.
type FilterResult struct {
	Passed    bool    `json:"passed"`
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Reason    string  `json:"reason,omitempty"`
}
