package indicators

import (
	"time"

	"TradeEngine/internal/domain/models"
)

// VWAP is a session volume-weighted average of typical price. The session starts
// every day at resetHour in loc; a candle whose bucket equals the boundary opens
// the new session.
type VWAP struct {
	loc       *time.Location
	resetHour int

	session time.Time
	started bool
	pv      float64
	vol     float64
	value   float64
	resets  int
}

func NewVWAP(resetHour int, loc *time.Location) *VWAP {
	if loc == nil {
		loc = time.UTC
	}
	return &VWAP{loc: loc, resetHour: resetHour}
}

// SessionStart returns the boundary that opened the session containing t.
func (v *VWAP) SessionStart(t time.Time) time.Time {
	lt := t.In(v.loc)
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), v.resetHour, 0, 0, 0, v.loc)
	if lt.Before(start) {
		start = start.AddDate(0, 0, -1)
	}
	return start
}

// Update folds c into the session and reports whether the accumulator was reset first.
func (v *VWAP) Update(c models.Candle) bool {
	session := v.SessionStart(c.Bucket)
	reset := false
	if v.started && !session.Equal(v.session) {
		v.pv, v.vol = 0, 0
		v.resets++
		reset = true
	}
	v.session = session
	v.started = true

	tp := (c.High + c.Low + c.Close) / 3
	v.pv += tp * c.Volume
	v.vol += c.Volume
	if v.vol > 0 {
		v.value = v.pv / v.vol
	} else {
		v.value = tp
	}
	return reset
}

func (v *VWAP) Value() float64         { return v.value }
func (v *VWAP) Ready() bool            { return v.started }
func (v *VWAP) Resets() int            { return v.resets }
func (v *VWAP) Session() time.Time     { return v.session }
func (v *VWAP) SessionVolume() float64 { return v.vol }
