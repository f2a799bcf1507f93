package models

import "time"

// IndicatorSnapshot holds per-candle derived values. It is passed by value.
type IndicatorSnapshot struct {
	Time         time.Time `json:"time"`
	Index        int64     `json:"index"`
	Close        float64   `json:"close"`
	VWAP         float64   `json:"vwap"`
	BandUpper    float64   `json:"band_upper"`
	BandMiddle   float64   `json:"band_middle"`
	BandLower    float64   `json:"band_lower"`
	StochK       float64   `json:"stoch_k"`
	StochD       float64   `json:"stoch_d"`
	PrevStochK   float64   `json:"prev_stoch_k"`
	ADX          float64   `json:"adx"`
	ATR          float64   `json:"atr"`
	Velocity     float64   `json:"velocity"`     // percent per minute
	Acceleration float64   `json:"acceleration"` // change of velocity per candle
	Pressure     float64   `json:"pressure"`     // -1 (sell) .. 1 (buy)
	AvgVolume    float64   `json:"avg_volume"`   // average of the volumes before this candle
	Confidence   float64   `json:"confidence"`
	Ready        bool      `json:"ready"`
}

// SwingKind is either a swing high or a swing low.
type SwingKind string

const (
	SwingHigh SwingKind = "high"
	SwingLow  SwingKind = "low"
)

// SwingPoint is a confirmed local extreme.
type SwingPoint struct {
	Price float64   `json:"price"`
	Time  time.Time `json:"time"`
	Index int64     `json:"index"`
	Kind  SwingKind `json:"kind"`
}

// ZoneKind classifies a liquidity zone.
type ZoneKind string

const (
	// ZoneStopCluster sits beyond a single swing extreme.
	ZoneStopCluster ZoneKind = "stop_cluster"
	// ZoneTarget forms where several swings of one side line up (equal highs/lows).
	ZoneTarget ZoneKind = "target_zone"
)

// LiquidityZone is a price band where resting orders are likely clustered.
type LiquidityZone struct {
	Low          float64    `json:"low"`
	High         float64    `json:"high"`
	Kind         ZoneKind   `json:"kind"`
	Side         SwingKind  `json:"side"`
	Origin       SwingPoint `json:"origin"`
	Touches      int        `json:"touches"`
	CreatedIndex int64      `json:"created_index"`
}

// Mid returns the zone midpoint.
func (z LiquidityZone) Mid() float64 { return (z.Low + z.High) / 2 }

// Contains reports whether price is inside the zone.
func (z LiquidityZone) Contains(price float64) bool { return price >= z.Low && price <= z.High }
