package indicators

import (
	"fmt"
	"math"

	"TradeEngine/internal/domain/errs"
	"TradeEngine/internal/domain/models"
	"TradeEngine/pkg/config"
)

// Bundle owns every streaming indicator for one instrument and advances them
// together, one closed candle at a time. It is not safe for concurrent use; the
// decision loop is its only writer.
type Bundle struct {
	vwap     *VWAP
	bands    *Bands
	stoch    *Stochastic
	atr      *ATR
	adx      *ADX
	velocity *Velocity
	pressure *Pressure
	volume   *VolumeAverage
	swings   *SwingTracker

	index   int64
	last    models.Candle
	prev    models.Candle
	hasLast bool
	hasPrev bool
	snap    models.IndicatorSnapshot
}

func NewBundle(cfg config.Engine) *Bundle {
	return &Bundle{
		vwap:     NewVWAP(cfg.VWAPResetHour, cfg.Location()),
		bands:    NewBands(cfg.BandPeriod, cfg.BandStdDev),
		stoch:    NewStochastic(cfg.StochK, cfg.StochD),
		atr:      NewATR(cfg.ATRPeriod),
		adx:      NewADX(cfg.ADXPeriod),
		velocity: NewVelocity(cfg.VelocityLookback),
		pressure: NewPressure(cfg.PressureWindow),
		volume:   NewVolumeAverage(cfg.VolumeAvgPeriod),
		swings:   NewSwingTracker(cfg.SwingLookback, cfg.MaxZones, cfg.ZoneTolerancePct),
	}
}

// Update validates c, rejects candles that do not advance time, and folds it into
// every indicator. The returned snapshot is a value copy.
func (b *Bundle) Update(c models.Candle) (models.IndicatorSnapshot, error) {
	const op = "indicators.Update"
	if err := c.Validate(); err != nil {
		return b.snap, errs.Recoverable(op, errs.CodeMalformedCandle, err)
	}
	if b.hasLast && !c.Bucket.After(b.last.Bucket) {
		return b.snap, errs.Recoverable(op, errs.CodeOutOfOrderCandle,
			fmt.Errorf("bucket %s not after %s", c.Bucket, b.last.Bucket))
	}

	b.index++
	b.vwap.Update(c)
	b.bands.Update(c)
	b.stoch.Update(c)
	b.atr.Update(c)
	b.adx.Update(c)
	b.velocity.Update(c)
	b.pressure.Update(c)
	b.volume.Update(c)
	b.swings.Update(c, b.index)

	if b.hasLast {
		b.prev = b.last
		b.hasPrev = true
	}
	b.last = c
	b.hasLast = true

	upper, middle, lower := b.bands.Values()
	k, d, prevK := b.stoch.Values()
	vel, accel := b.velocity.Values()
	b.snap = models.IndicatorSnapshot{
		Time:         c.Bucket,
		Index:        b.index,
		Close:        c.Close,
		VWAP:         b.vwap.Value(),
		BandUpper:    upper,
		BandMiddle:   middle,
		BandLower:    lower,
		StochK:       k,
		StochD:       d,
		PrevStochK:   prevK,
		ADX:          b.adx.Value(),
		ATR:          b.atr.Value(),
		Velocity:     vel,
		Acceleration: accel,
		Pressure:     b.pressure.Value(),
		AvgVolume:    b.volume.Value(),
		Ready:        b.ready(),
	}
	return b.snap, nil
}

func (b *Bundle) ready() bool {
	return b.vwap.Ready() && b.bands.Ready() && b.stoch.Ready() && b.atr.Ready() &&
		b.adx.Ready() && b.velocity.Ready() && b.pressure.Ready() && b.volume.Ready()
}

// Snapshot returns the values computed for the last accepted candle.
func (b *Bundle) Snapshot() models.IndicatorSnapshot { return b.snap }

// Ready reports whether every indicator has a full window.
func (b *Bundle) Ready() bool { return b.snap.Ready }

// Count is the number of candles accepted so far.
func (b *Bundle) Count() int64 { return b.index }

// LastCandle returns the most recent accepted candle.
func (b *Bundle) LastCandle() (models.Candle, bool) { return b.last, b.hasLast }

// PrevCandle returns the candle accepted before LastCandle.
func (b *Bundle) PrevCandle() (models.Candle, bool) { return b.prev, b.hasPrev }

// Swings exposes the swing and zone tracker for read access.
func (b *Bundle) Swings() *SwingTracker { return b.swings }

// VWAPResets counts session boundaries crossed.
func (b *Bundle) VWAPResets() int { return b.vwap.Resets() }

// DI returns the directional indicators backing the ADX.
func (b *Bundle) DI() (float64, float64) { return b.adx.DI() }

// Sane reports whether the snapshot holds finite, usable values.
func Sane(s models.IndicatorSnapshot) bool {
	for _, v := range []float64{s.VWAP, s.BandUpper, s.BandMiddle, s.BandLower, s.StochK, s.ADX, s.ATR, s.Velocity, s.Pressure} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return s.VWAP > 0
}
