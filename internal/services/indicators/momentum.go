package indicators

import (
	"time"

	"TradeEngine/internal/domain/models"
)

// Velocity is the percent change of close per minute over a fixed lookback of
// candles, plus its first difference.
type Velocity struct {
	closes *window
	times  []time.Time

	value, accel float64
	hasValue     bool
}

func NewVelocity(lookback int) *Velocity {
	return &Velocity{closes: newWindow(lookback + 1)}
}

func (v *Velocity) Update(c models.Candle) {
	v.closes.push(c.Close)
	v.times = append(v.times, c.Bucket)
	if len(v.times) > v.closes.len() {
		v.times = v.times[len(v.times)-v.closes.len():]
	}
	if !v.closes.full() {
		return
	}

	then := v.closes.oldest()
	minutes := c.Bucket.Sub(v.times[0]).Minutes()
	cur := 0.0
	if then > 0 && minutes > 0 {
		cur = (c.Close - then) / then * 100 / minutes
	}

	if v.hasValue {
		v.accel = cur - v.value
	}
	v.value = cur
	v.hasValue = true
}

func (v *Velocity) Ready() bool { return v.hasValue }

// Values returns velocity in %/min and acceleration in %/min per candle.
func (v *Velocity) Values() (float64, float64) { return v.value, v.accel }

// Pressure is the volume-weighted close location within each candle's range,
// summed over a window. -1 is all selling, +1 all buying.
type Pressure struct {
	deltas, volumes *window
}

func NewPressure(period int) *Pressure {
	return &Pressure{deltas: newWindow(period), volumes: newWindow(period)}
}

func (p *Pressure) Update(c models.Candle) {
	delta := 0.0
	if r := c.Range(); r > 0 {
		delta = c.Volume * (2*c.Close - c.High - c.Low) / r
	}
	p.deltas.push(delta)
	p.volumes.push(c.Volume)
}

func (p *Pressure) Ready() bool { return p.deltas.full() }

func (p *Pressure) Value() float64 {
	vol := p.volumes.sum()
	if vol <= 0 {
		return 0
	}
	return p.deltas.sum() / vol
}

// VolumeAverage is the mean volume of the candles before the current one.
type VolumeAverage struct {
	volumes *window
	prior   float64
	ready   bool
}

func NewVolumeAverage(period int) *VolumeAverage {
	return &VolumeAverage{volumes: newWindow(period)}
}

func (a *VolumeAverage) Update(c models.Candle) {
	a.ready = a.volumes.full()
	a.prior = a.volumes.mean()
	a.volumes.push(c.Volume)
}

func (a *VolumeAverage) Ready() bool    { return a.ready }
func (a *VolumeAverage) Value() float64 { return a.prior }
