package indicators

import (
	"math"

	"TradeEngine/internal/domain/models"
)

// Bands are Bollinger-style volatility bands around a simple moving average of closes.
type Bands struct {
	k      float64
	closes *window

	upper, middle, lower float64
}

func NewBands(period int, k float64) *Bands {
	return &Bands{k: k, closes: newWindow(period)}
}

func (b *Bands) Update(c models.Candle) {
	b.closes.push(c.Close)
	mean := b.closes.mean()
	variance := 0.0
	for i := 0; i < b.closes.len(); i++ {
		d := b.closes.at(i) - mean
		variance += d * d
	}
	variance /= float64(b.closes.len())
	sd := math.Sqrt(variance)

	b.middle = mean
	b.upper = mean + b.k*sd
	b.lower = mean - b.k*sd
}

func (b *Bands) Ready() bool { return b.closes.full() }

// Values returns upper, middle and lower.
func (b *Bands) Values() (float64, float64, float64) { return b.upper, b.middle, b.lower }

// Stochastic is the %K/%D oscillator bounded to [0,100].
type Stochastic struct {
	highs, lows *window
	ks          *window

	k, d, prevK float64
	hasK        bool
}

func NewStochastic(kPeriod, dPeriod int) *Stochastic {
	return &Stochastic{
		highs: newWindow(kPeriod),
		lows:  newWindow(kPeriod),
		ks:    newWindow(dPeriod),
	}
}

func (s *Stochastic) Update(c models.Candle) {
	s.highs.push(c.High)
	s.lows.push(c.Low)

	hh, ll := s.highs.max(), s.lows.min()
	k := 50.0
	if hh > ll {
		k = (c.Close - ll) / (hh - ll) * 100
	}

	if s.hasK {
		s.prevK = s.k
	} else {
		s.prevK = k
	}
	s.k = k
	s.hasK = true
	s.ks.push(k)
	s.d = s.ks.mean()
}

func (s *Stochastic) Ready() bool { return s.highs.full() && s.ks.full() }

// Values returns %K, %D and the previous %K.
func (s *Stochastic) Values() (float64, float64, float64) { return s.k, s.d, s.prevK }

// trueRange uses the previous close when one is known.
func trueRange(c models.Candle, prevClose float64, hasPrev bool) float64 {
	tr := c.High - c.Low
	if !hasPrev {
		return tr
	}
	return math.Max(tr, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
}

// ATR is Wilder's average true range.
type ATR struct {
	period    int
	count     int
	seed      float64
	value     float64
	prevClose float64
	hasPrev   bool
}

func NewATR(period int) *ATR { return &ATR{period: period} }

func (a *ATR) Update(c models.Candle) {
	tr := trueRange(c, a.prevClose, a.hasPrev)
	a.prevClose = c.Close
	a.hasPrev = true
	a.count++

	p := float64(a.period)
	switch {
	case a.count < a.period:
		a.seed += tr
		a.value = a.seed / float64(a.count)
	case a.count == a.period:
		a.seed += tr
		a.value = a.seed / p
	default:
		a.value = (a.value*(p-1) + tr) / p
	}
}

func (a *ATR) Ready() bool    { return a.count >= a.period }
func (a *ATR) Value() float64 { return a.value }

// ADX is Wilder's average directional index.
type ADX struct {
	period int

	prev    models.Candle
	hasPrev bool
	samples int

	trS, plusS, minusS float64
	dxSum              float64
	dxCount            int

	plusDI, minusDI float64
	value           float64
	ready           bool
}

func NewADX(period int) *ADX { return &ADX{period: period} }

func (a *ADX) Update(c models.Candle) {
	if !a.hasPrev {
		a.prev = c
		a.hasPrev = true
		return
	}

	up := c.High - a.prev.High
	down := a.prev.Low - c.Low
	plusDM, minusDM := 0.0, 0.0
	if up > down && up > 0 {
		plusDM = up
	}
	if down > up && down > 0 {
		minusDM = down
	}
	tr := trueRange(c, a.prev.Close, true)
	a.prev = c
	a.samples++

	p := float64(a.period)
	if a.samples <= a.period {
		a.trS += tr
		a.plusS += plusDM
		a.minusS += minusDM
		if a.samples < a.period {
			return
		}
	} else {
		a.trS = a.trS - a.trS/p + tr
		a.plusS = a.plusS - a.plusS/p + plusDM
		a.minusS = a.minusS - a.minusS/p + minusDM
	}

	dx := a.directional()
	if a.dxCount < a.period {
		a.dxSum += dx
		a.dxCount++
		a.value = a.dxSum / float64(a.dxCount)
		a.ready = a.dxCount == a.period
		return
	}
	a.value = (a.value*(p-1) + dx) / p
}

func (a *ADX) directional() float64 {
	if a.trS <= 0 {
		a.plusDI, a.minusDI = 0, 0
		return 0
	}
	a.plusDI = 100 * a.plusS / a.trS
	a.minusDI = 100 * a.minusS / a.trS
	sum := a.plusDI + a.minusDI
	if sum == 0 {
		return 0
	}
	return 100 * math.Abs(a.plusDI-a.minusDI) / sum
}

func (a *ADX) Ready() bool    { return a.ready }
func (a *ADX) Value() float64 { return a.value }

// DI returns +DI and -DI.
func (a *ADX) DI() (float64, float64) { return a.plusDI, a.minusDI }
