// Package signals turns one candle's indicator state into at most one scored
// trade proposal.
package signals

import (
	"math"
	"time"

	"TradeEngine/internal/domain/models"
	"TradeEngine/internal/services/filters"
	"TradeEngine/pkg/config"

	"github.com/google/uuid"
)

// Rejection reasons. They are stable strings suitable for metrics labels.
const (
	ReasonNotReady      = "indicators_not_ready"
	ReasonFOMO          = "fomo_velocity"
	ReasonNoTrend       = "no_trend"
	ReasonNoTrigger     = "no_trigger"
	ReasonLowConfidence = "confidence_below_floor"
	ReasonRewardRisk    = "reward_risk_below_minimum"
	ReasonNoRisk        = "non_positive_risk"
)

const (
	stopBufferATR    = 0.1
	fallbackStopATR  = 1.5
	zoneProximityATR = 1.0
	strongVolume     = 1.5
)

// Input is everything the generator reads for one closed candle.
type Input struct {
	Candle   models.Candle
	Prev     models.Candle
	HasPrev  bool
	Snapshot models.IndicatorSnapshot
	Swings   SwingSource
}

// Decision is the generator's verdict. Signal is nil when Reason is set.
type Decision struct {
	Signal     *models.TradingSignal
	Filters    []models.FilterResult
	Confidence float64
	Reason     string
}

// Generator is stateless apart from its configuration.
type Generator struct {
	cfg      config.Engine
	adx      filters.ADXGate
	detector *SwingFailureDetector
	newID    func() string
}

type GeneratorOption func(*Generator)

// WithIDFunc overrides signal id generation.
func WithIDFunc(fn func() string) GeneratorOption {
	return func(g *Generator) { g.newID = fn }
}

func NewGenerator(cfg config.Engine, opts ...GeneratorOption) *Generator {
	g := &Generator{
		cfg:      cfg,
		adx:      filters.NewADXGate(cfg),
		detector: NewSwingFailureDetector(cfg),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type trigger struct {
	kind     models.Trigger
	priority models.Priority
	strength float64
	failure  *SwingFailure
}

// Generate runs the pipeline: ADX gate, velocity gate, trend, triggers,
// confluence and levels. It never emits more than one signal.
func (g *Generator) Generate(in Input) Decision {
	snap := in.Snapshot
	if !snap.Ready {
		return Decision{Reason: ReasonNotReady}
	}

	adx := g.adx.Evaluate(snap.ADX)
	d := Decision{Filters: []models.FilterResult{adx}}
	if !adx.Passed {
		d.Reason = adx.Reason
		return d
	}

	dir, ok := g.trend(in.Candle.Close, snap.VWAP)
	if !ok {
		d.Reason = ReasonNoTrend
		return d
	}
	if snap.Velocity*dir.Sign() > g.cfg.FOMOVelocityPctPerMin {
		d.Reason = ReasonFOMO
		return d
	}

	trg, ok := g.detectTrigger(dir, in)
	if !ok {
		d.Reason = ReasonNoTrigger
		return d
	}

	d.Confidence = g.confluence(dir, trg, in)
	if d.Confidence < g.cfg.MinConfidence {
		d.Reason = ReasonLowConfidence
		return d
	}

	sig, reason := g.levels(dir, trg, in)
	if sig == nil {
		d.Reason = reason
		return d
	}
	sig.Confidence = d.Confidence
	d.Signal = sig
	return d
}

func (g *Generator) trend(close, vwap float64) (models.Direction, bool) {
	switch {
	case close > vwap:
		return models.Long, true
	case close < vwap:
		return models.Short, true
	default:
		return "", false
	}
}

func (g *Generator) detectTrigger(dir models.Direction, in Input) (trigger, bool) {
	if f, ok := g.detector.Detect(dir, in.Candle, in.Prev, in.HasPrev, in.Snapshot.AvgVolume, in.Swings); ok {
		bonus := 0.2 * math.Min(1, (f.VolumeRatio-g.detector.VolumeMultiplier)/g.detector.VolumeMultiplier)
		return trigger{
			kind:     models.TriggerSwingFailure,
			priority: models.PriorityHigh,
			strength: 0.6 + math.Max(0, bonus),
			failure:  &f,
		}, true
	}

	if g.pullback(dir, in) {
		strength := 0.5
		if in.Snapshot.AvgVolume > 0 && in.Candle.Volume >= strongVolume*in.Snapshot.AvgVolume {
			strength += 0.1
		}
		return trigger{kind: models.TriggerPullback, priority: models.PriorityMedium, strength: strength}, true
	}
	return trigger{}, false
}

// pullback: a touch of the outer band or VWAP, a %K cross out of the extreme,
// and a candle whose colour and volume confirm participation.
func (g *Generator) pullback(dir models.Direction, in Input) bool {
	c, s := in.Candle, in.Snapshot
	tol := g.cfg.TouchTolerancePct
	volumeOK := s.AvgVolume > 0 && c.Volume >= g.cfg.PullbackVolumeMultiple*s.AvgVolume

	if dir == models.Long {
		touched := c.Low <= s.BandLower*(1+tol) || c.Low <= s.VWAP*(1+tol)
		crossed := s.PrevStochK < 20 && s.StochK >= 20
		return touched && crossed && c.Bullish() && volumeOK
	}
	touched := c.High >= s.BandUpper*(1-tol) || c.High >= s.VWAP*(1-tol)
	crossed := s.PrevStochK > 80 && s.StochK <= 80
	return touched && crossed && c.Bearish() && volumeOK
}

func (g *Generator) confluence(dir models.Direction, trg trigger, in Input) float64 {
	s := in.Snapshot
	score := trg.strength
	score += 0.2 * s.Pressure * dir.Sign()

	if in.Swings != nil && s.ATR > 0 {
		if _, ok := supportiveZone(dir, in.Candle.Close, s.ATR*zoneProximityATR, in.Swings.Zones()); ok {
			score += 0.1
		}
	}
	if s.Velocity*s.Acceleration < 0 {
		score += 0.1
	}
	return math.Max(0, math.Min(1, score))
}

func (g *Generator) levels(dir models.Direction, trg trigger, in Input) (*models.TradingSignal, string) {
	s := in.Snapshot
	entry := in.Candle.Close
	sign := dir.Sign()
	buffer := stopBufferATR * s.ATR

	var stop float64
	if trg.failure != nil {
		stop = trg.failure.SweepExtreme - sign*buffer
	} else {
		stop = g.pullbackStop(dir, entry, in) - sign*buffer
	}

	risk := (entry - stop) * sign
	if risk <= 0 || math.IsNaN(risk) {
		return nil, ReasonNoRisk
	}

	target := entry + sign*risk*g.cfg.TargetRiskMultiple
	if in.Swings != nil {
		if edge, ok := opposingZoneEdge(dir, entry, in.Swings.Zones()); ok {
			target = edge
		}
	}

	sig := &models.TradingSignal{
		ID:           g.newID(),
		Symbol:       in.Candle.Symbol,
		Direction:    dir,
		Entry:        entry,
		Stop:         stop,
		Target:       target,
		Priority:     trg.priority,
		Trigger:      trg.kind,
		CreatedAt:    in.Candle.Bucket,
		ExpiresAt:    in.Candle.Bucket.Add(time.Duration(g.cfg.SignalExpiryCandles) * g.cfg.CandleInterval),
		CreatedIndex: s.Index,
		ExpiryIndex:  s.Index + int64(g.cfg.SignalExpiryCandles),
	}
	if sig.RewardRisk() < g.cfg.MinRewardRisk {
		return nil, ReasonRewardRisk
	}
	return sig, ""
}

// pullbackStop prefers the last swing beyond entry, then the outer band, then an ATR multiple.
func (g *Generator) pullbackStop(dir models.Direction, entry float64, in Input) float64 {
	s := in.Snapshot
	if dir == models.Long {
		if in.Swings != nil {
			if sw, ok := in.Swings.LastSwing(models.SwingLow); ok && sw.Price < entry {
				return sw.Price
			}
		}
		if s.BandLower > 0 && s.BandLower < entry {
			return s.BandLower
		}
		return entry - fallbackStopATR*s.ATR
	}
	if in.Swings != nil {
		if sw, ok := in.Swings.LastSwing(models.SwingHigh); ok && sw.Price > entry {
			return sw.Price
		}
	}
	if s.BandUpper > entry {
		return s.BandUpper
	}
	return entry + fallbackStopATR*s.ATR
}

// opposingZoneEdge returns the near edge of the closest zone on the profit side.
func opposingZoneEdge(dir models.Direction, entry float64, zones []models.LiquidityZone) (float64, bool) {
	best, found := 0.0, false
	for _, z := range zones {
		if dir == models.Long && z.Side == models.SwingHigh && z.Low > entry {
			if !found || z.Low < best {
				best, found = z.Low, true
			}
		}
		if dir == models.Short && z.Side == models.SwingLow && z.High < entry {
			if !found || z.High > best {
				best, found = z.High, true
			}
		}
	}
	return best, found
}

// supportiveZone finds a zone on the stop side within reach of entry.
func supportiveZone(dir models.Direction, entry, reach float64, zones []models.LiquidityZone) (models.LiquidityZone, bool) {
	for _, z := range zones {
		if dir == models.Long && z.Side == models.SwingLow && z.Low <= entry && entry-z.High <= reach {
			return z, true
		}
		if dir == models.Short && z.Side == models.SwingHigh && z.High >= entry && z.Low-entry <= reach {
			return z, true
		}
	}
	return models.LiquidityZone{}, false
}
