package indicators

import (
	"math"
	"sort"

	"TradeEngine/internal/domain/models"
)

type bar struct {
	candle models.Candle
	index  int64
}

type sweptSwing struct {
	point   models.SwingPoint
	brokeAt int64
}

// SwingTracker confirms fractal swing points and maintains the liquidity zones
// resting beyond them. A swing at bar i is confirmed once lookback bars on each
// side have a strictly lower high (or strictly higher low).
type SwingTracker struct {
	lookback int
	maxZones int
	tolPct   float64

	bars  []bar
	highs []models.SwingPoint
	lows  []models.SwingPoint
	swept []sweptSwing
	zones []models.LiquidityZone
}

func NewSwingTracker(lookback, maxZones int, tolPct float64) *SwingTracker {
	return &SwingTracker{lookback: lookback, maxZones: maxZones, tolPct: tolPct}
}

// Update processes the candle at index. Swings and zones that c closes through
// are invalidated before any new swing is confirmed.
func (s *SwingTracker) Update(c models.Candle, index int64) {
	s.invalidate(c, index)

	s.bars = append(s.bars, bar{candle: c, index: index})
	span := 2*s.lookback + 1
	if len(s.bars) > span {
		s.bars = s.bars[len(s.bars)-span:]
	}
	if len(s.bars) < span {
		return
	}

	pivot := s.bars[s.lookback]
	isHigh, isLow := true, true
	for i, b := range s.bars {
		if i == s.lookback {
			continue
		}
		if b.candle.High >= pivot.candle.High {
			isHigh = false
		}
		if b.candle.Low <= pivot.candle.Low {
			isLow = false
		}
	}
	if isHigh {
		p := models.SwingPoint{Price: pivot.candle.High, Time: pivot.candle.Bucket, Index: pivot.index, Kind: models.SwingHigh}
		s.highs = appendCapped(s.highs, p, s.maxZones)
		s.addZone(p, index)
	}
	if isLow {
		p := models.SwingPoint{Price: pivot.candle.Low, Time: pivot.candle.Bucket, Index: pivot.index, Kind: models.SwingLow}
		s.lows = appendCapped(s.lows, p, s.maxZones)
		s.addZone(p, index)
	}
}

func (s *SwingTracker) invalidate(c models.Candle, index int64) {
	kept := s.swept[:0]
	for _, sw := range s.swept {
		if index-sw.brokeAt <= 1 {
			kept = append(kept, sw)
		}
	}
	s.swept = kept

	highs := s.highs[:0]
	for _, p := range s.highs {
		if c.Close > p.Price {
			s.swept = append(s.swept, sweptSwing{point: p, brokeAt: index})
			continue
		}
		highs = append(highs, p)
	}
	s.highs = highs

	lows := s.lows[:0]
	for _, p := range s.lows {
		if c.Close < p.Price {
			s.swept = append(s.swept, sweptSwing{point: p, brokeAt: index})
			continue
		}
		lows = append(lows, p)
	}
	s.lows = lows

	zones := s.zones[:0]
	for _, z := range s.zones {
		if z.Side == models.SwingHigh && c.Close > z.High {
			continue
		}
		if z.Side == models.SwingLow && c.Close < z.Low {
			continue
		}
		zones = append(zones, z)
	}
	s.zones = zones
}

func (s *SwingTracker) addZone(p models.SwingPoint, index int64) {
	for i := range s.zones {
		z := &s.zones[i]
		if z.Side != p.Kind || p.Price <= 0 {
			continue
		}
		if math.Abs(z.Origin.Price-p.Price)/p.Price <= s.tolPct {
			lo, hi := s.zoneBounds(p)
			z.Low = math.Min(z.Low, lo)
			z.High = math.Max(z.High, hi)
			z.Kind = models.ZoneTarget
			z.Touches++
			return
		}
	}

	lo, hi := s.zoneBounds(p)
	s.zones = append(s.zones, models.LiquidityZone{
		Low:          lo,
		High:         hi,
		Kind:         models.ZoneStopCluster,
		Side:         p.Kind,
		Origin:       p,
		Touches:      1,
		CreatedIndex: index,
	})
	if len(s.zones) > s.maxZones {
		sort.SliceStable(s.zones, func(i, j int) bool { return s.zones[i].CreatedIndex < s.zones[j].CreatedIndex })
		s.zones = s.zones[len(s.zones)-s.maxZones:]
	}
}

// zoneBounds places the band just beyond the swing extreme.
func (s *SwingTracker) zoneBounds(p models.SwingPoint) (float64, float64) {
	if p.Kind == models.SwingHigh {
		return p.Price, p.Price * (1 + s.tolPct)
	}
	return p.Price * (1 - s.tolPct), p.Price
}

func appendCapped(list []models.SwingPoint, p models.SwingPoint, limit int) []models.SwingPoint {
	list = append(list, p)
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list
}

// Swings returns active swings of kind, oldest first.
func (s *SwingTracker) Swings(kind models.SwingKind) []models.SwingPoint {
	src := s.lows
	if kind == models.SwingHigh {
		src = s.highs
	}
	out := make([]models.SwingPoint, len(src))
	copy(out, src)
	return out
}

// Sweepable returns active swings of kind plus those closed through on the
// current or previous candle. A failed sweep can close back on either of them.
func (s *SwingTracker) Sweepable(kind models.SwingKind) []models.SwingPoint {
	out := s.Swings(kind)
	for _, sw := range s.swept {
		if sw.point.Kind == kind {
			out = append(out, sw.point)
		}
	}
	return out
}

// LastSwing returns the most recently confirmed active swing of kind.
func (s *SwingTracker) LastSwing(kind models.SwingKind) (models.SwingPoint, bool) {
	src := s.lows
	if kind == models.SwingHigh {
		src = s.highs
	}
	if len(src) == 0 {
		return models.SwingPoint{}, false
	}
	return src[len(src)-1], true
}

// Zones returns a copy of the active liquidity zones.
func (s *SwingTracker) Zones() []models.LiquidityZone {
	out := make([]models.LiquidityZone, len(s.zones))
	copy(out, s.zones)
	return out
}
