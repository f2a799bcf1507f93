package signals

import (
	"math"

	"TradeEngine/internal/domain/models"
	"TradeEngine/pkg/config"
)

// SwingSource is the read side of the swing/zone tracker.
type SwingSource interface {
	Sweepable(kind models.SwingKind) []models.SwingPoint
	LastSwing(kind models.SwingKind) (models.SwingPoint, bool)
	Zones() []models.LiquidityZone
}

// SwingFailure describes a liquidity sweep that closed back through the swept level.
type SwingFailure struct {
	Direction    models.Direction
	Swing        models.SwingPoint
	SweepExtreme float64
	Penetration  float64 // fraction of the swing price
	Rejection    float64 // fraction of the swing price
	VolumeRatio  float64
}

// SwingFailureDetector flags sweeps of a prior swing extreme that reverse within
// the same or the next candle on outsized volume.
type SwingFailureDetector struct {
	VolumeMultiplier float64
	MinPenetration   float64
	MinRejection     float64
}

func NewSwingFailureDetector(cfg config.Engine) *SwingFailureDetector {
	return &SwingFailureDetector{
		VolumeMultiplier: cfg.SwingFailureVolumeMultiplier,
		MinPenetration:   cfg.SwingFailureMinPenetrationPct,
		MinRejection:     cfg.SwingFailureMinRejectionPct,
	}
}

// Detect looks for a failure in direction dir. A long failure sweeps a swing low;
// a short failure sweeps a swing high. The most recent qualifying swing wins.
func (d *SwingFailureDetector) Detect(dir models.Direction, cur, prev models.Candle, hasPrev bool, avgVolume float64, swings SwingSource) (SwingFailure, bool) {
	if avgVolume <= 0 || swings == nil {
		return SwingFailure{}, false
	}

	kind := models.SwingLow
	if dir == models.Short {
		kind = models.SwingHigh
	}

	var (
		best  SwingFailure
		found bool
	)
	for _, sw := range swings.Sweepable(kind) {
		if sw.Price <= 0 {
			continue
		}
		f, ok := d.evaluate(dir, sw, cur, prev, hasPrev, avgVolume)
		if !ok {
			continue
		}
		if !found || f.Swing.Index > best.Swing.Index {
			best, found = f, true
		}
	}
	return best, found
}

func (d *SwingFailureDetector) evaluate(dir models.Direction, sw models.SwingPoint, cur, prev models.Candle, hasPrev bool, avgVolume float64) (SwingFailure, bool) {
	sign := dir.Sign()
	// depth is how far a candle's extreme went past the swing, as a fraction.
	depth := func(c models.Candle) float64 {
		if dir == models.Long {
			return (sw.Price - c.Low) / sw.Price
		}
		return (c.High - sw.Price) / sw.Price
	}

	pen := depth(cur)
	extreme := cur.Low
	if dir == models.Short {
		extreme = cur.High
	}
	volume := 0.0
	if pen >= d.MinPenetration {
		volume = cur.Volume
	}
	if hasPrev && prev.Bucket.After(sw.Time) {
		if p := depth(prev); p >= d.MinPenetration {
			volume = math.Max(volume, prev.Volume)
			if p > pen {
				pen = p
				extreme = prev.Low
				if dir == models.Short {
					extreme = prev.High
				}
			}
		}
	}
	if pen < d.MinPenetration || pen <= 0 {
		return SwingFailure{}, false
	}

	rejection := (cur.Close - sw.Price) * sign / sw.Price
	if rejection < d.MinRejection || rejection <= 0 {
		return SwingFailure{}, false
	}

	ratio := volume / avgVolume
	if ratio < d.VolumeMultiplier {
		return SwingFailure{}, false
	}

	return SwingFailure{
		Direction:    dir,
		Swing:        sw,
		SweepExtreme: extreme,
		Penetration:  pen,
		Rejection:    rejection,
		VolumeRatio:  ratio,
	}, true
}
