package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"TradeEngine/internal/domain/errs"
	"TradeEngine/internal/domain/models"
	drepo "TradeEngine/internal/domain/repository"
	"TradeEngine/internal/services/indicators"
	"TradeEngine/pkg/config"
	"TradeEngine/pkg/logger"
)

// WarmupResult summarizes a completed replay.
type WarmupResult struct {
	Snapshot models.IndicatorSnapshot
	Replayed int
	Skipped  int
	Resets   int
	Last     models.Candle
}

// WarmupManager primes an indicator bundle from history. It has no access to the
// signal generator, so nothing it replays can produce a signal.
type WarmupManager struct {
	symbol   string
	required int
	tf       drepo.Timeframe
	history  drepo.CandleHistory
	metrics  drepo.Metrics
	log      *logger.Logger
}

func NewWarmupManager(cfg config.Engine, history drepo.CandleHistory, metrics drepo.Metrics, log *logger.Logger) *WarmupManager {
	return &WarmupManager{
		symbol:   cfg.Symbol,
		required: cfg.WarmupCandles,
		tf:       drepo.TimeframeFor(cfg.CandleInterval),
		history:  history,
		metrics:  metrics,
		log:      log,
	}
}

// Run replays the latest candles through b in time order, whatever order the
// history returns them in. Malformed and duplicate candles are skipped; fewer
// valid candles than required fails.
func (w *WarmupManager) Run(ctx context.Context, b *indicators.Bundle) (WarmupResult, error) {
	const op = "warmup.Run"
	start := time.Now()
	defer func() { w.metrics.RecordLatency("warmup", time.Since(start).Seconds()) }()

	candles, err := w.history.GetLatestNCandles(ctx, w.symbol, w.required, w.tf)
	if err != nil {
		return WarmupResult{}, errs.Fatal(op, errs.CodeWarmupFailed, fmt.Errorf("load history: %w", err))
	}
	candles = append([]models.Candle(nil), candles...)
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Bucket.Before(candles[j].Bucket) })

	var res WarmupResult
	resetsBefore := b.VWAPResets()
	for _, c := range candles {
		if err := ctx.Err(); err != nil {
			return res, errs.Fatal(op, errs.CodeWarmupFailed, err)
		}
		if c.Symbol == "" {
			c.Symbol = w.symbol
		}
		snap, err := b.Update(c)
		if err != nil {
			res.Skipped++
			w.metrics.RecordError(errs.CodeOf(err))
			w.log.Debug("warmup candle skipped", logger.Error(err), logger.Time("bucket", c.Bucket))
			continue
		}
		res.Snapshot = snap
		res.Last = c
		res.Replayed++
	}
	res.Resets = b.VWAPResets() - resetsBefore

	if res.Replayed < w.required {
		return res, errs.Fatal(op, errs.CodeWarmupFailed,
			fmt.Errorf("insufficient history: %d valid of %d required (%d skipped)", res.Replayed, w.required, res.Skipped))
	}
	if !res.Snapshot.Ready || !indicators.Sane(res.Snapshot) {
		return res, errs.Fatal(op, errs.CodeWarmupFailed, fmt.Errorf("indicators not usable after replay (vwap %v)", res.Snapshot.VWAP))
	}

	w.log.Info("warmup complete",
		logger.Int("replayed", res.Replayed),
		logger.Int("skipped", res.Skipped),
		logger.Int("vwap_resets", res.Resets),
		logger.Float64("vwap", res.Snapshot.VWAP),
		logger.Float64("adx", res.Snapshot.ADX),
	)
	return res, nil
}
