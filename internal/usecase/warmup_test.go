package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"TradeEngine/internal/domain/errs"
	"TradeEngine/internal/services/indicators"
	"TradeEngine/pkg/config"
	"TradeEngine/pkg/logger"
	"TradeEngine/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var midnight = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func newWarmup(h *staticHistory) (*WarmupManager, *indicators.Bundle) {
	cfg := config.DefaultEngine()
	return NewWarmupManager(cfg, h, metrics.Nop{}, logger.Nop()), indicators.NewBundle(cfg)
}

func TestWarmupReplaysAcrossSessionBoundary(t *testing.T) {
	// 1000 candles starting 500 minutes before midnight cross one reset.
	w, b := newWarmup(&staticHistory{candles: genCandles(midnight.Add(-500*time.Minute), 1000)})

	res, err := w.Run(context.Background(), b)

	require.NoError(t, err)
	assert.Equal(t, 1000, res.Replayed)
	assert.Equal(t, 1, res.Resets)
	assert.True(t, res.Snapshot.Ready)
	assert.Greater(t, res.Snapshot.VWAP, 0.0)
	assert.Equal(t, int64(1000), b.Count())
}

func TestWarmupSortsNewestFirstHistory(t *testing.T) {
	candles := genCandles(midnight.Add(-500*time.Minute), 1000)
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	w, b := newWarmup(&staticHistory{candles: candles})

	res, err := w.Run(context.Background(), b)

	require.NoError(t, err)
	assert.Equal(t, 1000, res.Replayed)
	assert.Zero(t, res.Skipped)
	assert.Equal(t, 1, res.Resets)
	assert.Equal(t, midnight.Add(499*time.Minute), res.Last.Bucket)
}

func TestWarmupFailures(t *testing.T) {
	malformed := genCandles(midnight, 1000)
	malformed[500].High = malformed[500].Low - 1

	tests := []struct {
		name    string
		history *staticHistory
	}{
		{"history unavailable", &staticHistory{err: errors.New("clickhouse down")}},
		{"not enough candles", &staticHistory{candles: genCandles(midnight, 999)}},
		{"malformed candle leaves a gap", &staticHistory{candles: malformed}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, b := newWarmup(tt.history)
			_, err := w.Run(context.Background(), b)
			require.Error(t, err)
			assert.True(t, errs.IsFatal(err))
			assert.Equal(t, errs.CodeWarmupFailed, errs.CodeOf(err))
		})
	}
}
