package middleware

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"TradeEngine/internal/domain/models"
	"TradeEngine/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	events []models.MarketEvent
	err    error
}

func (s *recordingSink) Submit(_ context.Context, ev models.MarketEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func candleAt(at time.Time) models.Candle {
	return models.Candle{Bucket: at, Symbol: "BTCUSDT", Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10}
}

func quoteAt(at time.Time) models.Quote {
	return models.Quote{Symbol: "BTCUSDT", Bid: 100, Ask: 100.01, ReceivedAt: at}
}

func newTestPipeline(sink Sink, clock *time.Time, opts ...PipelineOption) *RealtimePipeline {
	p := NewRealtimePipeline(sink, metrics.Nop{}, opts...)
	p.now = func() time.Time { return *clock }
	return p
}

func TestPipelineThrottlesQuotesButNeverCandles(t *testing.T) {
	clock := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	sink := &recordingSink{}
	p := newTestPipeline(sink, &clock, WithMaxRPS(2))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Process(ctx, models.QuoteEvent(quoteAt(clock))))
		require.NoError(t, p.Process(ctx, models.CandleEvent(candleAt(clock.Add(time.Duration(i)*time.Minute)))))
		clock = clock.Add(100 * time.Millisecond)
	}

	var candles, quotes int
	for _, ev := range sink.events {
		switch ev.Kind {
		case models.MarketEventCandle:
			candles++
		case models.MarketEventQuote:
			quotes++
		}
	}
	assert.Equal(t, 5, candles)
	// quotes arrive every 100ms; at 2/s only the first one fits the 500ms gap
	assert.Equal(t, 1, quotes)

	clock = clock.Add(time.Second)
	require.NoError(t, p.Process(ctx, models.QuoteEvent(quoteAt(clock))))
	assert.Len(t, sink.events, 7)
}

func TestPipelineRejectsInvalidEvents(t *testing.T) {
	clock := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	sink := &recordingSink{}
	p := newTestPipeline(sink, &clock)
	ctx := context.Background()

	bad := candleAt(clock)
	bad.High = 98
	assert.Error(t, p.Process(ctx, models.CandleEvent(bad)))

	noSymbol := candleAt(clock)
	noSymbol.Symbol = ""
	assert.Error(t, p.Process(ctx, models.CandleEvent(noSymbol)))

	assert.Error(t, p.Process(ctx, models.QuoteEvent(models.Quote{Symbol: "BTCUSDT", ReceivedAt: clock})))
	assert.Error(t, p.Process(ctx, models.MarketEvent{}))
	assert.Empty(t, sink.events)
}

func TestPipelineTransformRunsBeforeValidation(t *testing.T) {
	clock := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	sink := &recordingSink{}
	p := newTestPipeline(sink, &clock, WithTransform(func(ev models.MarketEvent) models.MarketEvent {
		ev.Candle.Symbol = strings.ToUpper(ev.Candle.Symbol)
		return ev
	}))

	c := candleAt(clock)
	c.Symbol = "btcusdt"
	require.NoError(t, p.Process(context.Background(), models.CandleEvent(c)))
	require.Len(t, sink.events, 1)
	assert.Equal(t, "BTCUSDT", sink.events[0].Candle.Symbol)
}

func TestPipelineWrapsSinkErrors(t *testing.T) {
	clock := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	p := newTestPipeline(&recordingSink{err: context.Canceled}, &clock)

	err := p.Process(context.Background(), models.CandleEvent(candleAt(clock)))

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
