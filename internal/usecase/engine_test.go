package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"TradeEngine/internal/domain/errs"
	"TradeEngine/internal/domain/models"
	"TradeEngine/internal/repository"
	"TradeEngine/internal/services/filters"
	"TradeEngine/internal/services/signals"
	"TradeEngine/pkg/config"
	"TradeEngine/pkg/logger"
	"TradeEngine/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedGenerator emits whatever fn returns.
type scriptedGenerator struct {
	fn    func(in signals.Input) *models.TradingSignal
	calls int
}

func (g *scriptedGenerator) Generate(in signals.Input) signals.Decision {
	g.calls++
	if g.fn == nil {
		return signals.Decision{Reason: signals.ReasonNoTrigger}
	}
	if sig := g.fn(in); sig != nil {
		return signals.Decision{Signal: sig, Confidence: sig.Confidence}
	}
	return signals.Decision{Reason: signals.ReasonNoTrigger}
}

// signalOnce fires a single signal on the first scanned candle.
func signalOnce(dir models.Direction, prio models.Priority) func(signals.Input) *models.TradingSignal {
	fired := false
	return func(in signals.Input) *models.TradingSignal {
		if fired {
			return nil
		}
		fired = true
		return testSignal(fmt.Sprintf("sig-%d", in.Snapshot.Index), dir, prio, in)
	}
}

func testSignal(id string, dir models.Direction, prio models.Priority, in signals.Input) *models.TradingSignal {
	entry := in.Candle.Close
	return &models.TradingSignal{
		ID:           id,
		Symbol:       testSymbol,
		Direction:    dir,
		Entry:        entry,
		Stop:         entry - dir.Sign()*1,
		Target:       entry + dir.Sign()*2,
		Confidence:   0.7,
		Priority:     prio,
		Trigger:      models.TriggerPullback,
		CreatedAt:    in.Candle.Bucket,
		ExpiresAt:    in.Candle.Bucket.Add(3 * time.Minute),
		CreatedIndex: in.Snapshot.Index,
		ExpiryIndex:  in.Snapshot.Index + 3,
	}
}

type engineFixture struct {
	cfg     config.Engine
	store   *repository.MemoryStateStore
	events  *repository.EventRecorder
	venue   *fakeVenue
	gen     *scriptedGenerator
	machine *StateMachine
	engine  *Engine
	live    []models.Candle
	next    int
}

var engineStart = time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

func newEngineFixture(t *testing.T, persisted *models.PersistedState) *engineFixture {
	t.Helper()
	cfg := config.DefaultEngine()
	cfg.Symbol = testSymbol
	// The scripted generator ignores ADX; tests that exercise the entry-time
	// trend gate raise the threshold themselves.
	cfg.ADXThreshold = 0

	all := genCandles(engineStart, cfg.WarmupCandles+50)
	f := &engineFixture{
		cfg:    cfg,
		store:  repository.NewMemoryStateStore(),
		events: &repository.EventRecorder{},
		venue:  &fakeVenue{},
		gen:    &scriptedGenerator{},
		live:   all[cfg.WarmupCandles:],
	}
	if persisted != nil {
		require.NoError(t, f.store.SaveState(context.Background(), persisted.State, persisted.OrderID, persisted.PositionID))
	}

	history := &staticHistory{candles: all[:cfg.WarmupCandles]}
	f.machine = NewStateMachine(cfg, f.store, f.events, metrics.Nop{}, logger.Nop())
	recovery := NewRecoveryService(cfg, f.store, f.venue, f.machine, f.events, metrics.Nop{}, logger.Nop())
	warmup := NewWarmupManager(cfg, history, metrics.Nop{}, logger.Nop())
	f.engine = NewEngine(cfg, f.machine, recovery, warmup, f.gen, filters.NewSpreadGate(cfg),
		f.venue, f.events, metrics.Nop{}, logger.Nop())
	return f
}

func (f *engineFixture) start(t *testing.T) {
	t.Helper()
	f.engine.Start(context.Background())
	select {
	case <-f.engine.Ready():
	default:
		t.Fatal("engine not ready after Start")
	}
}

func (f *engineFixture) candle() {
	f.engine.HandleCandle(context.Background(), f.live[f.next])
	f.next++
}

func (f *engineFixture) quote() {
	f.engine.HandleQuote(context.Background(), models.Quote{
		Symbol: testSymbol, Bid: 100, Ask: 100.01, ReceivedAt: time.Now(),
	})
}

func TestEngineStartWarmsUpAndScans(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.start(t)

	assert.Equal(t, models.StateScanning, f.engine.State())
	assert.True(t, f.engine.bundle.Ready())
	assert.Equal(t, int64(f.cfg.WarmupCandles), f.engine.bundle.Count())
	assert.Zero(t, f.gen.calls, "warm-up must not generate signals")
}

func TestEngineStartHaltsWhenWarmupFails(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.engine.warmup = NewWarmupManager(f.cfg, &staticHistory{err: errors.New("down")}, metrics.Nop{}, logger.Nop())

	f.start(t)

	assert.Equal(t, models.StateHalted, f.engine.State())
}

func TestEngineFullTradeLifecycle(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.gen.fn = signalOnce(models.Long, models.PriorityHigh)
	f.start(t)
	f.quote()

	f.candle()
	require.Equal(t, models.StateEntryPending, f.engine.State())
	require.Len(t, f.venue.placed, 1)
	placed := f.venue.placed[0]
	assert.Equal(t, "sig-1001", placed.ClientID)
	assert.Equal(t, f.cfg.OrderSize, placed.Size)
	assert.Len(t, f.events.Events(models.EventSignal), 1)

	f.venue.set(func(v *fakeVenue) {
		v.status = &models.OrderStatus{State: models.OrderFilled, PositionID: "pos-1"}
		v.position = &models.Position{ID: "pos-1", Symbol: testSymbol}
	})
	f.candle()
	require.Equal(t, models.StateInPosition, f.engine.State())
	assert.Equal(t, "pos-1", f.machine.Snapshot().PositionID)

	f.candle()
	assert.Equal(t, models.StateInPosition, f.engine.State())

	f.venue.set(func(v *fakeVenue) { v.position = nil })
	f.candle()
	require.Equal(t, models.StateCooldown, f.engine.State())

	for i := 0; i < f.cfg.CooldownCandles-1; i++ {
		f.candle()
		assert.Equal(t, models.StateCooldown, f.engine.State())
	}
	f.candle()
	assert.Equal(t, models.StateScanning, f.engine.State())
	assert.Len(t, f.venue.placed, 1, "a signal is acted upon at most once")
}

func TestEngineSpreadGateKeepsSignalPending(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.gen.fn = signalOnce(models.Long, models.PriorityHigh)
	f.start(t)

	// No quote yet: the gate fails closed.
	f.candle()
	assert.Equal(t, models.StateScanning, f.engine.State())
	assert.Empty(t, f.venue.placed)
	rejected := f.events.Events(models.EventFilterRejected)
	require.Len(t, rejected, 1)
	res, ok := rejected[0].Payload.(models.FilterResult)
	require.True(t, ok)
	assert.Equal(t, filters.NameSpread, res.Name)
	assert.Equal(t, filters.ReasonStaleSpread, res.Reason)

	// A fresh quote retries the pending entry.
	f.quote()
	assert.Equal(t, models.StateEntryPending, f.engine.State())
	assert.Len(t, f.venue.placed, 1)
}

func TestEngineMediumPriorityWaitsForConfirmation(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.gen.fn = signalOnce(models.Long, models.PriorityMedium)
	f.start(t)
	f.quote()

	f.candle()
	assert.Empty(t, f.venue.placed)
	assert.NotNil(t, f.engine.pending)

	// Generated candles always close up, which confirms a long.
	f.quote()
	f.candle()
	assert.Len(t, f.venue.placed, 1)
	assert.Equal(t, models.StateEntryPending, f.engine.State())
}

func TestEngineADXGateRecheckedAtEntry(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.gen.fn = signalOnce(models.Long, models.PriorityMedium)
	f.start(t)
	f.quote()

	f.candle()
	require.NotNil(t, f.engine.pending)
	assert.Empty(t, f.venue.placed)

	// Trend strength drops out of range before the confirming candle.
	f.engine.trend.Threshold = 101
	f.quote()
	f.candle()
	assert.Empty(t, f.venue.placed)
	assert.Equal(t, models.StateScanning, f.engine.State())
	require.NotNil(t, f.engine.pending, "a gate failure keeps the signal pending")

	rejected := f.events.Events(models.EventFilterRejected)
	require.Len(t, rejected, 1)
	res, ok := rejected[0].Payload.(models.FilterResult)
	require.True(t, ok)
	assert.Equal(t, filters.NameADX, res.Name)
	assert.Equal(t, filters.ReasonADXBelowThreshold, res.Reason)
	assert.Equal(t, f.engine.bundle.Snapshot().ADX, res.Value)

	// Quotes cannot bypass the trend gate either.
	f.quote()
	assert.Empty(t, f.venue.placed)

	f.engine.trend.Threshold = 0
	f.quote()
	assert.Len(t, f.venue.placed, 1)
	assert.Equal(t, models.StateEntryPending, f.engine.State())
}

func TestEngineQuoteWithoutSymbolUsesConfiguredSymbol(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.start(t)

	f.engine.HandleQuote(context.Background(), models.Quote{Bid: 100, Ask: 100.01, ReceivedAt: time.Now()})
	require.NotNil(t, f.engine.quote)
	assert.Equal(t, testSymbol, f.engine.quote.Symbol)

	f.engine.HandleQuote(context.Background(), models.Quote{Symbol: "OTHER", Bid: 1, Ask: 2, ReceivedAt: time.Now()})
	assert.Equal(t, testSymbol, f.engine.quote.Symbol)
}

func TestEnginePendingSignalExpires(t *testing.T) {
	f := newEngineFixture(t, nil)
	// Candles close up, so a short is never confirmed.
	f.gen.fn = signalOnce(models.Short, models.PriorityMedium)
	f.start(t)
	f.quote()

	f.candle()
	require.NotNil(t, f.engine.pending)
	for i := 0; i < 3; i++ {
		f.candle()
		assert.NotNil(t, f.engine.pending)
	}
	f.candle()
	assert.Nil(t, f.engine.pending)
	assert.Empty(t, f.venue.placed)
}

func TestEngineRepeatedOrderFailuresHalt(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.gen.fn = func(in signals.Input) *models.TradingSignal {
		return testSignal(fmt.Sprintf("sig-%d", in.Snapshot.Index), models.Long, models.PriorityHigh, in)
	}
	f.venue.placeErr = errors.New("insufficient margin")
	f.start(t)

	for i := 0; i < f.cfg.MaxConsecutiveOrderFailures-1; i++ {
		f.quote()
		f.candle()
		assert.Equal(t, models.StateScanning, f.engine.State())
	}
	f.quote()
	f.candle()
	assert.Equal(t, models.StateHalted, f.engine.State())

	ps, err := f.store.LoadState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StateHalted, ps.State)
}

func TestEngineEntryTimeoutCancels(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.gen.fn = signalOnce(models.Long, models.PriorityHigh)
	f.start(t)
	f.quote()

	f.candle()
	require.Equal(t, models.StateEntryPending, f.engine.State())

	for i := 0; i < f.cfg.EntryTimeoutCandles-1; i++ {
		f.candle()
		assert.Equal(t, models.StateEntryPending, f.engine.State())
	}
	f.candle()
	assert.Equal(t, models.StateScanning, f.engine.State())
	assert.Equal(t, []string{"ord-sig-1001"}, f.venue.canceled)
	assert.Empty(t, f.machine.Snapshot().OrderID)
}

func TestEngineRejectedOrderReturnsToScanning(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.gen.fn = signalOnce(models.Long, models.PriorityHigh)
	f.venue.status = &models.OrderStatus{State: models.OrderRejected, Reason: "post-only would cross"}
	f.start(t)
	f.quote()

	f.candle()

	assert.Equal(t, models.StateScanning, f.engine.State())
	assert.Equal(t, 1, f.engine.orderFailures)
}

func TestEngineExchangeLossInPositionHalts(t *testing.T) {
	f := newEngineFixture(t, &models.PersistedState{State: models.StateInPosition, PositionID: "pos-9"})
	f.venue.position = &models.Position{ID: "pos-9", Symbol: testSymbol}
	f.start(t)
	require.Equal(t, models.StateInPosition, f.engine.State())

	f.venue.set(func(v *fakeVenue) { v.positionErr = errors.New("connection reset") })
	f.candle()

	assert.Equal(t, models.StateHalted, f.engine.State())
	last := f.machine.LastTransition()
	require.NotNil(t, last)
	assert.Contains(t, last.Reason, errs.CodeExchangeLost)
}

func TestEngineRestoredPositionDefersWarmup(t *testing.T) {
	f := newEngineFixture(t, &models.PersistedState{State: models.StateInPosition, PositionID: "pos-9"})
	f.venue.position = &models.Position{ID: "pos-9", Symbol: testSymbol}
	f.start(t)
	assert.False(t, f.engine.warmed)

	f.venue.set(func(v *fakeVenue) { v.position = nil })
	f.candle()
	require.Equal(t, models.StateCooldown, f.engine.State())
	for i := 0; i < f.cfg.CooldownCandles; i++ {
		f.candle()
	}
	require.Equal(t, models.StateScanning, f.engine.State())
	assert.False(t, f.engine.warmed)

	f.candle()
	assert.True(t, f.engine.warmed)
	assert.True(t, f.engine.bundle.Ready())
	assert.Zero(t, f.gen.calls)
}

func TestEngineIgnoresMalformedAndForeignCandles(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.gen.fn = signalOnce(models.Long, models.PriorityHigh)
	f.start(t)

	bad := f.live[0]
	bad.High = bad.Low - 1
	f.engine.HandleCandle(context.Background(), bad)

	foreign := f.live[0]
	foreign.Symbol = "ETHUSDT"
	f.engine.HandleCandle(context.Background(), foreign)

	assert.Zero(t, f.gen.calls)
	assert.Equal(t, int64(f.cfg.WarmupCandles), f.engine.bundle.Count())
}

func TestEngineRunProcessesSubmittedEventsAndResume(t *testing.T) {
	f := newEngineFixture(t, &models.PersistedState{State: models.StateHalted})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	<-f.engine.Ready()
	assert.Equal(t, models.StateHalted, f.engine.State())

	// Candles while halted only feed indicators.
	require.NoError(t, f.engine.Submit(ctx, models.CandleEvent(f.live[0])))

	err := f.engine.Resume(ctx, "alice", "exchange fixed")
	require.NoError(t, err)
	assert.Equal(t, models.StateScanning, f.engine.State())

	err = f.engine.Resume(ctx, "alice", "again")
	require.Error(t, err)
	assert.Equal(t, errs.CodeNotHalted, errs.CodeOf(err))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	transitions := f.events.Events(models.EventStateTransition)
	require.Len(t, transitions, 2)
	first, ok := transitions[0].Payload.(models.StateTransition)
	require.True(t, ok)
	assert.Equal(t, models.StateBootstrap, first.To)
	assert.Contains(t, first.Reason, "manual resume by alice")
}

func TestEngineEmptyArchiveHaltsUntilResumedWithHistory(t *testing.T) {
	f := newEngineFixture(t, nil)
	archive := repository.NewMemoryCandleHistory(5000)
	f.engine.warmup = NewWarmupManager(f.cfg, archive, metrics.Nop{}, logger.Nop())
	f.engine.observers = append(f.engine.observers, archive)

	f.start(t)
	require.Equal(t, models.StateHalted, f.engine.State())

	// Live candles keep filling the archive while halted.
	for _, c := range genCandles(engineStart, f.cfg.WarmupCandles) {
		f.engine.HandleCandle(context.Background(), c)
	}
	assert.Equal(t, models.StateHalted, f.engine.State())

	err := f.engine.handleResume(context.Background(), resumeCommand{operator: "ops", reason: "archive filled"})
	require.NoError(t, err)
	assert.Equal(t, models.StateScanning, f.engine.State())
	assert.Equal(t, int64(f.cfg.WarmupCandles), f.engine.bundle.Count())
}
