package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TradeEngine/internal/domain/errs"
	"TradeEngine/internal/domain/models"
	drepo "TradeEngine/internal/domain/repository"
	"TradeEngine/internal/services/filters"
	"TradeEngine/internal/services/indicators"
	"TradeEngine/internal/services/signals"
	"TradeEngine/pkg/config"
	"TradeEngine/pkg/logger"
)

// SignalGenerator turns one candle's indicator state into a decision.
type SignalGenerator interface {
	Generate(in signals.Input) signals.Decision
}

// SpreadFilter gates entries on the latest quote.
type SpreadFilter interface {
	Evaluate(q *models.Quote) models.FilterResult
}

type pendingSignal struct {
	sig       models.TradingSignal
	confirmed bool
}

type openEntry struct {
	orderID     string
	signal      models.TradingSignal
	placedIndex int64
}

type resumeCommand struct {
	operator string
	reason   string
	reply    chan error
}

type EngineOption func(*Engine)

// WithCandleObservers registers observers notified after each candle is handled.
func WithCandleObservers(obs ...drepo.CandleObserver) EngineOption {
	return func(e *Engine) { e.observers = append(e.observers, obs...) }
}

// Engine is the single-consumer decision loop. Producers call Submit; only the
// goroutine running Run touches the bundle, the pending signal and the quote.
type Engine struct {
	cfg       config.Engine
	machine   *StateMachine
	recovery  *RecoveryService
	warmup    *WarmupManager
	generator SignalGenerator
	trend     filters.ADXGate
	spread    SpreadFilter
	venue     drepo.TradingVenue
	pub       drepo.EventPublisher
	metrics   drepo.Metrics
	log       *logger.Logger
	observers []drepo.CandleObserver

	events   chan models.MarketEvent
	commands chan resumeCommand
	ready    chan struct{}

	bundle        *indicators.Bundle
	warmed        bool
	quote         *models.Quote
	pending       *pendingSignal
	entry         *openEntry
	orderFailures int
	lastIndex     int64
	lastBucket    time.Time
}

func NewEngine(
	cfg config.Engine,
	machine *StateMachine,
	recovery *RecoveryService,
	warmup *WarmupManager,
	generator SignalGenerator,
	spread SpreadFilter,
	venue drepo.TradingVenue,
	pub drepo.EventPublisher,
	metrics drepo.Metrics,
	log *logger.Logger,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		cfg:       cfg,
		machine:   machine,
		recovery:  recovery,
		warmup:    warmup,
		generator: generator,
		trend:     filters.NewADXGate(cfg),
		spread:    spread,
		venue:     venue,
		pub:       pub,
		metrics:   metrics,
		log:       log.With(logger.String("symbol", cfg.Symbol)),
		events:    make(chan models.MarketEvent, cfg.EventBuffer),
		commands:  make(chan resumeCommand),
		ready:     make(chan struct{}),
		bundle:    indicators.NewBundle(cfg),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit enqueues ev, blocking while the buffer is full.
func (e *Engine) Submit(ctx context.Context, ev models.MarketEvent) error {
	select {
	case e.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume asks the loop to lift a halt. It returns once the loop has acted.
func (e *Engine) Resume(ctx context.Context, operator, reason string) error {
	cmd := resumeCommand{operator: operator, reason: reason, reply: make(chan error, 1)}
	select {
	case e.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready is closed once recovery and warm-up have finished.
func (e *Engine) Ready() <-chan struct{} { return e.ready }

func (e *Engine) State() models.SystemState { return e.machine.State() }

// Run recovers, warms up and then processes events until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	e.Start(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-e.commands:
			cmd.reply <- e.handleResume(ctx, cmd)
		case ev := <-e.events:
			switch ev.Kind {
			case models.MarketEventCandle:
				e.HandleCandle(ctx, ev.Candle)
			case models.MarketEventQuote:
				e.HandleQuote(ctx, ev.Quote)
			}
		}
	}
}

// Start runs recovery and the warm-up barrier. Fatal problems leave the engine
// HALTED rather than returning; an operator resume is the way out.
func (e *Engine) Start(ctx context.Context) {
	defer close(e.ready)

	res, err := e.recovery.Recover(ctx)
	if err != nil {
		e.metrics.RecordError(errs.CodeOf(err))
		e.log.Error("recovery blocked startup", logger.Error(err))
		return
	}

	switch res.State {
	case models.StateBootstrap:
		e.bootstrap(ctx)
	case models.StateScanning:
		e.ensureWarm(ctx)
	default:
		e.log.Info("warm-up deferred", logger.String("state", string(res.State)))
	}
}

// bootstrap performs BOOTSTRAP→SCANNING behind a fresh warm-up.
func (e *Engine) bootstrap(ctx context.Context) error {
	if !e.ensureWarm(ctx) {
		return errs.Fatal("engine.bootstrap", errs.CodeWarmupFailed, errors.New("warm-up failed"))
	}
	return e.transition(ctx, models.StateScanning, "warm-up complete")
}

// ensureWarm replays history into a fresh bundle unless that already happened.
// Failure halts the machine.
func (e *Engine) ensureWarm(ctx context.Context) bool {
	if e.warmed {
		return true
	}
	b := indicators.NewBundle(e.cfg)
	res, err := e.warmup.Run(ctx, b)
	if err != nil {
		e.fail(ctx, "warm-up failed", err)
		return false
	}
	e.bundle = b
	e.warmed = true
	e.lastIndex = res.Snapshot.Index
	e.lastBucket = res.Last.Bucket
	return true
}

// HandleCandle advances the indicators and then acts according to the current state.
func (e *Engine) HandleCandle(ctx context.Context, c models.Candle) {
	start := time.Now()
	defer func() { e.metrics.RecordLatency("handle_candle", time.Since(start).Seconds()) }()

	if c.Symbol != "" && c.Symbol != e.cfg.Symbol {
		return
	}
	if c.Symbol == "" {
		c.Symbol = e.cfg.Symbol
	}

	snap, err := e.bundle.Update(c)
	if err != nil {
		e.metrics.RecordError(errs.CodeOf(err))
		e.log.Warn("candle skipped", logger.Error(err), logger.Time("bucket", c.Bucket))
		return
	}
	e.lastIndex = snap.Index
	e.lastBucket = c.Bucket
	e.metrics.RecordLastPrice(c.Symbol, c.Close)

	switch e.machine.State() {
	case models.StateScanning:
		// Reached without a warm bundle (restored position, resume); this candle
		// only rebuilds indicators.
		if !e.warmed {
			e.ensureWarm(ctx)
			break
		}
		e.scan(ctx, c, snap)
	case models.StateEntryPending:
		e.pollOrder(ctx)
	case models.StateInPosition:
		e.pollPosition(ctx)
	case models.StateCooldown:
		if _, err := e.machine.TickCooldown(ctx); err != nil {
			e.fail(ctx, "cooldown transition failed", err)
		}
	}

	for _, o := range e.observers {
		o.ObserveCandle(c)
	}
}

// HandleQuote stores the latest quote and retries an eligible pending entry.
func (e *Engine) HandleQuote(ctx context.Context, q models.Quote) {
	if q.Symbol != "" && q.Symbol != e.cfg.Symbol {
		return
	}
	if q.Symbol == "" {
		q.Symbol = e.cfg.Symbol
	}
	if err := q.Validate(); err != nil {
		e.metrics.RecordError("malformed_quote")
		return
	}
	e.quote = &q

	if e.machine.State() == models.StateScanning && e.pending != nil && e.eligible(e.pending) {
		if e.pending.sig.Expired(e.lastIndex, e.lastBucket) {
			e.discard("expired")
			return
		}
		e.attemptEntry(ctx, false)
	}
}

func (e *Engine) eligible(p *pendingSignal) bool {
	return p.sig.Priority == models.PriorityHigh || p.confirmed
}

func (e *Engine) scan(ctx context.Context, c models.Candle, snap models.IndicatorSnapshot) {
	if p := e.pending; p != nil {
		if p.sig.Expired(snap.Index, c.Bucket) {
			e.discard("expired")
		} else {
			if !p.confirmed && snap.Index > p.sig.CreatedIndex && confirms(p.sig.Direction, c) {
				p.confirmed = true
			}
			if e.eligible(p) {
				e.attemptEntry(ctx, true)
			}
			return
		}
	}

	prev, hasPrev := e.bundle.PrevCandle()
	d := e.generator.Generate(signals.Input{
		Candle:   c,
		Prev:     prev,
		HasPrev:  hasPrev,
		Snapshot: snap,
		Swings:   e.bundle.Swings(),
	})
	for _, f := range d.Filters {
		e.metrics.RecordFilter(f.Name, f.Passed)
		if !f.Passed {
			e.publish(ctx, models.EventFilterRejected, c.Bucket, f)
		}
	}
	if d.Signal == nil {
		if d.Reason != "" {
			e.log.Debug("no signal", logger.String("reason", d.Reason), logger.Int64("index", snap.Index))
		}
		return
	}

	sig := *d.Signal
	e.metrics.RecordSignal(sig.Trigger, sig.Direction)
	e.publish(ctx, models.EventSignal, c.Bucket, sig)
	e.log.Info("signal",
		logger.String("id", sig.ID),
		logger.String("trigger", string(sig.Trigger)),
		logger.String("direction", string(sig.Direction)),
		logger.Float64("entry", sig.Entry),
		logger.Float64("stop", sig.Stop),
		logger.Float64("target", sig.Target),
		logger.Float64("confidence", sig.Confidence),
	)

	e.pending = &pendingSignal{sig: sig}
	if sig.Priority == models.PriorityHigh {
		e.attemptEntry(ctx, true)
	}
}

// confirms reports whether c closed in the signal's direction.
func confirms(dir models.Direction, c models.Candle) bool {
	if dir == models.Long {
		return c.Bullish()
	}
	return c.Bearish()
}

func (e *Engine) discard(why string) {
	e.log.Debug("pending signal discarded", logger.String("id", e.pending.sig.ID), logger.String("why", why))
	e.pending = nil
}

// attemptEntry re-checks trend strength on the current snapshot, gates on the
// spread and places the order. A gate failure keeps the signal pending; placing
// an order, successful or not, consumes it.
func (e *Engine) attemptEntry(ctx context.Context, announce bool) {
	p := e.pending
	for _, gate := range []models.FilterResult{
		e.trend.Evaluate(e.bundle.Snapshot().ADX),
		e.spread.Evaluate(e.quote),
	} {
		e.metrics.RecordFilter(gate.Name, gate.Passed)
		if gate.Passed {
			continue
		}
		if announce {
			e.publish(ctx, models.EventFilterRejected, e.lastBucket, gate)
			e.log.Info("entry blocked", logger.String("filter", gate.Name), logger.String("reason", gate.Reason))
		}
		return
	}

	e.pending = nil
	sig := p.sig
	order, err := e.venue.PlaceOrder(ctx, models.OrderRequest{
		ClientID:  sig.ID,
		Symbol:    sig.Symbol,
		Direction: sig.Direction,
		Size:      e.cfg.OrderSize,
		Price:     sig.Entry,
		Stop:      sig.Stop,
		Target:    sig.Target,
	})
	if err != nil {
		e.orderFailed(ctx, fmt.Errorf("place order for signal %s: %w", sig.ID, err))
		return
	}

	e.orderFailures = 0
	e.entry = &openEntry{orderID: order.ID, signal: sig, placedIndex: e.lastIndex}
	reason := fmt.Sprintf("%s %s signal %s", sig.Trigger, sig.Direction, sig.ID)
	if err := e.machine.TransitionTo(ctx, models.StateEntryPending, reason, WithOrderID(order.ID)); err != nil {
		e.fail(ctx, "entry transition failed", err, WithOrderID(order.ID))
		return
	}
	e.pollOrder(ctx)
}

func (e *Engine) orderFailed(ctx context.Context, err error) {
	e.orderFailures++
	e.metrics.RecordError(errs.CodeOrderRejected)
	e.log.Warn("order failed", logger.Error(err), logger.Int("consecutive", e.orderFailures))
	if e.orderFailures >= e.cfg.MaxConsecutiveOrderFailures {
		e.orderFailures = 0
		e.fail(ctx, "repeated order failures", errs.Fatal("engine.order", errs.CodeOrderFailures, err))
	}
}

func (e *Engine) pollOrder(ctx context.Context) {
	if e.entry == nil {
		e.fail(ctx, "entry pending without an order", errs.Fatal("engine.pollOrder", errs.CodeInvalidTransition, nil))
		return
	}
	st, err := e.venue.GetOrderStatus(ctx, e.cfg.Symbol, e.entry.orderID)
	if err != nil {
		e.metrics.RecordError("order_status")
		e.log.Warn("order status unavailable", logger.String("order_id", e.entry.orderID), logger.Error(err))
		st = nil
	}

	if st != nil {
		switch st.State {
		case models.OrderFilled:
			id := e.entry.orderID
			e.entry = nil
			e.transition(ctx, models.StateInPosition, "order filled", WithOrderID(id), WithPositionID(st.PositionID))
			return
		case models.OrderCanceled, models.OrderRejected, models.OrderExpired:
			e.entry = nil
			if st.State == models.OrderRejected {
				e.orderFailed(ctx, fmt.Errorf("order rejected: %s", st.Reason))
				if e.machine.State() == models.StateHalted {
					return
				}
			}
			e.transition(ctx, models.StateScanning, fmt.Sprintf("order %s", st.State))
			return
		}
	}

	if e.lastIndex-e.entry.placedIndex >= int64(e.cfg.EntryTimeoutCandles) {
		id := e.entry.orderID
		if err := e.venue.CancelOrder(ctx, e.cfg.Symbol, id); err != nil {
			e.log.Warn("cancel after timeout failed", logger.String("order_id", id), logger.Error(err))
		}
		e.entry = nil
		e.transition(ctx, models.StateScanning, "entry timeout")
	}
}

func (e *Engine) pollPosition(ctx context.Context) {
	pos, err := e.venue.GetPosition(ctx, e.cfg.Symbol)
	if err != nil {
		e.fail(ctx, "exchange unreachable while in position", errs.Fatal("engine.pollPosition", errs.CodeExchangeLost, err))
		return
	}
	if pos == nil {
		e.transition(ctx, models.StateCooldown, "position closed")
	}
}

func (e *Engine) handleResume(ctx context.Context, cmd resumeCommand) error {
	if err := e.machine.Resume(ctx, cmd.operator, cmd.reason); err != nil {
		return err
	}
	e.pending, e.entry, e.orderFailures = nil, nil, 0
	e.warmed = false
	return e.bootstrap(ctx)
}

// transition applies an automated edge and halts if it cannot be made durable.
func (e *Engine) transition(ctx context.Context, to models.SystemState, reason string, opts ...TransitionOption) error {
	if err := e.machine.TransitionTo(ctx, to, reason, opts...); err != nil {
		e.fail(ctx, fmt.Sprintf("transition to %s failed", to), err, opts...)
		return err
	}
	return nil
}

// fail routes a fatal condition to HALTED.
func (e *Engine) fail(ctx context.Context, reason string, err error, opts ...TransitionOption) {
	code := errs.CodeOf(err)
	if code == "" {
		code = "fatal"
	}
	e.metrics.RecordError(code)
	e.log.Error("halting", logger.String("reason", reason), logger.String("code", code), logger.Error(err))
	e.pending = nil
	if herr := e.machine.Halt(ctx, fmt.Sprintf("%s: %s", reason, code), opts...); herr != nil {
		e.log.Error("halt not persisted", logger.Error(herr))
	}
}

func (e *Engine) publish(ctx context.Context, t models.EventType, at time.Time, payload interface{}) {
	ev := models.NewEvent(t, e.cfg.Symbol, at, payload)
	if err := e.pub.Publish(ctx, ev); err != nil {
		e.metrics.RecordError("publish_" + string(t))
		e.log.Error("publish event", logger.String("type", string(t)), logger.Error(err))
	}
}

var _ SpreadFilter = filters.SpreadGate{}
