package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"TradeEngine/internal/domain/models"
	domrepo "TradeEngine/internal/domain/repository"
)

// Sink accepts validated market events. *usecase.Engine satisfies it.
type Sink interface {
	Submit(ctx context.Context, ev models.MarketEvent) error
}

// RealtimePipeline sits between the producers (websocket feed, Kafka topic)
// and the decision loop. It validates every event and throttles quotes per
// symbol. Candles are never throttled or dropped; Process blocks while the
// sink is full.
type RealtimePipeline struct {
	sink     Sink
	metrics  domrepo.Metrics
	maxRPS   int
	now      func() time.Time
	mu       sync.Mutex
	lastSeen map[string]time.Time // per-symbol last accepted quote
	// optional normalisation applied before validation
	transform func(models.MarketEvent) models.MarketEvent
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS caps accepted quotes per second per symbol. Zero disables the throttle.
func WithMaxRPS(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n >= 0 {
			p.maxRPS = n
		}
	}
}

// WithTransform sets a hook that rewrites events before validation.
func WithTransform(fn func(models.MarketEvent) models.MarketEvent) PipelineOption {
	return func(p *RealtimePipeline) { p.transform = fn }
}

func NewRealtimePipeline(sink Sink, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		sink:     sink,
		metrics:  metrics,
		maxRPS:   20,
		now:      time.Now,
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process validates ev and forwards it. A throttled quote returns nil.
func (p *RealtimePipeline) Process(ctx context.Context, ev models.MarketEvent) error {
	start := p.now()
	if p.transform != nil {
		ev = p.transform(ev)
	}
	if err := validateEvent(ev); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if ev.Kind == models.MarketEventQuote && !p.allow(ev.Quote.Symbol, start) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	if err := p.sink.Submit(ctx, ev); err != nil {
		p.metrics.RecordError("pipeline_submit")
		return fmt.Errorf("pipeline submit: %w", err)
	}
	p.metrics.RecordLatency("pipeline_submit", p.now().Sub(start).Seconds())
	return nil
}

func validateEvent(ev models.MarketEvent) error {
	switch ev.Kind {
	case models.MarketEventCandle:
		if ev.Candle.Symbol == "" {
			return fmt.Errorf("candle symbol empty")
		}
		return ev.Candle.Validate()
	case models.MarketEventQuote:
		return ev.Quote.Validate()
	default:
		return fmt.Errorf("unknown market event kind %d", ev.Kind)
	}
}

func (p *RealtimePipeline) allow(symbol string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	last := p.lastSeen[symbol]
	if !last.IsZero() && now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[symbol] = now
	return true
}
