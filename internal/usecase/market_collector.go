package usecase

import (
	"context"
	"sync/atomic"
	"time"

	"TradeEngine/internal/domain/models"
	drepo "TradeEngine/internal/domain/repository"
	"TradeEngine/pkg/logger"
)

// MarketCollector pumps a MarketStream into the ingestion pipeline and
// reconnects the stream when it reports an error.
type MarketCollector struct {
	stream  drepo.MarketStream
	proc    MarketProcessor
	metrics drepo.Metrics
	log     *logger.Logger
	done    chan struct{}
	started atomic.Bool
}

func NewMarketCollector(stream drepo.MarketStream, proc MarketProcessor, metrics drepo.Metrics, log *logger.Logger) *MarketCollector {
	return &MarketCollector{stream: stream, proc: proc, metrics: metrics, log: log, done: make(chan struct{})}
}

func (c *MarketCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

// Start connects, subscribes and begins forwarding in the background.
func (c *MarketCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	evCh, errCh := c.stream.Read(ctx)
	c.started.Store(true)
	go c.consume(ctx, evCh, errCh)
	return nil
}

func (c *MarketCollector) consume(ctx context.Context, evCh <-chan models.MarketEvent, errCh <-chan error) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err == nil {
				continue
			}
			c.metrics.RecordError("stream")
			c.log.Warn("market stream error, reconnecting", logger.Error(err))
			if rerr := c.stream.Reconnect(ctx); rerr != nil && ctx.Err() == nil {
				c.log.Error("market stream reconnect failed", logger.Error(rerr))
			}
		case ev, ok := <-evCh:
			if !ok {
				return
			}
			start := time.Now()
			if err := c.proc.Process(ctx, ev); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.log.Debug("market event rejected", logger.Error(err))
				continue
			}
			c.metrics.RecordLatency("collector_forward", time.Since(start).Seconds())
		}
	}
}

// Shutdown closes the stream and waits for the forwarding goroutine.
func (c *MarketCollector) Shutdown(ctx context.Context) error {
	err := c.stream.Close()
	if !c.started.Load() {
		return err
	}
	select {
	case <-c.done:
	case <-ctx.Done():
	}
	return err
}
