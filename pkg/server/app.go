// Package server owns the process lifecycle: start order, signal handling and
// graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"TradeEngine/internal/usecase"
	"TradeEngine/pkg/config"
	xhttp "TradeEngine/pkg/http"
	pkgkafka "TradeEngine/pkg/kafka"
	applogger "TradeEngine/pkg/logger"
	"TradeEngine/pkg/queue"
)

// App holds the long-running components. Kafka consumer and queue are
// optional and may be nil.
type App struct {
	cfg       *config.Config
	log       *applogger.Logger
	engine    *usecase.Engine
	collector *usecase.MarketCollector
	consumer  *pkgkafka.Consumer
	queue     *queue.RedisQueue
	http      *xhttp.Server
}

func New(
	cfg *config.Config,
	log *applogger.Logger,
	engine *usecase.Engine,
	collector *usecase.MarketCollector,
	consumer *pkgkafka.Consumer,
	q *queue.RedisQueue,
	httpServer *xhttp.Server,
) *App {
	return &App{
		cfg:       cfg,
		log:       log,
		engine:    engine,
		collector: collector,
		consumer:  consumer,
		queue:     q,
		http:      httpServer,
	}
}

// Run starts everything and blocks until SIGINT/SIGTERM or until the engine
// loop exits.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.http.Start(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	if a.queue != nil {
		if err := a.queue.Start(ctx); err != nil {
			a.log.Warn("outbox queue not started", applogger.Error(err))
			a.queue = nil
		}
	}

	engineCtx, cancelEngine := context.WithCancel(context.Background())
	defer cancelEngine()
	engineDone := make(chan error, 1)
	go func() { engineDone <- a.engine.Run(engineCtx) }()

	// Market data is only subscribed once recovery and warm-up are done, so
	// the first live candle follows the replayed history.
	select {
	case <-a.engine.Ready():
	case <-ctx.Done():
		return a.shutdown(cancelEngine, engineDone)
	case err := <-engineDone:
		return fmt.Errorf("engine exited during startup: %w", err)
	}
	a.log.Info("engine ready",
		applogger.String("symbol", a.cfg.Engine.Symbol),
		applogger.String("state", string(a.engine.State())),
	)

	if err := a.startIngestion(ctx); err != nil {
		_ = a.shutdown(cancelEngine, engineDone)
		return err
	}

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err := <-engineDone:
		a.log.Error("engine loop exited", applogger.Error(err))
	}
	return a.shutdown(cancelEngine, engineDone)
}

func (a *App) startIngestion(ctx context.Context) error {
	if err := a.collector.Start(ctx); err != nil {
		return fmt.Errorf("market collector: %w", err)
	}
	a.log.Info("market feed started", applogger.String("candle_source", a.cfg.Feed.CandleSource))

	if a.consumer != nil {
		if err := a.consumer.Start(ctx); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
	}
	return nil
}

// shutdown stops producers of events before the engine, then the engine, then
// the outbox. Client connections are closed by the DI cleanup.
func (a *App) shutdown(cancelEngine context.CancelFunc, engineDone <-chan error) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.http.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.collector.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("collector: %w", err))
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	cancelEngine()
	select {
	case err := <-engineDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("engine: %w", err))
		}
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("engine did not stop within %s", a.cfg.Server.ShutdownTimeout))
	}

	if a.queue != nil {
		if err := a.queue.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		a.log.Error("shutdown finished with errors", applogger.Error(err))
		return err
	}
	a.log.Info("shutdown complete")
	return nil
}
