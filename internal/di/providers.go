package di

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	drepo "TradeEngine/internal/domain/repository"
	"TradeEngine/internal/handler/api"
	mid "TradeEngine/internal/middleware"
	internalrepo "TradeEngine/internal/repository"
	"TradeEngine/internal/service/exchange"
	"TradeEngine/internal/service/feed"
	"TradeEngine/internal/services/filters"
	"TradeEngine/internal/services/signals"
	"TradeEngine/internal/usecase"
	"TradeEngine/pkg/cache"
	pkgch "TradeEngine/pkg/clickhouse"
	"TradeEngine/pkg/config"
	xhttp "TradeEngine/pkg/http"
	pkgkafka "TradeEngine/pkg/kafka"
	applogger "TradeEngine/pkg/logger"
	"TradeEngine/pkg/metrics"
	"TradeEngine/pkg/postgres"
	"TradeEngine/pkg/queue"
	"TradeEngine/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// memoryHistoryLimit bounds the in-process candle archive.
const memoryHistoryLimit = 5000

func noop() {}

// ProvideRegistry creates the process-wide Prometheus registry served at /metrics.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func ProvideMetrics(reg *prometheus.Registry) drepo.Metrics {
	return metrics.NewWithRegisterer(reg)
}

// ProvideKafkaProducer returns nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, noop, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerMetrics(pkgkafka.NewProducerMetrics(reg)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideKafkaEventPublisher returns nil when Kafka is disabled.
func ProvideKafkaEventPublisher(cfg *config.Config, producer *pkgkafka.Producer) *internalrepo.KafkaEventPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.EventsTopic)
}

// ProvideLogger builds the app logger. With Kafka enabled, warn and error
// lines are also aggregated and shipped as digests to the log topic.
func ProvideLogger(cfg *config.Config, kpub *internalrepo.KafkaEventPublisher) (*applogger.Logger, func(), error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	if kpub == nil {
		return l, noop, nil
	}
	fallback := applogger.NewWithWriter(os.Stderr, "warn")
	l.AddCollector(&applogger.CollectionConfig{
		TimeInterval:   30 * time.Second,
		CountThreshold: 100,
		Topic:          cfg.Kafka.LogTopic,
		Publisher:      kpub,
		OnPublishError: func(err error) {
			fallback.Warn("log digest publish failed", applogger.Error(err))
		},
	})
	return l, l.RemoveCollector, nil
}

// ProvideClickHouseClient returns nil when ClickHouse is disabled. Candle and
// audit tables are created on startup.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, noop, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddress(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithPool(10, 5, 5*time.Minute),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.MaxExecutionTime),
		pkgch.WithAsyncInsert(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	schema := internalrepo.CandleSchema(cfg.ClickHouse.Database)
	schema = append(schema, internalrepo.EventLogSchema(cfg.ClickHouse.Database)...)
	if err := client.InitSchema(ctx, schema); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideRedisCache connects only when Redis backs the state store or the outbox.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, func(), error) {
	outbox := cfg.Kafka.Enabled && cfg.Redis.Outbox.Enabled
	if cfg.Persistence.Backend != "redis" && !outbox {
		return nil, noop, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rc, err := cache.NewRedisCache(ctx,
		cache.WithRedisAddr(cfg.Redis.Host+":"+strconv.Itoa(cfg.Redis.Port)),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}

// ProvidePostgresPool connects only for the postgres state backend. The
// schema in sql/postgres is applied at deploy time.
func ProvidePostgresPool(cfg *config.Config) (*postgres.Pool, func(), error) {
	if cfg.Persistence.Backend != "postgres" {
		return nil, noop, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Postgres.DSN, postgres.Options{
		MaxConns:        4,
		MaxConnLifetime: 30 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	})
	if err != nil {
		return nil, nil, err
	}
	return pool, pool.Close, nil
}

func ProvideStateStore(cfg *config.Config, pool *postgres.Pool, rc *cache.RedisCache) (drepo.StateStore, error) {
	switch cfg.Persistence.Backend {
	case "postgres":
		return internalrepo.NewPGStateStore(pool, cfg.Engine.Symbol), nil
	case "redis":
		return internalrepo.NewRedisStateStore(rc, cfg.Engine.Symbol), nil
	case "memory":
		return internalrepo.NewMemoryStateStore(), nil
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", cfg.Persistence.Backend)
	}
}

// ProvideOutboxQueue returns nil unless Kafka and the Redis outbox are both on.
func ProvideOutboxQueue(cfg *config.Config, log *applogger.Logger, rc *cache.RedisCache) *queue.RedisQueue {
	if rc == nil || !cfg.Kafka.Enabled || !cfg.Redis.Outbox.Enabled {
		return nil
	}
	return queue.NewRedisQueue(log.With(applogger.String("component", "outbox")), queue.Config{
		Workers:    cfg.Redis.Outbox.Workers,
		RetryLimit: cfg.Redis.Outbox.RetryLimit,
		RetryDelay: cfg.Redis.Outbox.RetryDelay,
		KeyPrefix:  cfg.Redis.Prefix + ":outbox",
	}, rc.Client())
}

func ProvideBus() *internalrepo.Bus {
	return internalrepo.NewBus()
}

// ProvideStatusTracker subscribes the operator status view to every bus event.
func ProvideStatusTracker(bus *internalrepo.Bus) *api.StatusTracker {
	t := api.NewStatusTracker()
	bus.SubscribeAll(t.Observe)
	return t
}

// ProvideEventPublisher fans events out to the bus, Kafka (behind the outbox
// when one is configured) and the ClickHouse audit log.
func ProvideEventPublisher(
	log *applogger.Logger,
	m drepo.Metrics,
	bus *internalrepo.Bus,
	kpub *internalrepo.KafkaEventPublisher,
	q *queue.RedisQueue,
	ch *pkgch.Client,
) drepo.EventPublisher {
	sinks := []internalrepo.Sink{{Name: "bus", Publisher: bus}}
	if kpub != nil {
		var kafkaSink drepo.EventPublisher = kpub
		if q != nil {
			q.RegisterJob(internalrepo.OutboxJob(kpub))
			kafkaSink = internalrepo.NewOutboxPublisher(kpub, q, log)
		}
		sinks = append(sinks, internalrepo.Sink{Name: "kafka", Publisher: kafkaSink})
	}
	if ch != nil {
		sinks = append(sinks, internalrepo.Sink{Name: "clickhouse", Publisher: internalrepo.NewCHEventLog(ch)})
	}
	return internalrepo.NewFanoutPublisher(log, m, sinks...)
}

func ProvideMemoryCandleHistory() *internalrepo.MemoryCandleHistory {
	return internalrepo.NewMemoryCandleHistory(memoryHistoryLimit)
}

// ProvideCandleHistory prefers ClickHouse and falls back to the in-process archive.
// The archive starts empty, so the first warm-up halts until an operator resumes
// once it holds warmup_candles live candles.
func ProvideCandleHistory(cfg *config.Config, ch *pkgch.Client, mem *internalrepo.MemoryCandleHistory, log *applogger.Logger) drepo.CandleHistory {
	if ch != nil {
		return internalrepo.NewCHCandleHistory(ch, log)
	}
	log.Warn("clickhouse disabled; warm-up reads the in-process archive, which starts empty",
		applogger.Int("warmup_candles", cfg.Engine.WarmupCandles),
	)
	return mem
}

func ProvideVenue(cfg *config.Config, log *applogger.Logger) (drepo.TradingVenue, error) {
	return exchange.New(cfg, log)
}

// ProvideEngine assembles the decision loop and its collaborators.
func ProvideEngine(
	cfg *config.Config,
	store drepo.StateStore,
	venue drepo.TradingVenue,
	pub drepo.EventPublisher,
	m drepo.Metrics,
	log *applogger.Logger,
	history drepo.CandleHistory,
	mem *internalrepo.MemoryCandleHistory,
) *usecase.Engine {
	ec := cfg.Engine
	elog := log.With(applogger.String("component", "engine"))

	machine := usecase.NewStateMachine(ec, store, pub, m, elog)
	recovery := usecase.NewRecoveryService(ec, store, venue, machine, pub, m, elog)
	warmup := usecase.NewWarmupManager(ec, history, m, elog)

	var observers []drepo.CandleObserver
	if obs, ok := venue.(drepo.CandleObserver); ok {
		observers = append(observers, obs)
	}
	if _, ok := history.(*internalrepo.MemoryCandleHistory); ok {
		observers = append(observers, mem)
	}

	return usecase.NewEngine(ec, machine, recovery, warmup,
		signals.NewGenerator(ec),
		filters.NewSpreadGate(ec),
		venue, pub, m, log,
		usecase.WithCandleObservers(observers...),
	)
}

func ProvidePipeline(cfg *config.Config, engine *usecase.Engine, m drepo.Metrics) *mid.RealtimePipeline {
	return mid.NewRealtimePipeline(engine, m, mid.WithMaxRPS(cfg.Feed.QuoteMaxRPS))
}

// ProvideMarketStream opens the websocket feed. Candles are taken from it
// unless they arrive over Kafka.
func ProvideMarketStream(cfg *config.Config, log *applogger.Logger) drepo.MarketStream {
	return feed.New(
		cfg.Feed.WebSocketURL,
		cfg.Engine.Symbol,
		string(drepo.TimeframeFor(cfg.Engine.CandleInterval)),
		log,
		feed.WithCandles(cfg.Feed.CandleSource == "websocket"),
		feed.WithAPIKey(cfg.Feed.APIKey),
		feed.WithTimings(cfg.Feed.ReconnectDelay, cfg.Feed.PingInterval),
	)
}

func ProvideMarketCollector(stream drepo.MarketStream, pipe *mid.RealtimePipeline, m drepo.Metrics, log *applogger.Logger) *usecase.MarketCollector {
	return usecase.NewMarketCollector(stream, pipe, m, log)
}

// ProvideKafkaConsumer returns nil unless candles are sourced from Kafka.
func ProvideKafkaConsumer(
	cfg *config.Config,
	log *applogger.Logger,
	reg *prometheus.Registry,
	pipe *mid.RealtimePipeline,
	m drepo.Metrics,
) (*pkgkafka.Consumer, error) {
	if cfg.Feed.CandleSource != "kafka" {
		return nil, nil
	}
	kc := cfg.Kafka.Consumer
	clog := log.With(applogger.String("component", "kafka-consumer"))
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(kc.GroupID),
		pkgkafka.WithConsumerRetry(kc.RetryMax, kc.BackoffMin, kc.BackoffMax),
		pkgkafka.WithConsumerDLQ(kc.DLQTopic),
		pkgkafka.WithConsumerFetch(kc.MinBytes, kc.MaxBytes),
		pkgkafka.WithConsumerLogger(clog),
		pkgkafka.WithConsumerMetrics(pkgkafka.NewConsumerMetrics(reg)),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.SetHook(pkgkafka.NewHookChain(pkgkafka.LoggingHook{Log: clog, Slow: 250 * time.Millisecond}))
	consumer.RegisterHandler(usecase.NewKafkaCandlesHandler(cfg.Kafka.CandlesTopic, pipe, m))
	return consumer, nil
}

// ProvideEventLog exposes the audit table to the operator API; nil without ClickHouse.
func ProvideEventLog(ch *pkgch.Client) api.EventLog {
	if ch == nil {
		return nil
	}
	return internalrepo.NewCHEventLog(ch)
}

func ProvideEngineHandler(
	cfg *config.Config,
	log *applogger.Logger,
	engine *usecase.Engine,
	tracker *api.StatusTracker,
	events api.EventLog,
	history drepo.CandleHistory,
) *api.EngineEchoHandler {
	return api.NewEngineEchoHandler(log, cfg.Engine.Symbol, cfg.Engine.CandleInterval, engine, tracker, events, history,
		api.WithQueryCache(cache.NewMemoryCache(cache.WithMemoryMaxSize(64)), 5*time.Second))
}

func ProvideHealthHandler(
	ch *pkgch.Client,
	pool *postgres.Pool,
	rc *cache.RedisCache,
	collector *usecase.MarketCollector,
) *api.HealthHandler {
	checks := map[string]api.HealthCheck{
		"feed": func(context.Context) error {
			if !collector.IsConnected() {
				return fmt.Errorf("market feed disconnected")
			}
			return nil
		},
	}
	if ch != nil {
		checks["clickhouse"] = ch.Health
	}
	if pool != nil {
		checks["postgres"] = pool.Health
	}
	if rc != nil {
		checks["redis"] = func(ctx context.Context) error { return rc.Client().Ping(ctx).Err() }
	}
	return api.NewHealthHandler(checks)
}

func ProvideHTTPServer(
	cfg *config.Config,
	log *applogger.Logger,
	reg *prometheus.Registry,
	engineHandler *api.EngineEchoHandler,
	health *api.HealthHandler,
) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithAddr("", cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(reg, cfg.Metrics.Path))
	}
	return xhttp.NewServer(log.With(applogger.String("component", "http")),
		[]xhttp.Handler{engineHandler, health}, opts...)
}

func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	engine *usecase.Engine,
	collector *usecase.MarketCollector,
	consumer *pkgkafka.Consumer,
	q *queue.RedisQueue,
	httpServer *xhttp.Server,
) *server.App {
	return server.New(cfg, log, engine, collector, consumer, q, httpServer)
}
