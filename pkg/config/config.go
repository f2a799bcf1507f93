package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Engine holds every decision threshold. It is passed by value and never mutated after Load.
type Engine struct {
	Symbol         string        `yaml:"symbol" default:"BTCUSDT" validate:"required"`
	CandleInterval time.Duration `yaml:"candle_interval" default:"1m" validate:"gt=0"`

	// Hard filters
	ADXThreshold float64       `yaml:"adx_threshold" default:"25" validate:"gte=0,lte=100"`
	SpreadMaxPct float64       `yaml:"spread_max_pct" default:"0.001" validate:"gt=0"`
	SpreadMaxAge time.Duration `yaml:"spread_max_age" default:"2s" validate:"gt=0"`

	// Lifecycle
	CooldownCandles             int `yaml:"cooldown_candles" default:"4" validate:"gte=1"`
	WarmupCandles               int `yaml:"warmup_candles" default:"1000" validate:"gte=1000"`
	EntryTimeoutCandles         int `yaml:"entry_timeout_candles" default:"3" validate:"gte=1"`
	MaxConsecutiveOrderFailures int `yaml:"max_consecutive_order_failures" default:"3" validate:"gte=1"`
	EventBuffer                 int `yaml:"event_buffer" default:"1024" validate:"gte=1"`

	// Signal generation
	FOMOVelocityPctPerMin         float64 `yaml:"fomo_velocity_pct_per_min" default:"0.5" validate:"gt=0"`
	MinRewardRisk                 float64 `yaml:"min_reward_risk" default:"1.5" validate:"gt=0"`
	SwingFailureVolumeMultiplier  float64 `yaml:"swing_failure_volume_multiplier" default:"3.0" validate:"gt=0"`
	SwingFailureMinPenetrationPct float64 `yaml:"swing_failure_min_penetration_pct" default:"0.001" validate:"gte=0"`
	SwingFailureMinRejectionPct   float64 `yaml:"swing_failure_min_rejection_pct" default:"0.001" validate:"gte=0"`
	MinConfidence                 float64 `yaml:"min_confidence" default:"0.5" validate:"gte=0,lte=1"`
	TargetRiskMultiple            float64 `yaml:"target_risk_multiple" default:"2.0" validate:"gt=0"`
	SignalExpiryCandles           int     `yaml:"signal_expiry_candles" default:"3" validate:"gte=1"`
	TouchTolerancePct             float64 `yaml:"touch_tolerance_pct" default:"0.001" validate:"gte=0"`
	PullbackVolumeMultiple        float64 `yaml:"pullback_volume_multiple" default:"1.0" validate:"gte=0"`
	OrderSize                     float64 `yaml:"order_size" default:"0.01" validate:"gt=0"`

	// Indicator windows
	VWAPResetHour    int     `yaml:"vwap_reset_hour" default:"0" validate:"gte=0,lte=23"`
	VWAPTimezone     string  `yaml:"vwap_timezone" default:"UTC"`
	BandPeriod       int     `yaml:"band_period" default:"20" validate:"gte=2"`
	BandStdDev       float64 `yaml:"band_stddev" default:"2.0" validate:"gt=0"`
	StochK           int     `yaml:"stoch_k" default:"14" validate:"gte=1"`
	StochD           int     `yaml:"stoch_d" default:"3" validate:"gte=1"`
	ADXPeriod        int     `yaml:"adx_period" default:"14" validate:"gte=2"`
	ATRPeriod        int     `yaml:"atr_period" default:"14" validate:"gte=1"`
	VelocityLookback int     `yaml:"velocity_lookback" default:"3" validate:"gte=1"`
	PressureWindow   int     `yaml:"pressure_window" default:"10" validate:"gte=1"`
	SwingLookback    int     `yaml:"swing_lookback" default:"2" validate:"gte=1"`
	MaxZones         int     `yaml:"max_zones" default:"6" validate:"gte=1"`
	ZoneTolerancePct float64 `yaml:"zone_tolerance_pct" default:"0.001" validate:"gte=0"`
	VolumeAvgPeriod  int     `yaml:"volume_avg_period" default:"20" validate:"gte=1"`
}

// Location resolves VWAPTimezone, falling back to UTC.
func (e Engine) Location() *time.Location {
	if e.VWAPTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(e.VWAPTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DefaultEngine returns an Engine populated with its documented defaults.
func DefaultEngine() Engine {
	var e Engine
	if err := defaults.Set(&e); err != nil {
		panic(fmt.Sprintf("engine defaults: %v", err))
	}
	return e
}

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Logging struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"logging"`
	Engine   Engine `yaml:"engine"`
	Exchange struct {
		Type         string        `yaml:"type" default:"paper" validate:"oneof=paper live"`
		BaseURL      string        `yaml:"base_url"`
		APIKey       string        `yaml:"api_key"`
		Timeout      time.Duration `yaml:"timeout" default:"5s"`
		RateCapacity float64       `yaml:"rate_capacity" default:"10"`
		RatePerSec   float64       `yaml:"rate_per_sec" default:"5"`
	} `yaml:"exchange"`
	Persistence struct {
		Backend string `yaml:"backend" default:"postgres" validate:"oneof=postgres redis memory"`
	} `yaml:"persistence"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled" default:"true"`
		Brokers      []string `yaml:"brokers"`
		EventsTopic  string   `yaml:"events_topic" default:"engine.events"`
		CandlesTopic string   `yaml:"candles_topic" default:"market.candles"`
		LogTopic     string   `yaml:"log_topic" default:"engine.log_digest"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"trade-engine"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"market.candles.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled" default:"true"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"tradeengine"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"tradeengine"`
		Outbox   struct {
			Enabled    bool          `yaml:"enabled" default:"true"`
			Workers    int           `yaml:"workers" default:"1"`
			RetryLimit int           `yaml:"retry_limit" default:"5"`
			RetryDelay time.Duration `yaml:"retry_delay" default:"2s"`
		} `yaml:"outbox"`
	} `yaml:"redis"`
	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`
	Feed struct {
		WebSocketURL   string        `yaml:"websocket_url"`
		APIKey         string        `yaml:"api_key"`
		CandleSource   string        `yaml:"candle_source" default:"websocket" validate:"oneof=websocket kafka"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"3s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"15s"`
		QuoteMaxRPS    int           `yaml:"quote_max_rps" default:"20"`
	} `yaml:"feed"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes, applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("ENGINE_SYMBOL"); v != "" {
		c.Engine.Symbol = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("EXCHANGE_TYPE"); v != "" {
		c.Exchange.Type = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Host = host
		if ok {
			fmt.Sscanf(port, "%d", &c.Redis.Port)
		}
	}
	if v := os.Getenv("FEED_URL"); v != "" {
		c.Feed.WebSocketURL = v
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Exchange.Type == "live" && c.Exchange.BaseURL == "" {
		return fmt.Errorf("exchange.base_url is required for live exchange")
	}
	if c.Persistence.Backend == "postgres" && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required for postgres persistence")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Feed.CandleSource == "kafka" && !c.Kafka.Enabled {
		return fmt.Errorf("feed.candle_source=kafka requires kafka.enabled")
	}
	if c.Feed.WebSocketURL == "" {
		return fmt.Errorf("feed.websocket_url is required")
	}
	if _, err := time.LoadLocation(c.Engine.VWAPTimezone); err != nil {
		return fmt.Errorf("engine.vwap_timezone: %w", err)
	}
	return nil
}
