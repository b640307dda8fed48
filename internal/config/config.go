package config

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"
)

const (
	DefaultEndpoint      = "https://www.google-analytics.com/mp/collect"
	DefaultDebugEndpoint = "https://www.google-analytics.com/debug/mp/collect"
)

var (
	ErrMissingMeasurementID = errors.New("BEACON_MEASUREMENT_ID is not set")
	ErrMissingAPISecret     = errors.New("BEACON_API_SECRET is not set")
)

type Config struct {
	// Collector
	MeasurementID  string        `env:"BEACON_MEASUREMENT_ID"`
	APISecret      string        `env:"BEACON_API_SECRET"`
	Endpoint       string        `env:"BEACON_ENDPOINT" envDefault:"https://www.google-analytics.com/mp/collect"`
	DebugEndpoint  string        `env:"BEACON_DEBUG_ENDPOINT" envDefault:"https://www.google-analytics.com/debug/mp/collect"`
	Debug          bool          `env:"BEACON_DEBUG" envDefault:"false"`
	RequestTimeout time.Duration `env:"BEACON_REQUEST_TIMEOUT" envDefault:"10s"`

	// Queue
	BatchSize     int           `env:"BEACON_BATCH_SIZE" envDefault:"10"`
	QueueCapacity int           `env:"BEACON_QUEUE_CAPACITY" envDefault:"100"`
	FlushDelay    time.Duration `env:"BEACON_FLUSH_DELAY" envDefault:"5s"`

	// Delivery
	MaxRetries      int           `env:"BEACON_MAX_RETRIES" envDefault:"3"`
	RetryBaseDelay  time.Duration `env:"BEACON_RETRY_BASE_DELAY" envDefault:"1s"`
	HoldingCapacity int           `env:"BEACON_HOLDING_CAPACITY" envDefault:"100"`
	HoldingMaxAge   time.Duration `env:"BEACON_HOLDING_MAX_AGE" envDefault:"24h"`
	ReplayInterval  time.Duration `env:"BEACON_REPLAY_INTERVAL" envDefault:"100ms"`

	// Identity
	SessionWindow time.Duration `env:"BEACON_SESSION_WINDOW" envDefault:"30m"`

	// Storage
	DataDir string `env:"BEACON_DATA_DIR" envDefault:""`

	// Optional YAML file overriding the engagement time defaults table.
	EngagementFile string `env:"BEACON_ENGAGEMENT_FILE"`

	// Logging
	LogLevel  string `env:"BEACON_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"BEACON_LOG_FORMAT" envDefault:"json"`

	// Dev collector
	CollectorAddr      string        `env:"BEACON_COLLECTOR_ADDR" envDefault:":8089"`
	CollectorRate      int           `env:"BEACON_COLLECTOR_RATE" envDefault:"50"`
	CollectorBurst     int           `env:"BEACON_COLLECTOR_BURST" envDefault:"100"`
	ShutdownTimeout    time.Duration `env:"BEACON_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	CollectorMaxEvents int           `env:"BEACON_COLLECTOR_MAX_EVENTS" envDefault:"1000"`
}

// Validate reports whether the collector credentials are present. The
// pipeline still runs without them; tracking calls just return false.
func (c *Config) Validate() error {
	var errs []error
	if c.MeasurementID == "" {
		errs = append(errs, ErrMissingMeasurementID)
	}
	if c.APISecret == "" {
		errs = append(errs, ErrMissingAPISecret)
	}
	return errors.Join(errs...)
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration with every envDefault applied and
// nothing read from the environment.
func Default() *Config {
	cfg := &Config{}
	_ = env.ParseWithOptions(cfg, env.Options{Environment: map[string]string{}})
	return cfg
}

// NewLogger builds the slog logger described by LogLevel and LogFormat.
func NewLogger(cfg *Config, w io.Writer) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.LogLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}
