package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"optionsmetrics/pkg/errors"
)

type Config struct {
	App           AppConfig
	Engine        EngineConfig
	Store         StoreConfig
	Enrichment    EnrichmentConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Metrics       MetricsConfig
	ErrorTracking ErrorTrackingConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"optionsmetrics"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	Version  string `envconfig:"APP_VERSION" default:"dev"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	RunOnce  bool   `envconfig:"RUN_ONCE" default:"false"`
}

// EngineConfig drives the per-asset calculation cycle
type EngineConfig struct {
	Tickers  []string      `envconfig:"TICKERS" default:"BTC,ETH,SOL,XRP,DOGE,MNT"`
	Interval time.Duration `envconfig:"CALCULATION_INTERVAL" default:"5m"`

	RiskFreeRate  float64 `envconfig:"RISK_FREE_RATE" default:"0.02"`
	DividendYield float64 `envconfig:"DIVIDEND_YIELD" default:"0"`

	// Contract multipliers used for notional GEX of the exposure audit
	ContractSizes map[string]float64 `envconfig:"CONTRACT_SIZES" default:"BTC:0.01,ETH:0.1,SOL:1,USDC:1"`

	// Cross-asset cycle concurrency; 1 processes assets sequentially
	MaxConcurrentAssets int `envconfig:"MAX_CONCURRENT_ASSETS" default:"2"`
}

// StoreConfig configures the embedded per-asset stores
type StoreConfig struct {
	DataDir         string        `envconfig:"DATA_DIR" default:"./data"`
	BusyTimeout     time.Duration `envconfig:"STORE_BUSY_TIMEOUT" default:"30s"`
	QueryTimeout    time.Duration `envconfig:"STORE_QUERY_TIMEOUT" default:"30s"`
	MaxOpenConns    int           `envconfig:"STORE_MAX_OPEN_CONNS" default:"4"`
	RetryAttempts   int           `envconfig:"STORE_RETRY_ATTEMPTS" default:"3"`
	RetryDelay      time.Duration `envconfig:"STORE_RETRY_DELAY" default:"500ms"`
	RetryMultiplier float64       `envconfig:"STORE_RETRY_MULTIPLIER" default:"1.5"`
	RebuildAfter    int           `envconfig:"STORE_REBUILD_THRESHOLD" default:"5"`
}

// EnrichmentConfig sizes the background enrichment pool and percentile caches
type EnrichmentConfig struct {
	Workers       int           `envconfig:"ENRICHMENT_WORKERS" default:"4"`
	QueueSize     int           `envconfig:"ENRICHMENT_QUEUE_SIZE" default:"64"`
	RatePerMinute int           `envconfig:"ENRICHMENT_RATE_PER_MINUTE" default:"600"`
	TaskTimeout   time.Duration `envconfig:"ENRICHMENT_TASK_TIMEOUT" default:"2m"`
	CacheSize     int           `envconfig:"PERCENTILE_CACHE_SIZE" default:"4096"`
	LockTTL       time.Duration `envconfig:"ENRICHMENT_LOCK_TTL" default:"10m"`
}

// ClickHouseConfig enables the optional columnar export of aggregates
type ClickHouseConfig struct {
	Enabled       bool          `envconfig:"CLICKHOUSE_ENABLED" default:"false"`
	Host          string        `envconfig:"CLICKHOUSE_HOST" default:"localhost"`
	Port          int           `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User          string        `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password      string        `envconfig:"CLICKHOUSE_PASSWORD"`
	Database      string        `envconfig:"CLICKHOUSE_DB" default:"options"`
	BatchSize     int           `envconfig:"CLICKHOUSE_BATCH_SIZE" default:"500"`
	FlushInterval time.Duration `envconfig:"CLICKHOUSE_FLUSH_INTERVAL" default:"10s"`
}

// RedisConfig enables the cross-process enrichment lock
type RedisConfig struct {
	Enabled  bool   `envconfig:"REDIS_ENABLED" default:"false"`
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig enables aggregate lifecycle events
type KafkaConfig struct {
	Enabled bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	Brokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
}

type MetricsConfig struct {
	Enabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	Addr    string `envconfig:"METRICS_ADDR" default:":9090"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"true"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) normalize() {
	tickers := make([]string, 0, len(c.Engine.Tickers))
	seen := make(map[string]bool, len(c.Engine.Tickers))
	for _, t := range c.Engine.Tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tickers = append(tickers, t)
	}
	c.Engine.Tickers = tickers

	sizes := make(map[string]float64, len(c.Engine.ContractSizes))
	for k, v := range c.Engine.ContractSizes {
		sizes[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	c.Engine.ContractSizes = sizes
}

// Validate checks the values envconfig cannot express as tags
func (c *Config) Validate() error {
	var errs errors.MultiError

	if len(c.Engine.Tickers) == 0 {
		errs.Add(errors.NewValidationError("TICKERS", "at least one ticker required", c.Engine.Tickers))
	}
	if c.Engine.Interval <= 0 {
		errs.Add(errors.NewValidationError("CALCULATION_INTERVAL", "must be positive", c.Engine.Interval))
	}
	if c.Engine.MaxConcurrentAssets < 1 {
		errs.Add(errors.NewValidationError("MAX_CONCURRENT_ASSETS", "must be >= 1", c.Engine.MaxConcurrentAssets))
	}
	if c.Store.DataDir == "" {
		errs.Add(errors.NewValidationError("DATA_DIR", "must not be empty", c.Store.DataDir))
	}
	if c.Store.RetryAttempts < 1 {
		errs.Add(errors.NewValidationError("STORE_RETRY_ATTEMPTS", "must be >= 1", c.Store.RetryAttempts))
	}
	if c.Store.RebuildAfter < 0 {
		errs.Add(errors.NewValidationError("STORE_REBUILD_THRESHOLD", "must be >= 0", c.Store.RebuildAfter))
	}
	if c.Enrichment.Workers < 1 {
		errs.Add(errors.NewValidationError("ENRICHMENT_WORKERS", "must be >= 1", c.Enrichment.Workers))
	}
	if c.Enrichment.CacheSize < 1 {
		errs.Add(errors.NewValidationError("PERCENTILE_CACHE_SIZE", "must be >= 1", c.Enrichment.CacheSize))
	}
	for asset, size := range c.Engine.ContractSizes {
		if size <= 0 {
			errs.Add(errors.NewValidationError("CONTRACT_SIZES", "size must be positive for "+asset, size))
		}
	}

	return errs.ToError()
}

// ContractSize returns the multiplier for asset, defaulting to 1
func (c EngineConfig) ContractSize(asset string) float64 {
	if size, ok := c.ContractSizes[strings.ToUpper(asset)]; ok {
		return size
	}
	return 1
}
