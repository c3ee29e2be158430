package bootstrap

import (
	"context"
	"time"

	chclient "optionsmetrics/internal/adapters/clickhouse"
	"optionsmetrics/internal/adapters/config"
	errnoop "optionsmetrics/internal/adapters/errors/noop"
	"optionsmetrics/internal/adapters/errors/sentry"
	"optionsmetrics/internal/adapters/kafka"
	redisclient "optionsmetrics/internal/adapters/redis"
	store "optionsmetrics/internal/adapters/sqlite"
	"optionsmetrics/internal/analytics/greeks"
	"optionsmetrics/internal/analytics/percentile"
	"optionsmetrics/internal/api"
	"optionsmetrics/internal/api/health"
	"optionsmetrics/internal/events"
	"optionsmetrics/internal/metrics"
	chrepo "optionsmetrics/internal/repository/clickhouse"
	sqliterepo "optionsmetrics/internal/repository/sqlite"
	"optionsmetrics/pkg/errors"
	"optionsmetrics/pkg/logger"
)

const (
	connectTimeout = 15 * time.Second
	consumerGroup  = "optionsmetrics-engine"
)

// ========================================
// Phase 1: Configuration & Logging
// ========================================

// MustInitConfig loads configuration and initializes logger
func (c *Container) MustInitConfig() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	c.Config = cfg

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}

	c.Log = logger.Get()
	c.Log.Infof("Starting %s %s in %s mode", cfg.App.Name, cfg.App.Version, cfg.App.Env)

	c.ErrorTracker = provideErrorTracker(cfg, c.Log)
	logger.SetErrorTracker(c.ErrorTracker)
}

// ========================================
// Phase 2: Infrastructure Layer
// ========================================

// MustInitInfrastructure opens the embedded stores and the optional
// ClickHouse and Redis connections
func (c *Container) MustInitInfrastructure() {
	ctx, cancel := context.WithTimeout(c.Context, connectTimeout)
	defer cancel()

	c.StorePool = store.NewPool(c.Config.Store, c.Log)
	c.Stores = sqliterepo.NewStores(c.StorePool, c.Log)
	if err := c.Stores.MigrateAnalytics(ctx, c.Config.Engine.Tickers); err != nil {
		c.Log.Fatalf("failed to migrate analytics stores: %v", err)
	}
	c.Log.Info("analytics stores ready", "data_dir", c.Config.Store.DataDir, "assets", c.Config.Engine.Tickers)

	var err error
	if c.Config.ClickHouse.Enabled {
		c.CH, err = chclient.NewClient(ctx, c.Config.ClickHouse)
		if err != nil {
			c.Log.Fatalf("failed to connect clickhouse: %v", err)
		}
		c.Log.Info("clickhouse connected", "host", c.Config.ClickHouse.Host)
	}

	if c.Config.Redis.Enabled {
		c.Redis, err = redisclient.NewClient(ctx, c.Config.Redis)
		if err != nil {
			c.Log.Fatalf("failed to connect redis: %v", err)
		}
		c.Log.Info("redis connected", "addr", c.Config.Redis.Addr())
	}
}

// ========================================
// Phase 3: Repositories
// ========================================

// MustInitRepositories wires the per-asset stores and the optional exporter
func (c *Container) MustInitRepositories() {
	c.Repos.Market = sqliterepo.NewMarketRepository(c.Stores)
	c.Repos.Analytics = sqliterepo.NewAnalyticsRepository(c.Stores)

	if c.CH == nil {
		return
	}

	ctx, cancel := context.WithTimeout(c.Context, connectTimeout)
	defer cancel()

	exporter := chrepo.NewAggregateExporter(c.CH.Conn(), c.Config.ClickHouse.BatchSize, c.Config.ClickHouse.FlushInterval, c.Log)
	if err := exporter.EnsureSchema(ctx); err != nil {
		c.Log.Fatalf("failed to prepare clickhouse schema: %v", err)
	}
	exporter.Start(c.Context)
	c.Repos.Exporter = exporter
}

// ========================================
// Phase 4: Adapters
// ========================================

// MustInitAdapters wires Kafka events and the Redis lock when enabled
func (c *Container) MustInitAdapters() {
	if c.Config.Kafka.Enabled {
		c.Adapters.KafkaProducer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers: c.Config.Kafka.Brokers,
			Async:   true,
		})
		c.Adapters.Events = events.NewPublisher(c.Adapters.KafkaProducer, c.Log)

		c.Adapters.BatchConsumer = kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers: c.Config.Kafka.Brokers,
			GroupID: consumerGroup,
			Topic:   kafka.TopicBatchCollected,
		})
		c.Log.Info("kafka events enabled", "brokers", c.Config.Kafka.Brokers)
	} else {
		c.Adapters.Events = events.NoopPublisher{}
	}

	if c.Redis != nil {
		c.Adapters.Locker = redisclient.NewLocker(c.Redis, c.Config.Enrichment.LockTTL)
	}
}

// ========================================
// Phase 5: Analytics
// ========================================

// MustInitAnalytics builds the greeks engine and the percentile ranker
func (c *Container) MustInitAnalytics() {
	c.Analytics.Greeks = greeks.NewEngine(c.Config.Engine.RiskFreeRate, c.Config.Engine.DividendYield, c.Log)

	ranker, err := percentile.NewRanker(c.Repos.Analytics, c.Config.Enrichment.CacheSize, c.Log)
	if err != nil {
		c.Log.Fatalf("failed to create percentile ranker: %v", err)
	}
	c.Analytics.Ranker = ranker
}

// ========================================
// Phase 6: Application (HTTP)
// ========================================

// MustInitApplication registers metrics and builds the probe server
func (c *Container) MustInitApplication() {
	metrics.Init()
	metrics.RegisterStoreCollector(metrics.NewStoreCollector(c.Log, c.StorePool, c.Config.Store.DataDir, c.Config.Engine.Tickers))

	h := health.New(c.Log, c.Config.App.Name, c.Config.App.Version)
	probeAsset := c.Config.Engine.Tickers[0]
	h.AddCheck("store", func(ctx context.Context) error {
		db, err := c.Stores.Analytics(ctx, probeAsset)
		if err != nil {
			return err
		}
		return db.PingContext(ctx)
	})
	if c.CH != nil {
		h.AddCheck("clickhouse", c.CH.Health)
	}
	if c.Redis != nil {
		h.AddCheck("redis", c.Redis.Health)
	}
	c.Application.HealthHandler = h

	if !c.Config.Metrics.Enabled {
		return
	}
	c.Application.HTTPServer = api.NewServer(api.ServerConfig{
		Addr:        c.Config.Metrics.Addr,
		ServiceName: c.Config.App.Name,
		Version:     c.Config.App.Version,
	}, h, c.Log)
}

// provideErrorTracker initializes error tracking (Sentry or no-op)
func provideErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("error tracking disabled")
		return errnoop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment, cfg.App.Version)
	if err != nil {
		log.Warn("failed to initialize sentry", "error", err)
		return errnoop.New()
	}

	log.Info("error tracking initialized", "provider", "sentry")
	return tracker
}
