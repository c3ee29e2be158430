package bootstrap

import (
	"context"
	"sync"

	chclient "optionsmetrics/internal/adapters/clickhouse"
	"optionsmetrics/internal/adapters/config"
	"optionsmetrics/internal/adapters/kafka"
	redisclient "optionsmetrics/internal/adapters/redis"
	store "optionsmetrics/internal/adapters/sqlite"
	"optionsmetrics/internal/analytics/greeks"
	"optionsmetrics/internal/analytics/percentile"
	"optionsmetrics/internal/api"
	"optionsmetrics/internal/api/health"
	"optionsmetrics/internal/domain/options"
	chrepo "optionsmetrics/internal/repository/clickhouse"
	sqliterepo "optionsmetrics/internal/repository/sqlite"
	"optionsmetrics/internal/workers"
	optworkers "optionsmetrics/internal/workers/options"
	"optionsmetrics/pkg/errors"
	"optionsmetrics/pkg/logger"
)

// Container holds every component of the engine process
type Container struct {
	// Core
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure; CH and Redis stay nil when disabled
	StorePool *store.Pool
	Stores    *sqliterepo.Stores
	CH        *chclient.Client
	Redis     *redisclient.Client

	// Layers
	Repos       *Repositories
	Adapters    *Adapters
	Analytics   *Analytics
	Application *Application
	Background  *Background

	Lifecycle *Lifecycle

	WG      *sync.WaitGroup
	Context context.Context
	Cancel  context.CancelFunc
}

// Repositories groups the stores the engine reads and writes
type Repositories struct {
	Market    *sqliterepo.MarketRepository
	Analytics *sqliterepo.AnalyticsRepository
	Exporter  *chrepo.AggregateExporter
}

// Adapters groups optional external integrations
type Adapters struct {
	KafkaProducer *kafka.Producer
	BatchConsumer *kafka.Consumer
	Locker        *redisclient.Locker
	Events        options.EventPublisher
}

// Analytics groups the calculation engines
type Analytics struct {
	Greeks *greeks.Engine
	Ranker *percentile.Ranker
}

// Application groups the HTTP surface
type Application struct {
	HTTPServer    *api.Server
	HealthHandler *health.Handler
}

// Background groups background processing components
type Background struct {
	EnrichmentPool  *workers.Pool
	Enricher        *optworkers.Enricher
	Collector       *optworkers.MetricsCollector
	Trigger         *optworkers.BatchTrigger
	WorkerScheduler *workers.Scheduler
	WorkerRegistry  *workers.Registry
}

// NewContainer creates a new dependency container
func NewContainer() *Container {
	ctx, cancel := context.WithCancel(context.Background())

	return &Container{
		Repos:       &Repositories{},
		Adapters:    &Adapters{},
		Analytics:   &Analytics{},
		Application: &Application{},
		Background:  &Background{},
		Lifecycle:   NewLifecycle(),
		WG:          &sync.WaitGroup{},
		Context:     ctx,
		Cancel:      cancel,
	}
}

// MustInit initializes all components in dependency order.
// Panics on any initialization error (fail-fast at startup)
func (c *Container) MustInit() {
	c.MustInitConfig()
	c.MustInitInfrastructure()
	c.MustInitRepositories()
	c.MustInitAdapters()
	c.MustInitAnalytics()
	c.MustInitApplication()
	c.MustInitBackground()
}

// Start launches the HTTP server, the batch trigger and the scheduler
func (c *Container) Start() error {
	c.Log.Info("starting all systems")

	c.Background.EnrichmentPool.Start(c.Context)

	if c.Application.HTTPServer != nil {
		c.WG.Add(1)
		go func() {
			defer c.WG.Done()
			if err := c.Application.HTTPServer.Start(); err != nil {
				c.Log.Error("http server failed", "error", err)
				c.Cancel()
			}
		}()
	}

	if c.Background.Trigger != nil {
		c.WG.Add(1)
		go func() {
			defer c.WG.Done()
			if err := c.Background.Trigger.Run(c.Context); err != nil && c.Context.Err() == nil {
				c.Log.Error("batch trigger failed", "error", err)
			}
		}()
	}

	if err := c.Background.WorkerScheduler.Start(c.Context); err != nil {
		return errors.Wrap(err, "failed to start workers")
	}

	c.Log.Info("all systems operational",
		"assets", c.Config.Engine.Tickers,
		"interval", c.Config.Engine.Interval,
	)
	return nil
}

// RunOnce executes a single calculation cycle over all assets. Enrichment
// tasks it dispatches are drained by Shutdown.
func (c *Container) RunOnce() error {
	c.Log.Info("running single cycle", "assets", c.Config.Engine.Tickers)
	c.Background.EnrichmentPool.Start(c.Context)
	return c.Background.WorkerScheduler.RunOnce(c.Context)
}

// Shutdown performs graceful shutdown in the correct order
func (c *Container) Shutdown() {
	c.Log.Info("initiating graceful shutdown")
	c.Cancel()
	c.Lifecycle.Shutdown(c)
}
