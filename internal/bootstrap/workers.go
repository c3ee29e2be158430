package bootstrap

import (
	"optionsmetrics/internal/workers"
	optworkers "optionsmetrics/internal/workers/options"
)

// staleAfter is how many missed intervals mark a worker unhealthy
const staleAfter = 3

// MustInitBackground wires the enrichment pool, the collector worker and the
// optional Kafka trigger
func (c *Container) MustInitBackground() {
	cfg := c.Config

	c.Background.EnrichmentPool = workers.NewPool(workers.PoolConfig{
		Name:          "enrichment",
		Workers:       cfg.Enrichment.Workers,
		QueueSize:     cfg.Enrichment.QueueSize,
		RatePerMinute: cfg.Enrichment.RatePerMinute,
		TaskTimeout:   cfg.Enrichment.TaskTimeout,
	}, c.Log)

	deps := optworkers.EnricherDeps{
		Analytics:    c.Repos.Analytics,
		Ranker:       c.Analytics.Ranker,
		Events:       c.Adapters.Events,
		ContractSize: cfg.Engine.ContractSize,
		Logger:       c.Log,
	}
	// Optional deps stay untyped nil when disabled
	if c.Adapters.Locker != nil {
		deps.Locker = c.Adapters.Locker
	}
	if c.Repos.Exporter != nil {
		deps.Exporter = c.Repos.Exporter
	}
	c.Background.Enricher = optworkers.NewEnricher(deps)

	c.Background.Collector = optworkers.NewMetricsCollector(optworkers.CollectorDeps{
		Market:        c.Repos.Market,
		Analytics:     c.Repos.Analytics,
		Engine:        c.Analytics.Greeks,
		Enricher:      c.Background.Enricher,
		Dispatcher:    c.Background.EnrichmentPool,
		Events:        c.Adapters.Events,
		Assets:        cfg.Engine.Tickers,
		MaxConcurrent: cfg.Engine.MaxConcurrentAssets,
	}, cfg.Engine.Interval, true)

	if c.Adapters.BatchConsumer != nil {
		c.Background.Trigger = optworkers.NewBatchTrigger(c.Adapters.BatchConsumer, c.Background.Collector, cfg.Engine.Tickers, c.Log)
	}

	c.Background.WorkerScheduler = workers.NewScheduler()
	c.Background.WorkerScheduler.RegisterWorker(c.Background.Collector)

	c.Background.WorkerRegistry = workers.NewRegistry()
	if err := c.Background.WorkerRegistry.Register(c.Background.Collector); err != nil {
		c.Log.Fatalf("failed to register worker: %v", err)
	}
	c.Application.HealthHandler.WatchWorkers(c.Background.WorkerRegistry, staleAfter*cfg.Engine.Interval)

	c.Log.Info("background workers initialized",
		"enrichment_workers", cfg.Enrichment.Workers,
		"batch_trigger", c.Background.Trigger != nil,
	)
}
