package main

import (
	"context"
	"flag"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"optionsmetrics/internal/adapters/config"
	"optionsmetrics/internal/adapters/kafka"
	store "optionsmetrics/internal/adapters/sqlite"
	"optionsmetrics/internal/domain/options"
	"optionsmetrics/internal/events"
	sqliterepo "optionsmetrics/internal/repository/sqlite"
	devseeds "optionsmetrics/internal/seeds/dev"
	"optionsmetrics/pkg/logger"
)

func main() {
	assets := flag.String("assets", "", "Comma separated assets (default: TICKERS)")
	count := flag.Int("batches", 12, "Batches per asset")
	step := flag.Duration("step", 5*time.Minute, "Spacing between batches")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "Random seed")
	announce := flag.Bool("announce", false, "Publish a batch-collected event per batch (requires KAFKA_ENABLED)")
	dryRun := flag.Bool("dry-run", false, "Generate one batch per asset without storing it")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	tickers := cfg.Engine.Tickers
	if *assets != "" {
		tickers = strings.Split(strings.ToUpper(*assets), ",")
	}

	log.Infow("Starting seeder",
		"assets", tickers,
		"batches", *count,
		"step", *step,
		"data_dir", cfg.Store.DataDir,
		"dry_run", *dryRun,
	)

	if *dryRun {
		for i, asset := range tickers {
			batch := devseeds.NewGenerator(devseeds.DefaultChain(asset), *seed+uint64(i)).Next(time.Now())
			log.Infow("generated batch", "asset", asset, "contracts", len(batch.Contracts), "spot", batch.SpotPrice)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := store.NewPool(cfg.Store, log)
	defer func() { _ = pool.Close() }()
	repo := sqliterepo.NewMarketRepository(sqliterepo.NewStores(pool, log))

	var onSaved func(*options.CollectionBatch) error
	if *announce && cfg.Kafka.Enabled {
		producer := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers})
		defer func() { _ = producer.Close() }()
		onSaved = func(b *options.CollectionBatch) error {
			return producer.Publish(ctx, kafka.TopicBatchCollected, b.Asset, events.BatchCollectedEvent{
				Base:    events.NewBaseEvent(events.TypeBatchCollected, "seeder"),
				Asset:   b.Asset,
				BatchID: b.ID,
			})
		}
	}

	end := time.Now().UTC().Truncate(time.Second)
	for i, asset := range tickers {
		asset = strings.TrimSpace(asset)
		if asset == "" {
			continue
		}
		if err := devseeds.SeedHistory(ctx, repo, devseeds.DefaultChain(asset), *seed+uint64(i), *count, *step, end, onSaved); err != nil {
			log.Fatalf("Failed to seed %s: %v", asset, err)
		}
	}

	log.Info("✅ All seeds applied successfully")
}
