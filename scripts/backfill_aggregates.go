package main

// Replays stored aggregate snapshots into the ClickHouse export table.
// Rows already exported are collapsed by the table engine, so reruns are safe.
//
// Usage:
//   go run scripts/backfill_aggregates.go --assets BTC,ETH --start 2025-01-01 --end 2025-03-31

import (
	"context"
	"flag"
	"os/signal"
	"strings"
	"syscall"
	"time"

	chclient "optionsmetrics/internal/adapters/clickhouse"
	"optionsmetrics/internal/adapters/config"
	store "optionsmetrics/internal/adapters/sqlite"
	"optionsmetrics/internal/domain/options"
	chrepo "optionsmetrics/internal/repository/clickhouse"
	sqliterepo "optionsmetrics/internal/repository/sqlite"
	"optionsmetrics/pkg/logger"
)

func main() {
	assets := flag.String("assets", "", "Comma separated assets (default: TICKERS)")
	startDate := flag.String("start", time.Now().UTC().AddDate(0, -1, 0).Format(options.DateLayout), "Start date (YYYY-MM-DD)")
	endDate := flag.String("end", time.Now().UTC().Format(options.DateLayout), "End date (YYYY-MM-DD)")
	enrichedOnly := flag.Bool("enriched-only", true, "Skip snapshots whose enrichment has not completed")
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

	for _, d := range []string{*startDate, *endDate} {
		if _, err := time.Parse(options.DateLayout, d); err != nil {
			log.Fatalf("Invalid date %q (use YYYY-MM-DD): %v", d, err)
		}
	}

	tickers := cfg.Engine.Tickers
	if *assets != "" {
		tickers = strings.Split(strings.ToUpper(*assets), ",")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ch, err := chclient.NewClient(ctx, cfg.ClickHouse)
	if err != nil {
		log.Fatalf("Failed to connect clickhouse: %v", err)
	}
	defer func() { _ = ch.Close() }()

	exporter := chrepo.NewAggregateExporter(ch.Conn(), cfg.ClickHouse.BatchSize, cfg.ClickHouse.FlushInterval, log)
	if err := exporter.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to prepare schema: %v", err)
	}
	exporter.Start(ctx)

	pool := store.NewPool(cfg.Store, log)
	defer func() { _ = pool.Close() }()
	repo := sqliterepo.NewAnalyticsRepository(sqliterepo.NewStores(pool, log))

	total := 0
	for _, asset := range tickers {
		asset = strings.TrimSpace(asset)
		snaps, err := repo.GetAggregatesBetween(ctx, asset, *startDate, *endDate)
		if err != nil {
			log.Errorw("Failed to read aggregates", "asset", asset, "error", err)
			continue
		}

		exported := 0
		for i := range snaps {
			if *enrichedOnly && !snaps[i].Enriched() {
				continue
			}
			if err := exporter.Export(ctx, &snaps[i]); err != nil {
				log.Errorw("Export failed", "asset", asset, "batch_id", snaps[i].BatchID, "error", err)
				continue
			}
			exported++
		}
		total += exported
		log.Infow("Asset backfilled", "asset", asset, "snapshots", len(snaps), "exported", exported)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := exporter.Stop(stopCtx); err != nil {
		log.Errorw("Final flush failed", "error", err)
	}

	log.Infow("✅ Backfill complete", "exported", total, "from", *startDate, "to", *endDate)
}
