package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsmetrics/internal/adapters/config"
	errnoop "optionsmetrics/internal/adapters/errors/noop"
	store "optionsmetrics/internal/adapters/sqlite"
	"optionsmetrics/internal/domain/options"
	"optionsmetrics/internal/events"
	sqliterepo "optionsmetrics/internal/repository/sqlite"
	devseeds "optionsmetrics/internal/seeds/dev"
	"optionsmetrics/internal/testsupport"
	"optionsmetrics/pkg/logger"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "optionsmetrics", Version: "test", RunOnce: true},
		Engine: config.EngineConfig{
			Tickers:             []string{"BTC", "ETH"},
			Interval:            time.Minute,
			RiskFreeRate:        0.02,
			ContractSizes:       map[string]float64{"BTC": 0.01},
			MaxConcurrentAssets: 2,
		},
		Store: testsupport.StoreConfig(t.TempDir()),
		Enrichment: config.EnrichmentConfig{
			Workers:     2,
			QueueSize:   8,
			TaskTimeout: 30 * time.Second,
			CacheSize:   16,
			LockTTL:     time.Minute,
		},
	}
}

func TestContainer_RunOnceDrainsEnrichment(t *testing.T) {
	c := NewContainer()
	c.Config = testConfig(t)
	c.Log = logger.Nop()
	c.ErrorTracker = errnoop.New()

	c.MustInitInfrastructure()
	c.MustInitRepositories()
	c.MustInitAdapters()
	c.MustInitAnalytics()
	c.MustInitApplication()
	c.MustInitBackground()

	assert.Nil(t, c.CH)
	assert.Nil(t, c.Redis)
	assert.Nil(t, c.Application.HTTPServer, "metrics server disabled")
	assert.Nil(t, c.Background.Trigger, "kafka disabled")
	assert.IsType(t, events.NoopPublisher{}, c.Adapters.Events)

	ctx := context.Background()
	var batch *options.CollectionBatch
	end := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, devseeds.SeedHistory(ctx, c.Repos.Market, devseeds.DefaultChain("BTC"), 3, 1, time.Minute, end, func(b *options.CollectionBatch) error {
		batch = b
		return nil
	}))

	// ETH has no batch and reports no data rather than failing
	require.NoError(t, c.RunOnce())
	c.Shutdown()

	pool := store.NewPool(c.Config.Store, logger.Nop())
	defer func() { _ = pool.Close() }()
	repo := sqliterepo.NewAnalyticsRepository(sqliterepo.NewStores(pool, logger.Nop()))

	snap, err := repo.GetAggregate(ctx, "BTC", batch.ID)
	require.NoError(t, err)
	assert.True(t, snap.Enriched(), "shutdown drains queued enrichment")
	assert.Greater(t, snap.NTotal, 0)

	strikes, err := repo.GetStrikeAggregates(ctx, "BTC", options.CumulativeDate)
	require.NoError(t, err)
	assert.NotEmpty(t, strikes)
}
