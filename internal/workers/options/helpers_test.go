package options

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"optionsmetrics/internal/analytics/greeks"
	"optionsmetrics/internal/analytics/percentile"
	"optionsmetrics/internal/domain/options"
	reposqlite "optionsmetrics/internal/repository/sqlite"
	"optionsmetrics/internal/testsupport"
	"optionsmetrics/internal/workers"
	"optionsmetrics/pkg/logger"
)

type recordingEvents struct {
	mu       sync.Mutex
	ready    []string
	enriched []*options.AggregateSnapshot
}

func (r *recordingEvents) AggregateReady(_ context.Context, snap *options.AggregateSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = append(r.ready, snap.BatchID)
	return nil
}

func (r *recordingEvents) AggregateEnriched(_ context.Context, snap *options.AggregateSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enriched = append(r.enriched, snap)
	return nil
}

func (r *recordingEvents) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ready), len(r.enriched)
}

// syncDispatcher runs tasks inline so tests observe enrichment right after the cycle
type syncDispatcher struct {
	mu    sync.Mutex
	keys  []string
	errs  []error
	block bool
}

func (d *syncDispatcher) Submit(task workers.Task) error {
	d.mu.Lock()
	d.keys = append(d.keys, task.Key)
	d.mu.Unlock()
	if d.block {
		return nil
	}
	err := task.Run(context.Background())
	d.mu.Lock()
	d.errs = append(d.errs, err)
	d.mu.Unlock()
	return nil
}

type harness struct {
	market    *reposqlite.MarketRepository
	analytics *reposqlite.AnalyticsRepository
	engine    *greeks.Engine
	enricher  *Enricher
	events    *recordingEvents
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	stores := reposqlite.NewStores(testsupport.NewTestPool(t), logger.Nop())
	analytics := reposqlite.NewAnalyticsRepository(stores)

	ranker, err := percentile.NewRanker(analytics, 64, logger.Nop())
	require.NoError(t, err)

	events := &recordingEvents{}
	sizes := map[string]float64{"BTC": 0.01}
	return &harness{
		market:    reposqlite.NewMarketRepository(stores),
		analytics: analytics,
		engine:    greeks.NewEngine(0.02, 0, logger.Nop()),
		events:    events,
		enricher: NewEnricher(EnricherDeps{
			Analytics: analytics,
			Ranker:    ranker,
			Events:    events,
			ContractSize: func(asset string) float64 {
				if s, ok := sizes[asset]; ok {
					return s
				}
				return 1
			},
			Logger: logger.Nop(),
		}),
	}
}

func (h *harness) collector(assets []string, dispatcher Dispatcher) *MetricsCollector {
	return NewMetricsCollector(CollectorDeps{
		Market:        h.market,
		Analytics:     h.analytics,
		Engine:        h.engine,
		Enricher:      h.enricher,
		Dispatcher:    dispatcher,
		Events:        h.events,
		Assets:        assets,
		MaxConcurrent: 2,
	}, 0, true)
}

// seedBatch stores a three-strike chain for asset collected at date/clock
func (h *harness) seedBatch(t *testing.T, asset, date, clock string) *options.CollectionBatch {
	t.Helper()
	batch := testsupport.NewBatchFixture(asset).
		WithClock(date, clock).
		WithContracts(testsupport.Chain(asset, "28MAR25", 100000, 90000, 100000, 110000)...).
		WithContracts(testsupport.NewContractFixture().WithSymbol(asset + "-28MAR25-120000-C").Sparse().Build()).
		Build()
	require.NoError(t, h.market.SaveBatch(context.Background(), batch))
	return batch
}

// seedHistory inserts n earlier aggregates with distinct average IVs
func (h *harness) seedHistory(t *testing.T, asset string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		rv, hv := 0.3+0.01*float64(i), 0.35+0.005*float64(i)
		snap := &options.AggregateSnapshot{
			BatchID:              testsupport.UniqueBatchID(),
			Asset:                asset,
			CollectionDate:       "2024-12-31",
			CollectionTime:       fmt.Sprintf("%02d:00:00", i),
			Spot:                 100000,
			AvgIV:                40 + float64(i),
			RealizedVolatility:   &rv,
			HistoricalVolatility: &hv,
		}
		inserted, err := h.analytics.InsertAggregate(context.Background(), snap)
		require.NoError(t, err)
		require.True(t, inserted)
	}
}
