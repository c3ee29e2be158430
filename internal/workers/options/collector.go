package options

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"optionsmetrics/internal/analytics/aggregate"
	"optionsmetrics/internal/analytics/greeks"
	"optionsmetrics/internal/domain/options"
	"optionsmetrics/internal/metrics"
	"optionsmetrics/internal/workers"
	"optionsmetrics/pkg/errors"
)

// Asset outcomes of one cycle
const (
	StatusOK        = "ok"
	StatusDuplicate = "duplicate"
	StatusNoData    = "no_data"
	StatusFailed    = "failed"
)

// Dispatcher accepts enrichment tasks; *workers.Pool satisfies it
type Dispatcher interface {
	Submit(task workers.Task) error
}

// AssetResult is one line of the cycle summary
type AssetResult struct {
	Asset     string
	Status    string
	BatchID   string
	Contracts int
	Skipped   int
	Notional  float64
	Duration  time.Duration
	Err       error
}

// CollectorDeps wires the collector. Events is optional.
type CollectorDeps struct {
	Market        options.MarketRepository
	Analytics     options.AnalyticsRepository
	Engine        *greeks.Engine
	Enricher      *Enricher
	Dispatcher    Dispatcher
	Events        options.EventPublisher
	Assets        []string
	MaxConcurrent int
}

// MetricsCollector runs the per-asset calculation cycle: latest batch,
// per-contract analytics, aggregate insert, enrichment dispatch.
type MetricsCollector struct {
	*workers.BaseWorker
	market        options.MarketRepository
	analytics     options.AnalyticsRepository
	engine        *greeks.Engine
	enricher      *Enricher
	dispatcher    Dispatcher
	events        options.EventPublisher
	assets        []string
	maxConcurrent int
}

// NewMetricsCollector creates the collector worker
func NewMetricsCollector(deps CollectorDeps, interval time.Duration, enabled bool) *MetricsCollector {
	if deps.MaxConcurrent < 1 {
		deps.MaxConcurrent = 1
	}
	return &MetricsCollector{
		BaseWorker:    workers.NewBaseWorker("options_metrics_collector", interval, enabled),
		market:        deps.Market,
		analytics:     deps.Analytics,
		engine:        deps.Engine,
		enricher:      deps.Enricher,
		dispatcher:    deps.Dispatcher,
		events:        deps.Events,
		assets:        deps.Assets,
		maxConcurrent: deps.MaxConcurrent,
	}
}

// Run executes one cycle over all assets. A failing asset does not stop the
// others; the returned error lists every failed asset.
func (c *MetricsCollector) Run(ctx context.Context) error {
	start := time.Now()
	results := make([]AssetResult, len(c.assets))

	var g errgroup.Group
	g.SetLimit(c.maxConcurrent)
	for i, asset := range c.assets {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = AssetResult{Asset: asset, Status: StatusFailed, Err: ctx.Err()}
				return nil
			}
			results[i] = c.ProcessAsset(ctx, asset)
			return nil
		})
	}
	_ = g.Wait()

	c.logSummary(results, time.Since(start))

	var errs errors.MultiError
	for _, r := range results {
		if r.Err != nil {
			errs.Add(errors.Wrapf(r.Err, "asset %s", r.Asset))
		}
	}
	return errs.ToError()
}

// ProcessAsset runs the cycle for one asset
func (c *MetricsCollector) ProcessAsset(ctx context.Context, asset string) (res AssetResult) {
	start := time.Now()
	res = AssetResult{Asset: asset}
	log := c.Log().With("asset", asset)

	defer func() {
		res.Duration = time.Since(start)
		metrics.RecordAssetCycle(asset, res.Status, res.Duration, res.Contracts, res.Skipped)
	}()
	defer func() {
		if r := recover(); r != nil {
			res.Status = StatusFailed
			res.Err = errors.Wrapf(errors.ErrInternal, "panic: %v", r)
		}
	}()

	batch, err := c.market.LatestBatch(ctx, asset)
	if errors.Is(err, errors.ErrNotFound) {
		log.Debug("no batch collected yet")
		res.Status = StatusNoData
		return res
	}
	if err != nil {
		res.Status, res.Err = StatusFailed, errors.Wrap(err, "load latest batch")
		return res
	}
	res.BatchID = batch.ID

	exists, err := c.analytics.AggregateExists(ctx, asset, batch.CollectionDate, batch.CollectionTime)
	if err != nil {
		res.Status, res.Err = StatusFailed, errors.Wrap(err, "check aggregate")
		return res
	}
	if exists {
		res.Status = StatusDuplicate
		c.resumeEnrichment(ctx, batch)
		return res
	}

	rows, skipped := c.engine.ComputeBatch(batch)
	res.Contracts, res.Skipped = len(rows), skipped

	if err := c.analytics.SaveContractAnalytics(ctx, asset, rows); err != nil {
		res.Status, res.Err = StatusFailed, errors.Wrap(err, "save contract analytics")
		return res
	}

	snap := aggregate.Build(batch, rows)
	res.Notional = snap.TotalNotionalOI

	inserted, err := c.analytics.InsertAggregate(ctx, snap)
	if err != nil {
		res.Status, res.Err = StatusFailed, errors.Wrap(err, "insert aggregate")
		return res
	}
	if !inserted {
		metrics.AggregatesWritten.WithLabelValues(asset, "duplicate").Inc()
		res.Status = StatusDuplicate
		return res
	}
	metrics.AggregatesWritten.WithLabelValues(asset, "inserted").Inc()

	if c.events != nil {
		if err := c.events.AggregateReady(ctx, snap); err != nil {
			log.Warn("failed to publish ready event", "error", err)
		}
	}

	c.dispatch(batch, snap, rows)
	res.Status = StatusOK
	return res
}

// resumeEnrichment re-dispatches an aggregate whose enrichment never completed
func (c *MetricsCollector) resumeEnrichment(ctx context.Context, batch *options.CollectionBatch) {
	snap, err := c.analytics.GetAggregate(ctx, batch.Asset, batch.ID)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			c.Log().Warn("failed to load existing aggregate", "asset", batch.Asset, "batch_id", batch.ID, "error", err)
		}
		return
	}
	if snap.Enriched() {
		return
	}

	rows, err := c.analytics.GetContractAnalytics(ctx, batch.Asset, batch.ID)
	if err != nil {
		c.Log().Warn("failed to load contract analytics", "asset", batch.Asset, "batch_id", batch.ID, "error", err)
		return
	}
	c.dispatch(batch, snap, rows)
}

func (c *MetricsCollector) dispatch(batch *options.CollectionBatch, snap *options.AggregateSnapshot, rows []options.ContractAnalytics) {
	if c.enricher == nil || c.dispatcher == nil {
		return
	}

	err := c.dispatcher.Submit(c.enricher.Task(batch, snap, rows))
	switch {
	case err == nil:
		c.Log().Debug("enrichment dispatched", "asset", snap.Asset, "batch_id", snap.BatchID)
	case errors.Is(err, errors.ErrAlreadyExists):
		c.Log().Debug("enrichment already pending", "asset", snap.Asset, "batch_id", snap.BatchID)
	default:
		// Retried by resumeEnrichment on a later cycle
		c.Log().Warn("enrichment deferred", "asset", snap.Asset, "batch_id", snap.BatchID, "error", err)
	}
}

func (c *MetricsCollector) logSummary(results []AssetResult, elapsed time.Duration) {
	var (
		parts    []string
		ok       int
		failed   int
		contract int
	)
	for _, r := range results {
		switch r.Status {
		case StatusOK:
			ok++
		case StatusFailed:
			failed++
		}
		contract += r.Contracts

		part := fmt.Sprintf("%s=%s", r.Asset, r.Status)
		if r.Contracts > 0 {
			notional := decimal.NewFromFloat(r.Notional).Round(0).IntPart()
			part += fmt.Sprintf("(%s contracts, %s skipped, notional %s, %s)",
				humanize.Comma(int64(r.Contracts)),
				humanize.Comma(int64(r.Skipped)),
				humanize.Comma(notional),
				r.Duration.Round(time.Millisecond),
			)
		}
		if r.Err != nil {
			part += fmt.Sprintf("[%v]", r.Err)
		}
		parts = append(parts, part)
	}

	c.Log().Info("calculation cycle complete",
		"assets", len(results),
		"ok", ok,
		"failed", failed,
		"contracts", humanize.Comma(int64(contract)),
		"duration", elapsed.Round(time.Millisecond),
		"summary", strings.Join(parts, " "),
	)
}
