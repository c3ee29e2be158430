package options

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"optionsmetrics/internal/analytics/aggregate"
	"optionsmetrics/internal/analytics/percentile"
	"optionsmetrics/internal/domain/options"
	"optionsmetrics/internal/metrics"
	"optionsmetrics/internal/workers"
	"optionsmetrics/pkg/errors"
	"optionsmetrics/pkg/logger"
)

// Locker serializes enrichment of one batch across engine processes
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, ok bool, err error)
}

// Ranker computes the percentile columns of an aggregate
type Ranker interface {
	RankIVR(ctx context.Context, snap *options.AggregateSnapshot) (percentile.IVRResult, error)
	RankEnhanced(ctx context.Context, snap *options.AggregateSnapshot) (percentile.EnhancedResult, error)
}

// EnricherDeps wires the enricher. Locker, Events and Exporter are optional.
type EnricherDeps struct {
	Analytics    options.AnalyticsRepository
	Ranker       Ranker
	Locker       Locker
	Events       options.EventPublisher
	Exporter     options.AggregateExporter
	ContractSize func(asset string) float64
	Logger       *logger.Logger
}

// Enricher fills the background columns of an inserted aggregate and
// replaces the per-asset roll-ups. Rerunning it for the same batch rewrites
// the same rows.
type Enricher struct {
	analytics    options.AnalyticsRepository
	ranker       Ranker
	locker       Locker
	events       options.EventPublisher
	exporter     options.AggregateExporter
	contractSize func(string) float64
	now          func() time.Time
	log          *logger.Logger
}

// NewEnricher creates an enricher
func NewEnricher(deps EnricherDeps) *Enricher {
	if deps.Logger == nil {
		deps.Logger = logger.Get()
	}
	if deps.ContractSize == nil {
		deps.ContractSize = func(string) float64 { return 1 }
	}
	return &Enricher{
		analytics:    deps.Analytics,
		ranker:       deps.Ranker,
		locker:       deps.Locker,
		events:       deps.Events,
		exporter:     deps.Exporter,
		contractSize: deps.ContractSize,
		now:          time.Now,
		log:          deps.Logger.With("component", "enricher"),
	}
}

// Task wraps Enrich for the worker pool, keyed by batch id
func (e *Enricher) Task(batch *options.CollectionBatch, snap *options.AggregateSnapshot, rows []options.ContractAnalytics) workers.Task {
	return workers.Task{
		Key: workers.TaskKey("enrich", snap.BatchID),
		Run: func(ctx context.Context) error {
			return e.Enrich(ctx, batch, snap, rows)
		},
	}
}

// Enrich ranks the aggregate against its history, computes max pain and the
// roll-ups, then stores the enrichment columns. Roll-up failures are logged
// and returned after the aggregate row has been updated.
func (e *Enricher) Enrich(ctx context.Context, batch *options.CollectionBatch, snap *options.AggregateSnapshot, rows []options.ContractAnalytics) (err error) {
	start := time.Now()
	log := e.log.With("asset", snap.Asset, "batch_id", snap.BatchID)
	defer func() {
		metrics.RecordEnrichment(snap.Asset, time.Since(start), err)
	}()

	if e.locker != nil {
		release, ok, lockErr := e.locker.Acquire(ctx, workers.TaskKey("enrich", snap.BatchID))
		if lockErr != nil {
			return errors.Wrap(lockErr, "enrichment lock")
		}
		if !ok {
			log.Debug("enrichment held by another process")
			return nil
		}
		defer func() {
			if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
				log.Warn("failed to release enrichment lock", "error", relErr)
			}
		}()
	}

	var (
		ivr      percentile.IVRResult
		enhanced percentile.EnhancedResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ivr, err = e.ranker.RankIVR(gctx, snap)
		return err
	})
	g.Go(func() error {
		var err error
		enhanced, err = e.ranker.RankEnhanced(gctx, snap)
		return err
	})
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "rank aggregate")
	}

	enriched := *snap
	ivr.Apply(&enriched.AggregateEnrichment)
	enhanced.Apply(&enriched.AggregateEnrichment)

	pain, painErr := aggregate.MaxPain(aggregate.OpenInterestByStrike(rows))
	switch {
	case painErr == nil:
		enriched.MaxPain = &pain
	case errors.Is(painErr, errors.ErrUndefined):
		enriched.MaxPain = nil
	default:
		return errors.Wrap(painErr, "max pain")
	}

	rollupErr := e.replaceRollups(ctx, batch, snap, rows)
	if rollupErr != nil {
		log.Warn("roll-up refresh incomplete", "error", rollupErr)
	}

	enrichedAt := e.now().UTC().Format(options.DateTimeLayout)
	enriched.EnrichedAt = &enrichedAt

	if err := e.analytics.UpdateAggregateEnrichment(ctx, snap.Asset, snap.BatchID, enriched.AggregateEnrichment); err != nil {
		return errors.Wrap(err, "store enrichment")
	}

	if e.events != nil {
		if err := e.events.AggregateEnriched(ctx, &enriched); err != nil {
			log.Warn("failed to publish enriched event", "error", err)
		}
	}
	if e.exporter != nil {
		if err := e.exporter.Export(ctx, &enriched); err != nil {
			log.Warn("failed to export aggregate", "error", err)
		}
	}

	log.Info("aggregate enriched",
		"ivr_points", ivr.Count,
		"insufficient_history", ivr.Insufficient,
		"max_pain", enriched.MaxPain != nil,
		"duration", time.Since(start),
	)
	return rollupErr
}

func (e *Enricher) replaceRollups(ctx context.Context, batch *options.CollectionBatch, snap *options.AggregateSnapshot, rows []options.ContractAnalytics) error {
	var errs errors.MultiError

	strikes := aggregate.ByStrike(snap.BatchID, snap.Asset, rows)
	strikes = append(strikes, aggregate.Cumulative(snap.BatchID, snap.Asset, rows)...)
	errs.Add(e.analytics.ReplaceStrikeAggregates(ctx, snap.Asset, strikes))
	errs.Add(e.analytics.ReplaceExpiryAggregates(ctx, snap.Asset, aggregate.ByExpiry(snap.BatchID, snap.Asset, rows)))
	errs.Add(e.analytics.ReplaceVolatilitySurface(ctx, snap.Asset, aggregate.Surface(snap.BatchID, snap.Asset, rows)))

	exposures := aggregate.Exposures(batch, rows, e.contractSize(snap.Asset))
	errs.Add(e.analytics.SaveContractExposures(ctx, snap.Asset, snap.BatchID, exposures))

	return errs.ToError()
}
