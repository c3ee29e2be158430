package options

import (
	"context"
)

// MarketRepository reads raw collection batches from the per-asset market store.
// SaveBatch is the write side used by the acquisition client.
type MarketRepository interface {
	SaveBatch(ctx context.Context, batch *CollectionBatch) error
	LatestBatch(ctx context.Context, asset string) (*CollectionBatch, error)
}

// AnalyticsRepository owns the per-asset analytics store
type AnalyticsRepository interface {
	// Per-contract analytics
	SaveContractAnalytics(ctx context.Context, asset string, rows []ContractAnalytics) error
	GetContractAnalytics(ctx context.Context, asset, batchID string) ([]ContractAnalytics, error)

	// Aggregate snapshots; InsertAggregate reports false when the key already existed
	AggregateExists(ctx context.Context, asset, date, clock string) (bool, error)
	InsertAggregate(ctx context.Context, snap *AggregateSnapshot) (bool, error)
	UpdateAggregateEnrichment(ctx context.Context, asset, batchID string, e AggregateEnrichment) error
	GetAggregate(ctx context.Context, asset, batchID string) (*AggregateSnapshot, error)
	GetAggregatesBetween(ctx context.Context, asset, fromDate, toDate string) ([]AggregateSnapshot, error)

	// VolatilityHistory returns observations collected before the query batch, most recent first
	VolatilityHistory(ctx context.Context, q HistoryQuery) ([]VolatilityObservation, error)

	// Roll-ups are replaced wholesale per asset
	ReplaceStrikeAggregates(ctx context.Context, asset string, rows []StrikeAggregate) error
	ReplaceExpiryAggregates(ctx context.Context, asset string, rows []ExpiryAggregate) error
	ReplaceVolatilitySurface(ctx context.Context, asset string, rows []VolatilityPoint) error
	GetStrikeAggregates(ctx context.Context, asset, date string) ([]StrikeAggregate, error)
	GetStrikeHistory(ctx context.Context, asset string, strike float64) ([]StrikeAggregate, error)
	GetExpiryAggregates(ctx context.Context, asset string) ([]ExpiryAggregate, error)

	// Contract exposure audit; rows of a batch are replaced on rerun
	SaveContractExposures(ctx context.Context, asset, batchID string, rows []ContractExposure) error
}

// HistoryQuery selects the percentile reference window of one batch.
// Only rows with a positive average IV collected strictly before BeforeBatchID qualify.
type HistoryQuery struct {
	Asset         string
	BeforeBatchID string
	Limit         int
	// RequireRealized keeps only rows with both realized and historical volatility
	RequireRealized bool
}

// AggregateExporter ships enriched aggregates to an external sink
type AggregateExporter interface {
	Export(ctx context.Context, snap *AggregateSnapshot) error
}

// EventPublisher announces aggregate lifecycle transitions
type EventPublisher interface {
	AggregateReady(ctx context.Context, snap *AggregateSnapshot) error
	AggregateEnriched(ctx context.Context, snap *AggregateSnapshot) error
}
