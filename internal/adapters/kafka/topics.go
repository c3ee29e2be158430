package kafka

// Topic definitions for Kafka event streaming
const (
	// Collection side: one message per stored batch, keyed by asset
	TopicBatchCollected = "options.batches.collected"

	// Aggregate lifecycle
	TopicAggregateReady    = "options.aggregates.ready"
	TopicAggregateEnriched = "options.aggregates.enriched"
)
