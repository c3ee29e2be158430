package events

import (
	"context"

	"optionsmetrics/internal/adapters/kafka"
	"optionsmetrics/internal/domain/options"
	"optionsmetrics/pkg/errors"
	"optionsmetrics/pkg/logger"
)

// Compile-time checks
var (
	_ options.EventPublisher = (*Publisher)(nil)
	_ options.EventPublisher = NoopPublisher{}
)

// Sender is the transport the publisher writes to; *kafka.Producer satisfies it
type Sender interface {
	Publish(ctx context.Context, topic string, key string, event interface{}) error
}

// Publisher publishes aggregate lifecycle events to Kafka, keyed by asset
type Publisher struct {
	sender Sender
	log    *logger.Logger
}

// NewPublisher creates a new event publisher
func NewPublisher(sender Sender, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.Get()
	}
	return &Publisher{
		sender: sender,
		log:    log.With("component", "event_publisher"),
	}
}

// AggregateReady announces a freshly inserted, not yet enriched aggregate
func (p *Publisher) AggregateReady(ctx context.Context, snap *options.AggregateSnapshot) error {
	event := newAggregateEvent(TypeAggregateReady, snap)
	event.IVR, event.IVP, event.IVZScore = nil, nil, nil
	event.SellScore, event.BuyScore, event.MaxPain = nil, nil, nil
	return p.publish(ctx, kafka.TopicAggregateReady, snap.Asset, event)
}

// AggregateEnriched announces the enrichment result of an aggregate
func (p *Publisher) AggregateEnriched(ctx context.Context, snap *options.AggregateSnapshot) error {
	return p.publish(ctx, kafka.TopicAggregateEnriched, snap.Asset, newAggregateEvent(TypeAggregateEnriched, snap))
}

func (p *Publisher) publish(ctx context.Context, topic, key string, event interface{}) error {
	if err := p.sender.Publish(ctx, topic, key, event); err != nil {
		p.log.Error("failed to publish event", "topic", topic, "key", key, "error", err)
		return errors.Wrap(err, "send to kafka")
	}

	p.log.Debug("event published", "topic", topic, "key", key)
	return nil
}

// NoopPublisher drops every event; used when Kafka is disabled
type NoopPublisher struct{}

func (NoopPublisher) AggregateReady(context.Context, *options.AggregateSnapshot) error    { return nil }
func (NoopPublisher) AggregateEnriched(context.Context, *options.AggregateSnapshot) error { return nil }
