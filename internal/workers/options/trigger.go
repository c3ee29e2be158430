package options

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/segmentio/kafka-go"

	kafkaadapter "optionsmetrics/internal/adapters/kafka"
	"optionsmetrics/internal/events"
	"optionsmetrics/pkg/errors"
	"optionsmetrics/pkg/logger"
)

// MessageSource is the consuming side of the batch-collected topic
type MessageSource interface {
	Consume(ctx context.Context, handler kafkaadapter.MessageHandler) error
	Close() error
}

// BatchTrigger runs an asset cycle as soon as the collector announces a new
// batch, ahead of the next scheduled tick.
type BatchTrigger struct {
	source    MessageSource
	collector *MetricsCollector
	assets    map[string]bool
	log       *logger.Logger
}

// NewBatchTrigger creates a trigger for the configured assets
func NewBatchTrigger(source MessageSource, collector *MetricsCollector, assets []string, log *logger.Logger) *BatchTrigger {
	if log == nil {
		log = logger.Get()
	}
	known := make(map[string]bool, len(assets))
	for _, a := range assets {
		known[strings.ToUpper(a)] = true
	}
	return &BatchTrigger{
		source:    source,
		collector: collector,
		assets:    known,
		log:       log.With("component", "batch_trigger"),
	}
}

// Run consumes until ctx is cancelled
func (t *BatchTrigger) Run(ctx context.Context) error {
	err := t.source.Consume(ctx, t.HandleMessage)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the consumer
func (t *BatchTrigger) Close() error {
	return t.source.Close()
}

// HandleMessage processes one batch-collected event. Unknown assets and
// malformed payloads are dropped.
func (t *BatchTrigger) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var event events.BatchCollectedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		t.log.Warn("dropping malformed batch event", "key", string(msg.Key), "error", err)
		return nil
	}

	asset := strings.ToUpper(event.Asset)
	if !t.assets[asset] {
		t.log.Debug("ignoring batch of unconfigured asset", "asset", asset)
		return nil
	}

	res := t.collector.ProcessAsset(ctx, asset)
	t.log.Info("triggered asset cycle",
		"asset", asset,
		"batch_id", event.BatchID,
		"status", res.Status,
		"contracts", res.Contracts,
		"duration", res.Duration,
	)
	return res.Err
}
