package events

import (
	"time"

	"github.com/google/uuid"

	"optionsmetrics/internal/domain/options"
)

// Event types carried in BaseEvent.Type
const (
	TypeAggregateReady    = "aggregate.ready"
	TypeAggregateEnriched = "aggregate.enriched"
	TypeBatchCollected    = "batch.collected"
)

const eventVersion = "1.0"

// BaseEvent is the envelope shared by every event
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
}

// NewBaseEvent creates a new base event with defaults
func NewBaseEvent(eventType, source string) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Version:   eventVersion,
	}
}

// AggregateEvent announces one aggregate snapshot. Enrichment fields are nil on ready events.
type AggregateEvent struct {
	Base           BaseEvent `json:"base"`
	Asset          string    `json:"asset"`
	BatchID        string    `json:"batch_id"`
	CollectionDate string    `json:"collection_date"`
	CollectionTime string    `json:"collection_time"`
	Spot           float64   `json:"spot"`
	Contracts      int       `json:"contracts"`
	SumOI          float64   `json:"sum_oi"`
	PutCallOIRatio float64   `json:"put_call_oi_ratio"`
	AvgIV          float64   `json:"avg_iv"`
	WeightedIV     float64   `json:"weighted_iv"`

	IVR       *float64 `json:"ivr,omitempty"`
	IVP       *float64 `json:"ivp,omitempty"`
	IVZScore  *float64 `json:"iv_z_score,omitempty"`
	SellScore *float64 `json:"sell_score,omitempty"`
	BuyScore  *float64 `json:"buy_score,omitempty"`
	MaxPain   *float64 `json:"max_pain,omitempty"`
}

// BatchCollectedEvent is published by the collector after a batch is stored
type BatchCollectedEvent struct {
	Base    BaseEvent `json:"base"`
	Asset   string    `json:"asset"`
	BatchID string    `json:"batch_id"`
}

func newAggregateEvent(eventType string, snap *options.AggregateSnapshot) AggregateEvent {
	return AggregateEvent{
		Base:           NewBaseEvent(eventType, "options_engine"),
		Asset:          snap.Asset,
		BatchID:        snap.BatchID,
		CollectionDate: snap.CollectionDate,
		CollectionTime: snap.CollectionTime,
		Spot:           snap.Spot,
		Contracts:      snap.NTotal,
		SumOI:          snap.SumOI,
		PutCallOIRatio: snap.PutCallOIRatio,
		AvgIV:          snap.AvgIV,
		WeightedIV:     snap.WeightedIV,
		IVR:            snap.IVR,
		IVP:            snap.IVP,
		IVZScore:       snap.IVZScore,
		SellScore:      snap.SellScore,
		BuyScore:       snap.BuyScore,
		MaxPain:        snap.MaxPain,
	}
}
