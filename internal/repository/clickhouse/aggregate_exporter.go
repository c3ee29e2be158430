package clickhouse

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	chadapter "optionsmetrics/internal/adapters/clickhouse"
	"optionsmetrics/internal/domain/options"
	"optionsmetrics/internal/metrics"
	chbatch "optionsmetrics/pkg/clickhouse"
	"optionsmetrics/pkg/errors"
	"optionsmetrics/pkg/logger"
)

// Compile-time check
var _ options.AggregateExporter = (*AggregateExporter)(nil)

const aggregatesDDL = `
CREATE TABLE IF NOT EXISTS options_aggregates (
	asset                 LowCardinality(String),
	batch_id              String,
	collected_at          DateTime,
	spot                  Float64,
	n_total               UInt32,
	sum_oi                Float64,
	total_notional_oi     Float64,
	put_call_oi_ratio     Float64,
	put_call_volume_ratio Float64,
	sum_delta_oi          Float64,
	sum_gamma_oi          Float64,
	sum_vega_oi           Float64,
	sum_theta_oi          Float64,
	weighted_iv           Float64,
	avg_iv                Float64,
	iv_skew               Float64,
	realized_volatility   Nullable(Float64),
	historical_volatility Nullable(Float64),
	ivr                   Nullable(Float64),
	ivp                   Nullable(Float64),
	iv_z_score            Nullable(Float64),
	sell_score            Nullable(Float64),
	buy_score             Nullable(Float64),
	max_pain              Nullable(Float64)
) ENGINE = ReplacingMergeTree()
ORDER BY (asset, collected_at, batch_id)
`

const insertAggregates = `
	INSERT INTO options_aggregates (
		asset, batch_id, collected_at, spot, n_total,
		sum_oi, total_notional_oi, put_call_oi_ratio, put_call_volume_ratio,
		sum_delta_oi, sum_gamma_oi, sum_vega_oi, sum_theta_oi,
		weighted_iv, avg_iv, iv_skew, realized_volatility, historical_volatility,
		ivr, ivp, iv_z_score, sell_score, buy_score, max_pain
	)
`

// AggregateRow is the columnar projection of an enriched aggregate snapshot
type AggregateRow struct {
	Asset                string    `ch:"asset"`
	BatchID              string    `ch:"batch_id"`
	CollectedAt          time.Time `ch:"collected_at"`
	Spot                 float64   `ch:"spot"`
	NTotal               uint32    `ch:"n_total"`
	SumOI                float64   `ch:"sum_oi"`
	TotalNotionalOI      float64   `ch:"total_notional_oi"`
	PutCallOIRatio       float64   `ch:"put_call_oi_ratio"`
	PutCallVolumeRatio   float64   `ch:"put_call_volume_ratio"`
	SumDeltaOI           float64   `ch:"sum_delta_oi"`
	SumGammaOI           float64   `ch:"sum_gamma_oi"`
	SumVegaOI            float64   `ch:"sum_vega_oi"`
	SumThetaOI           float64   `ch:"sum_theta_oi"`
	WeightedIV           float64   `ch:"weighted_iv"`
	AvgIV                float64   `ch:"avg_iv"`
	IVSkew               float64   `ch:"iv_skew"`
	RealizedVolatility   *float64  `ch:"realized_volatility"`
	HistoricalVolatility *float64  `ch:"historical_volatility"`
	IVR                  *float64  `ch:"ivr"`
	IVP                  *float64  `ch:"ivp"`
	IVZScore             *float64  `ch:"iv_z_score"`
	SellScore            *float64  `ch:"sell_score"`
	BuyScore             *float64  `ch:"buy_score"`
	MaxPain              *float64  `ch:"max_pain"`
}

// ToRow projects snap; an unparseable collection clock maps to the zero time
func ToRow(snap *options.AggregateSnapshot) AggregateRow {
	collected, _ := time.Parse(options.DateTimeLayout, snap.CollectionDate+" "+snap.CollectionTime)
	n := snap.NTotal
	if n < 0 {
		n = 0
	}
	return AggregateRow{
		Asset:                snap.Asset,
		BatchID:              snap.BatchID,
		CollectedAt:          collected,
		Spot:                 snap.Spot,
		NTotal:               uint32(n),
		SumOI:                snap.SumOI,
		TotalNotionalOI:      snap.TotalNotionalOI,
		PutCallOIRatio:       snap.PutCallOIRatio,
		PutCallVolumeRatio:   snap.PutCallVolumeRatio,
		SumDeltaOI:           snap.SumDeltaOI,
		SumGammaOI:           snap.SumGammaOI,
		SumVegaOI:            snap.SumVegaOI,
		SumThetaOI:           snap.SumThetaOI,
		WeightedIV:           snap.WeightedIV,
		AvgIV:                snap.AvgIV,
		IVSkew:               snap.IVSkew,
		RealizedVolatility:   snap.RealizedVolatility,
		HistoricalVolatility: snap.HistoricalVolatility,
		IVR:                  snap.IVR,
		IVP:                  snap.IVP,
		IVZScore:             snap.IVZScore,
		SellScore:            snap.SellScore,
		BuyScore:             snap.BuyScore,
		MaxPain:              snap.MaxPain,
	}
}

// AggregateExporter buffers enriched aggregates and writes them to ClickHouse in batches
type AggregateExporter struct {
	conn   driver.Conn
	writer *chbatch.BatchWriter[AggregateRow]
	log    *logger.Logger
}

// NewAggregateExporter creates an exporter; call Start to enable periodic flushing
func NewAggregateExporter(conn driver.Conn, batchSize int, flushInterval time.Duration, log *logger.Logger) *AggregateExporter {
	if log == nil {
		log = logger.Get()
	}
	e := &AggregateExporter{conn: conn, log: log.With("component", "aggregate_exporter")}
	e.writer = chbatch.NewBatchWriter(chbatch.BatchWriterConfig[AggregateRow]{
		FlushFunc:    e.flush,
		TableName:    "options_aggregates",
		MaxBatchSize: batchSize,
		MaxAge:       flushInterval,
		Logger:       log,
	})
	return e
}

// EnsureSchema creates the target table when missing
func (e *AggregateExporter) EnsureSchema(ctx context.Context) error {
	return errors.Wrap(e.conn.Exec(ctx, aggregatesDDL), "create options_aggregates")
}

// Start begins periodic flushing
func (e *AggregateExporter) Start(ctx context.Context) {
	e.writer.Start(ctx)
}

// Stop flushes buffered rows
func (e *AggregateExporter) Stop(ctx context.Context) error {
	return e.writer.Stop(ctx)
}

// Export implements options.AggregateExporter
func (e *AggregateExporter) Export(ctx context.Context, snap *options.AggregateSnapshot) error {
	return e.writer.Add(ctx, ToRow(snap))
}

func (e *AggregateExporter) flush(ctx context.Context, rows []AggregateRow) error {
	err := chadapter.InsertStructs(ctx, e.conn, insertAggregates, rows)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ExportedRows.WithLabelValues("clickhouse", status).Add(float64(len(rows)))
	return errors.Wrap(err, "insert options aggregates")
}

// GetHistory returns exported rows of asset collected at or after since, newest first
func (e *AggregateExporter) GetHistory(ctx context.Context, asset string, since time.Time, limit int) ([]AggregateRow, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `
		SELECT
			asset, batch_id, collected_at, spot, n_total,
			sum_oi, total_notional_oi, put_call_oi_ratio, put_call_volume_ratio,
			sum_delta_oi, sum_gamma_oi, sum_vega_oi, sum_theta_oi,
			weighted_iv, avg_iv, iv_skew, realized_volatility, historical_volatility,
			ivr, ivp, iv_z_score, sell_score, buy_score, max_pain
		FROM options_aggregates FINAL
		WHERE asset = ? AND collected_at >= ?
		ORDER BY collected_at DESC
		LIMIT ?
	`

	var rows []AggregateRow
	if err := e.conn.Select(ctx, &rows, query, asset, since, limit); err != nil {
		return nil, errors.Wrap(err, "query options aggregates")
	}
	return rows, nil
}
