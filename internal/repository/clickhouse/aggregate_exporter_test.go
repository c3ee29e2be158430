package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chadapter "optionsmetrics/internal/adapters/clickhouse"
	"optionsmetrics/internal/domain/options"
	"optionsmetrics/internal/testsupport"
	"optionsmetrics/pkg/logger"
)

func snapshot(asset, batchID, clock string) *options.AggregateSnapshot {
	ivr := 37.5
	snap := &options.AggregateSnapshot{
		BatchID:        batchID,
		Asset:          asset,
		CollectionDate: "2025-01-01",
		CollectionTime: clock,
		Spot:           100000,
		NTotal:         24,
		SumOI:          1200,
		WeightedIV:     52.1,
		AvgIV:          51.4,
	}
	snap.IVR = &ivr
	return snap
}

func TestToRow(t *testing.T) {
	row := ToRow(snapshot("BTC", "b1", "08:05:00"))

	assert.Equal(t, "BTC", row.Asset)
	assert.Equal(t, time.Date(2025, 1, 1, 8, 5, 0, 0, time.UTC), row.CollectedAt)
	assert.EqualValues(t, 24, row.NTotal)
	require.NotNil(t, row.IVR)
	assert.Equal(t, 37.5, *row.IVR)
	assert.Nil(t, row.MaxPain)
}

func TestToRow_BadClock(t *testing.T) {
	snap := snapshot("BTC", "b1", "late")
	snap.NTotal = -1

	row := ToRow(snap)
	assert.True(t, row.CollectedAt.IsZero())
	assert.Zero(t, row.NTotal)
}

func TestAggregateExporter_Integration(t *testing.T) {
	cfg := testsupport.ClickHouseConfigFromEnv(t)
	ctx := context.Background()

	client, err := chadapter.NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	exporter := NewAggregateExporter(client.Conn(), 2, time.Hour, logger.Nop())
	require.NoError(t, exporter.EnsureSchema(ctx))

	asset := testsupport.UniqueName("T")
	require.NoError(t, exporter.Export(ctx, snapshot(asset, "b1", "08:00:00")))
	require.NoError(t, exporter.Export(ctx, snapshot(asset, "b2", "08:05:00")))
	require.NoError(t, exporter.Stop(ctx))

	rows, err := exporter.GetHistory(ctx, asset, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b2", rows[0].BatchID)
}
