package dev

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsmetrics/internal/analytics/symbol"
	"optionsmetrics/internal/domain/options"
)

type memoryWriter struct {
	batches []*options.CollectionBatch
}

func (m *memoryWriter) SaveBatch(_ context.Context, b *options.CollectionBatch) error {
	m.batches = append(m.batches, b)
	return nil
}

func TestGenerator_SymbolsParse(t *testing.T) {
	at := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	batch := NewGenerator(DefaultChain("btc"), 1).Next(at)

	assert.Equal(t, "BTC", batch.Asset)
	assert.Equal(t, "2025-03-01", batch.CollectionDate)
	assert.Equal(t, "08:00:00", batch.CollectionTime)
	require.Len(t, batch.Contracts, 4*13*2)

	for _, c := range batch.Contracts {
		id := symbol.Parse(c.Symbol)
		require.NotNil(t, id.Strike, c.Symbol)
		require.NotNil(t, id.Expiry, c.Symbol)
		assert.True(t, id.Type.Valid(), c.Symbol)
		assert.True(t, id.Expiry.After(at.Add(-24*time.Hour)), c.Symbol)
		assert.Greater(t, c.MarkIV, 0.0)
		assert.GreaterOrEqual(t, c.AskPrice, c.BidPrice)
		assert.Equal(t, batch.ID, c.BatchID)
	}
}

func TestGenerator_Deterministic(t *testing.T) {
	at := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	a := NewGenerator(DefaultChain("ETH"), 42).Next(at)
	b := NewGenerator(DefaultChain("ETH"), 42).Next(at)
	assert.Equal(t, a.SpotPrice, b.SpotPrice)
	assert.Equal(t, a.Contracts[0].MarkIV, b.Contracts[0].MarkIV)
}

func TestNiceStep(t *testing.T) {
	assert.Equal(t, 5000.0, niceStep(5000))
	assert.Equal(t, 200.0, niceStep(175))
	assert.InDelta(t, 0.01, niceStep(0.012), 1e-12)
	assert.Equal(t, 1.0, niceStep(0))
}

func TestSeedHistory(t *testing.T) {
	w := &memoryWriter{}
	end := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	var seen int
	err := SeedHistory(context.Background(), w, DefaultChain("SOL"), 7, 3, 5*time.Minute, end, func(*options.CollectionBatch) error {
		seen++
		return nil
	})
	require.NoError(t, err)
	require.Len(t, w.batches, 3)
	assert.Equal(t, 3, seen)
	assert.Equal(t, "07:50:00", w.batches[0].CollectionTime)
	assert.Equal(t, "08:00:00", w.batches[2].CollectionTime)
}
