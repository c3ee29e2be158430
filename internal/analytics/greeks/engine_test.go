package greeks

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsmetrics/internal/domain/options"
	"optionsmetrics/pkg/errors"
	"optionsmetrics/pkg/logger"
)

func testBatch() *options.CollectionBatch {
	return &options.CollectionBatch{
		ID:             "batch-1",
		Asset:          "BTC",
		CollectionDate: "2025-01-01",
		CollectionTime: "08:00:00",
		SpotPrice:      100000,
	}
}

func quote(sym string) options.ContractSnapshot {
	return options.ContractSnapshot{
		Symbol:          sym,
		UnderlyingPrice: 100000,
		MarkPrice:       9000,
		MarkIV:          0.6,
		BidPrice:        8900,
		AskPrice:        9100,
		BidSize:         2,
		AskSize:         3,
		OpenInterest:    40,
		Volume24h:       10,
	}
}

func TestCompute_SparseSnapshotIsSkipped(t *testing.T) {
	e := NewEngine(0.02, 0, logger.Nop())

	a, err := e.Compute(testBatch(), options.ContractSnapshot{Symbol: "BTC-31DEC25-100000-C", MarkPrice: 10})
	assert.Nil(t, a)
	assert.ErrorIs(t, err, errors.ErrSparseContract)
}

func TestCompute_KnownATMValues(t *testing.T) {
	e := NewEngine(0, 0, logger.Nop())
	batch := testBatch()
	batch.SpotPrice = 100

	snap := options.ContractSnapshot{
		Symbol:          "X-1JAN26-100-C",
		UnderlyingPrice: 100,
		MarkPrice:       8,
		MarkIV:          0.2,
		LastPrice:       8,
	}

	call, err := e.Compute(batch, snap)
	require.NoError(t, err)
	require.NotNil(t, call.DTE)
	assert.Equal(t, 365, *call.DTE)
	assert.InDelta(t, 1.0, call.T, 1e-12)
	assert.InDelta(t, 7.9656, call.TheoreticalPrice, 1e-3)
	assert.InDelta(t, 0.5398, call.Delta, 1e-3)
	assert.Equal(t, CategoryATM, call.MoneynessCategory)

	snap.Symbol = "X-1JAN26-100-P"
	put, err := e.Compute(batch, snap)
	require.NoError(t, err)
	assert.InDelta(t, call.TheoreticalPrice, put.TheoreticalPrice, 1e-9, "ATM call and put match when r = q = 0")
	assert.InDelta(t, call.Delta-1, put.Delta, 1e-12)
	assert.InDelta(t, call.Gamma, put.Gamma, 1e-15)
	assert.InDelta(t, call.Vega, put.Vega, 1e-9)
}

func TestCompute_PutCallParity(t *testing.T) {
	const r, q = 0.05, 0.01
	e := NewEngine(r, q, logger.Nop())
	batch := testBatch()

	for _, strike := range []string{"80000", "100000", "125000"} {
		call, err := e.Compute(batch, quote("BTC-31DEC25-"+strike+"-C"))
		require.NoError(t, err)
		put, err := e.Compute(batch, quote("BTC-31DEC25-"+strike+"-P"))
		require.NoError(t, err)

		K := call.StrikeValue()
		want := call.Spot*math.Exp(-q*call.T) - K*math.Exp(-r*call.T)
		assert.InDelta(t, want, call.TheoreticalPrice-put.TheoreticalPrice, 1e-6, "strike %s", strike)

		assert.Greater(t, call.Delta, 0.0)
		assert.Less(t, call.Delta, 1.0)
		assert.Greater(t, put.Delta, -1.0)
		assert.Less(t, put.Delta, 0.0)
		assert.Greater(t, call.Gamma, 0.0)
		assert.InDelta(t, 1.0, call.ProbITM+call.ProbOTM, 1e-12)
		// ProbITM is type-aware: N(d2) for calls and N(−d2) for puts, so the
		// two sides of one strike add up to 1. A put does not reuse N(d2).
		assert.InDelta(t, normCDF(call.StandardizedMoneyness), call.ProbITM, 1e-12)
		assert.InDelta(t, normCDF(-put.StandardizedMoneyness), put.ProbITM, 1e-12)
		assert.InDelta(t, 1.0, call.ProbITM+put.ProbITM, 1e-12)
	}
}

func TestCompute_QuoteTripleIsConsistent(t *testing.T) {
	e := NewEngine(0.02, 0, logger.Nop())
	batch := testBatch()

	tests := []struct {
		name     string
		mutate   func(*options.ContractSnapshot)
		wantMid  bool
		checkMid func(t *testing.T, a *options.ContractAnalytics)
	}{
		{
			name:    "two sided quote",
			wantMid: true,
			checkMid: func(t *testing.T, a *options.ContractAnalytics) {
				assert.InDelta(t, 9000, *a.Mid, 1e-9)
			},
		},
		{
			name: "missing ask falls back to mark",
			mutate: func(s *options.ContractSnapshot) {
				s.AskPrice = 0
			},
			wantMid: true,
			checkMid: func(t *testing.T, a *options.ContractAnalytics) {
				assert.InDelta(t, 9000, *a.Ask, 1e-9)
				assert.InDelta(t, 8950, *a.Mid, 1e-9)
			},
		},
		{
			name: "no quotes and no mark uses theoretical price",
			mutate: func(s *options.ContractSnapshot) {
				s.BidPrice, s.AskPrice, s.MarkPrice = 0, 0, 0
				s.LastPrice = 1
			},
			wantMid: true,
			checkMid: func(t *testing.T, a *options.ContractAnalytics) {
				assert.Equal(t, *a.Mid, *a.Bid)
				assert.Equal(t, *a.Mid, *a.Ask)
				assert.InDelta(t, a.TheoreticalPrice, *a.Mid, 1e-9)
			},
		},
		{
			name: "nothing to reconcile",
			mutate: func(s *options.ContractSnapshot) {
				s.Symbol = "BTC-PERPETUAL"
				s.BidPrice, s.AskPrice, s.MarkPrice = 0, 0, 0
				s.LastPrice = 1
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := quote("BTC-31DEC25-100000-C")
			if tt.mutate != nil {
				tt.mutate(&snap)
			}
			a, err := e.Compute(batch, snap)
			require.NoError(t, err)

			if a.Mid != nil {
				assert.NotNil(t, a.Bid)
				assert.NotNil(t, a.Ask)
			}
			if !tt.wantMid {
				assert.Nil(t, a.Mid)
				return
			}
			require.NotNil(t, a.Mid)
			tt.checkMid(t, a)
		})
	}
}

func TestCompute_UnparseableSymbolDegrades(t *testing.T) {
	e := NewEngine(0.02, 0, logger.Nop())
	batch := testBatch()
	batch.Instruments = map[string]options.Instrument{
		"WEIRD": {Symbol: "WEIRD", DeliveryTime: "2025-07-02T08:00:00Z"},
	}

	snap := options.ContractSnapshot{
		Symbol:          "WEIRD",
		UnderlyingPrice: 100000,
		MarkIV:          0.5,
		LastPrice:       1,
	}
	a, err := e.Compute(batch, snap)
	require.NoError(t, err)

	assert.Nil(t, a.Strike)
	assert.Equal(t, options.Unknown, a.OptionType)
	require.NotNil(t, a.ExpiryDate, "expiry resolved from instrument metadata")
	assert.Equal(t, "2025-07-02", *a.ExpiryDate)

	assert.Zero(t, a.Moneyness)
	assert.Zero(t, a.IntrinsicValue)
	assert.Zero(t, a.ProbITM)
	assert.Zero(t, a.Breakeven)
	assert.Zero(t, a.PINRisk)
	assert.Equal(t, CategoryUnknown, a.MoneynessCategory)

	assert.Greater(t, a.Vega, 0.0, "vega depends on spot and volatility only")
	assert.Less(t, a.Theta, 0.0)
}

func TestCompute_ExplicitFieldsOverrideSymbol(t *testing.T) {
	e := NewEngine(0.02, 0, logger.Nop())

	snap := quote("OPAQUE-ID-7")
	snap.Strike = 90000
	snap.Expiry = "2025-03-28"
	snap.Type = options.Put

	a, err := e.Compute(testBatch(), snap)
	require.NoError(t, err)
	assert.Equal(t, 90000.0, a.StrikeValue())
	assert.Equal(t, 86, a.DaysToExpiry())
	assert.Equal(t, options.Put, a.OptionType)
	assert.Equal(t, CategoryDeepITMCall, a.MoneynessCategory)
}

func TestCompute_ExpiredContractHasNoTime(t *testing.T) {
	e := NewEngine(0.02, 0, logger.Nop())

	a, err := e.Compute(testBatch(), quote("BTC-27DEC24-100000-C"))
	require.NoError(t, err)
	assert.Equal(t, -5, a.DaysToExpiry())
	assert.Zero(t, a.T)
	assert.Zero(t, a.Gamma)
	assert.Zero(t, a.Vega)
	assert.Zero(t, a.PINRisk)
}

func TestComputeBatch_SkipsSparse(t *testing.T) {
	e := NewEngine(0.02, 0, logger.Nop())
	batch := testBatch()
	batch.Contracts = []options.ContractSnapshot{
		quote("BTC-31DEC25-100000-C"),
		{Symbol: "BTC-31DEC25-110000-C"},
		quote("BTC-31DEC25-90000-P"),
	}

	rows, skipped := e.ComputeBatch(batch)
	assert.Len(t, rows, 2)
	assert.Equal(t, 1, skipped)
	for _, r := range rows {
		assert.Equal(t, "batch-1", r.BatchID)
		assert.Equal(t, "BTC", r.Asset)
	}
}

func TestSigma(t *testing.T) {
	tests := []struct {
		name               string
		mark, bidIV, askIV float64
		want               float64
	}{
		{"mark iv", 0.5, 0.4, 0.6, 0.5},
		{"average of legs", 0, 0.4, 0.6, 0.5},
		{"bid only", 0, 0.4, 0, 0.4},
		{"ask only", 0, 0, 0.6, 0.6},
		{"none", 0, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sigma(options.ContractSnapshot{MarkIV: tt.mark, BidIV: tt.bidIV, AskIV: tt.askIV})
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, CategoryDeepITMCall, Classify(1.2))
	assert.Equal(t, CategoryITMCall, Classify(1.03))
	assert.Equal(t, CategoryATM, Classify(1.0))
	assert.Equal(t, CategoryATM, Classify(0.95))
	assert.Equal(t, CategoryOTMCall, Classify(0.92))
	assert.Equal(t, CategoryDeepOTMCall, Classify(0.5))
	assert.Equal(t, CategoryUnknown, Classify(0))
}
