package percentile

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsmetrics/internal/domain/options"
	"optionsmetrics/pkg/logger"
)

func TestOfScore(t *testing.T) {
	hist := []float64{1, 2, 2, 3}

	assert.Equal(t, 0.0, OfScore(hist, 0))
	assert.Equal(t, 0.125, OfScore(hist, 1))
	assert.Equal(t, 0.5, OfScore(hist, 2))
	assert.Equal(t, 1.0, OfScore(hist, 10))
	assert.Equal(t, 0.5, OfScore(nil, 3))
}

func TestRolling(t *testing.T) {
	got := Rolling([]float64{1, 2, 3, 1}, 3)
	require.Len(t, got, 4)
	assert.True(t, math.IsNaN(got[0]))
	assert.True(t, math.IsNaN(got[1]))
	assert.InDelta(t, 5.0/6, got[2], 1e-12)
	assert.InDelta(t, 1.0/6, got[3], 1e-12)
}

func TestIVR_FlatWindow(t *testing.T) {
	hist := make([]float64, 20)
	for i := range hist {
		hist[i] = 60
	}

	res := IVR(60, hist)
	require.False(t, res.Insufficient)
	assert.Equal(t, 50.0, res.IVR)
	assert.Equal(t, 0.0, res.ZScore)
	assert.Equal(t, 50.0, res.IVP)
	assert.Equal(t, 20, res.Count)
	assert.Equal(t, 60.0, res.Min)
	assert.Equal(t, 60.0, res.Max)
}

func TestIVR_Insufficient(t *testing.T) {
	res := IVR(50, []float64{40, 45, 0, 55, 60, 61, 62, 63, 64, -1})
	assert.True(t, res.Insufficient)
	assert.Equal(t, 8, res.Count)
	assert.Zero(t, res.IVR)

	var e options.AggregateEnrichment
	res.Apply(&e)
	require.NotNil(t, e.IVDataPoints)
	assert.Equal(t, 8, *e.IVDataPoints)
	assert.Nil(t, e.IVR)
}

func TestIVR_Values(t *testing.T) {
	hist := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

	res := IVR(55, hist)
	assert.InDelta(t, 50, res.IVR, 1e-9)
	assert.InDelta(t, 50, res.IVP, 1e-9)
	assert.InDelta(t, 55, res.Mean, 1e-9)
	assert.InDelta(t, 0, res.ZScore, 1e-9)

	res = IVR(130, hist)
	assert.Equal(t, 100.0, res.IVR, "rank is clamped to the window range")
	assert.Equal(t, 100.0, res.IVP)
	assert.Greater(t, res.ZScore, 0.0)
}

func TestIVR_WindowIsMostRecent(t *testing.T) {
	hist := make([]float64, 0, IVRWindow+50)
	for i := 0; i < IVRWindow; i++ {
		hist = append(hist, 50)
	}
	for i := 0; i < 50; i++ {
		hist = append(hist, 1000) // older than the window
	}

	res := IVR(50, hist)
	assert.Equal(t, IVRWindow, res.Count)
	assert.Equal(t, 50.0, res.Max)
}

func TestEnhanced_NeutralDefault(t *testing.T) {
	res := Enhanced(EnhancedInput{IV: 60, RV: 50, HV: 55, IVHistory: []float64{60}, RVHistory: []float64{50, 51}, HVHistory: []float64{55, 56}})
	assert.True(t, res.Neutral)
	assert.Equal(t, NeutralEnhanced(), res)
	assertWeights(t, res)
}

func TestEnhanced_GapAndScale(t *testing.T) {
	res := Enhanced(EnhancedInput{
		IV: 0.80, RV: 0.40, HV: 0.50,
		IVHistory: []float64{50, 60, 70},
		RVHistory: []float64{0.3, 0.5},
		HVHistory: []float64{45, 55},
	})
	require.False(t, res.Neutral)

	// 0.80 and 0.50 are read as 80% and 50%
	assert.InDelta(t, 60, res.Gap, 1e-9)
	assert.Equal(t, 1.0, res.IVPct)
	assert.Equal(t, 0.5, res.RVPct)
	assert.Equal(t, 0.5, res.HVPct)
	assert.InDelta(t, 0.8, res.WIVSell, 1e-9, "large positive gap saturates the sell IV weight")
	assert.InDelta(t, 0.1, res.WIVBuy, 1e-9)
	assertWeights(t, res)
}

func TestAsPercent_Boundary(t *testing.T) {
	assert.Zero(t, asPercent(0))
	assert.InDelta(t, 65, asPercent(0.65), 1e-9)
	assert.InDelta(t, 499.9, asPercent(4.999), 1e-9, "just below the boundary is a fraction")
	assert.Equal(t, 5.0, asPercent(5), "the boundary itself is already percent")
	assert.Equal(t, 80.0, asPercent(80))

	// a 520% fractional proxy is not rescaled and ranks as 5.2%
	res := Enhanced(EnhancedInput{
		IV: 60, RV: 5.2, HV: 50,
		IVHistory: []float64{50, 70},
		RVHistory: []float64{0.3, 0.5},
		HVHistory: []float64{45, 55},
	})
	require.False(t, res.Neutral)
	assert.Zero(t, res.RVPct)
}

func TestEnhanced_BoundsProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	series := func(n int) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = rng.Float64() * 150
		}
		return out
	}

	for i := 0; i < 500; i++ {
		n := 2 + rng.Intn(300)
		in := EnhancedInput{
			IV: rng.Float64() * 200, RV: rng.Float64() * 200, HV: rng.Float64() * 200,
			IVHistory: series(n), RVHistory: series(n), HVHistory: series(n),
		}
		if i%50 == 0 {
			in.HV = 0
		}
		res := Enhanced(in)

		for _, v := range []float64{res.IVPct, res.RVPct, res.HVPct, res.SellScore, res.BuyScore} {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
		assert.GreaterOrEqual(t, res.WIVSell, 0.1)
		assert.LessOrEqual(t, res.WIVSell, 0.8)
		assert.GreaterOrEqual(t, res.WIVBuy, 0.05)
		assert.LessOrEqual(t, res.WIVBuy, 0.6)
		assertWeights(t, res)
	}
}

func TestIVR_BoundsProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 200; i++ {
		hist := make([]float64, 10+rng.Intn(400))
		for j := range hist {
			hist[j] = 1 + rng.Float64()*120
		}
		res := IVR(rng.Float64()*200, hist)
		assert.GreaterOrEqual(t, res.IVR, 0.0)
		assert.LessOrEqual(t, res.IVR, 100.0)
		assert.GreaterOrEqual(t, res.IVP, 0.0)
		assert.LessOrEqual(t, res.IVP, 100.0)
	}
}

func assertWeights(t *testing.T, r EnhancedResult) {
	t.Helper()
	assert.InDelta(t, 1, r.WIVSell+r.WRVSell+r.WHVSell, 1e-6)
	assert.InDelta(t, 1, r.WIVBuy+r.WRVBuy+r.WHVBuy, 1e-6)
}

func TestKey_Rounding(t *testing.T) {
	a := Key([]string{"ivr", "BTC", "b1"}, 55.123449)
	b := Key([]string{"ivr", "BTC", "b1"}, 55.12341)
	c := Key([]string{"ivr", "BTC", "b1"}, 55.1236)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "ivr|BTC|b1|55.1234", a)
}

func TestCache_Bounded(t *testing.T) {
	c, err := NewCache[int](2)
	require.NoError(t, err)

	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("c", 3)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok, "least recently used entry evicted")
	v, ok := c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
}

type fakeHistory struct {
	mu      sync.Mutex
	calls   int
	obs     []options.VolatilityObservation
	queries []options.HistoryQuery
}

func (f *fakeHistory) VolatilityHistory(_ context.Context, q options.HistoryQuery) ([]options.VolatilityObservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.queries = append(f.queries, q)

	var out []options.VolatilityObservation
	for _, o := range f.obs {
		if q.RequireRealized && (o.RealizedVolatility == nil || o.HistoricalVolatility == nil) {
			continue
		}
		out = append(out, o)
		if len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func vol(v float64) *float64 { return &v }

func TestRanker_MemoizesPerBatch(t *testing.T) {
	hist := &fakeHistory{}
	for i := 0; i < 30; i++ {
		hist.obs = append(hist.obs, options.VolatilityObservation{
			AvgIV:                40 + float64(i),
			RealizedVolatility:   vol(30 + float64(i%5)),
			HistoricalVolatility: vol(35 + float64(i%3)),
		})
	}

	r, err := NewRanker(hist, 16, logger.Nop())
	require.NoError(t, err)

	snap := &options.AggregateSnapshot{
		Asset: "BTC", BatchID: "b-9", AvgIV: 55,
		RealizedVolatility: vol(32), HistoricalVolatility: vol(36),
	}

	first, err := r.RankIVR(context.Background(), snap)
	require.NoError(t, err)
	again, err := r.RankIVR(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, hist.calls)
	assert.Equal(t, "b-9", hist.queries[0].BeforeBatchID)
	assert.Equal(t, IVRWindow, hist.queries[0].Limit)

	enh, err := r.RankEnhanced(context.Background(), snap)
	require.NoError(t, err)
	assert.False(t, enh.Neutral)
	_, err = r.RankEnhanced(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, 2, hist.calls)
	assert.True(t, hist.queries[1].RequireRealized)

	var e options.AggregateEnrichment
	first.Apply(&e)
	enh.Apply(&e)
	require.NotNil(t, e.IVR)
	require.NotNil(t, e.SellScore)
	assert.InDelta(t, first.IVR, *e.IVR, 1e-12)
}

func TestRanker_MissingInputs(t *testing.T) {
	hist := &fakeHistory{}
	r, err := NewRanker(hist, 4, logger.Nop())
	require.NoError(t, err)

	res, err := r.RankIVR(context.Background(), &options.AggregateSnapshot{Asset: "ETH", BatchID: "b"})
	require.NoError(t, err)
	assert.True(t, res.Insufficient)

	enh, err := r.RankEnhanced(context.Background(), &options.AggregateSnapshot{Asset: "ETH", BatchID: "b", AvgIV: 50})
	require.NoError(t, err)
	assert.True(t, enh.Neutral)
	assert.Zero(t, hist.calls)
}
