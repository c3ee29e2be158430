package aggregate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsmetrics/internal/domain/options"
	"optionsmetrics/pkg/errors"
)

func ptr[T any](v T) *T { return &v }

func batch() *options.CollectionBatch {
	return &options.CollectionBatch{
		ID:             "b-1",
		Asset:          "ETH",
		CollectionDate: "2025-01-01",
		CollectionTime: "08:00:00",
		SpotPrice:      100,
	}
}

func row(typ options.OptionType, strike float64, expiry string, dte int, oi float64) options.ContractAnalytics {
	r := options.ContractAnalytics{
		Asset:        "ETH",
		Symbol:       "ETH-" + expiry + "-" + string(typ),
		Spot:         100,
		Strike:       ptr(strike),
		ExpiryDate:   ptr(expiry),
		DTE:          ptr(dte),
		OptionType:   typ,
		OpenInterest: oi,
		Sigma:        0.5,
		MarkPrice:    5,
		Gamma:        0.01,
		Delta:        0.5,
		Moneyness:    100 / strike,
	}
	if typ == options.Put {
		r.Delta = -0.5
		r.IntrinsicValue = math.Max(0, strike-100)
	} else {
		r.IntrinsicValue = math.Max(0, 100-strike)
	}
	r.TimeValue = r.MarkPrice - r.IntrinsicValue
	return r
}

func TestBuild_EmptyBatch(t *testing.T) {
	snap := Build(batch(), nil)

	require.NotNil(t, snap)
	assert.Equal(t, "b-1", snap.BatchID)
	assert.Equal(t, 100.0, snap.Spot)
	assert.Zero(t, snap.NTotal)
	assert.Zero(t, snap.SumOI)
	assert.Zero(t, snap.AvgIV)
	assert.Zero(t, snap.PutCallOIRatio)
	assert.Nil(t, snap.RealizedVolatility)
	assert.Nil(t, snap.HistoricalVolatility)
	assert.False(t, snap.Enriched())
}

func TestBuild_SumsAndBuckets(t *testing.T) {
	rows := []options.ContractAnalytics{
		row(options.Call, 90, "2025-01-05", 4, 10),   // ITM call, ≤7d
		row(options.Call, 101, "2025-01-20", 19, 20), // ATM call (1%), 8–30d
		row(options.Call, 120, "2025-03-01", 59, 30), // OTM call, 31–90d
		row(options.Put, 80, "2025-05-01", 120, 40),  // deep OTM put, 91–180d
		row(options.Put, 110, "2025-12-31", 364, 50), // ITM put, >180d
	}
	rows[1].Sigma = 0.7
	rows[4].Sigma = 0.3

	snap := Build(batch(), rows)

	assert.Equal(t, 5, snap.NTotal)
	assert.Equal(t, 3, snap.NCalls)
	assert.Equal(t, 2, snap.NPuts)
	assert.Equal(t, 150.0, snap.SumOI)
	assert.Equal(t, 60.0, snap.SumOICalls)
	assert.Equal(t, 90.0, snap.SumOIPuts)
	assert.InDelta(t, 1.5, snap.PutCallOIRatio, 1e-12)
	assert.InDelta(t, 15000.0, snap.TotalNotionalOI, 1e-9)

	assert.InDelta(t, 0.5*60-0.5*90, snap.SumDeltaOI, 1e-12)
	assert.InDelta(t, 0.01*150, snap.SumGammaOI, 1e-12)

	assert.Equal(t, 1, snap.NITMCalls)
	assert.Equal(t, 1, snap.NATMCalls)
	assert.Equal(t, 1, snap.NOTMCalls)
	assert.Equal(t, 1, snap.NITMPuts)
	assert.Equal(t, 1, snap.NOTMPuts)
	assert.Zero(t, snap.NATMPuts)
	assert.Equal(t, 20.0, snap.OIATMCalls)
	assert.Equal(t, 40.0, snap.OIDeepOTMPuts)
	assert.Equal(t, 30.0, snap.OIDeepOTMCalls, "moneyness 100/120 < 0.90")

	assert.Equal(t, []int{1, 1, 1, 1, 1}, []int{snap.NDTE7, snap.NDTE30, snap.NDTE90, snap.NDTE180, snap.NDTE180Plus})
	assert.Equal(t, 50.0, snap.OIDTE180Plus)
	assert.InDelta(t, (4*10+19*20+59*30+120*40+364*50)/150.0, snap.WeightedDTE, 1e-9)

	assert.InDelta(t, 50, snap.AvgIV, 1e-9)
	assert.InDelta(t, 50, snap.MedianIV, 1e-9)
	assert.InDelta(t, 30, snap.IVMin, 1e-9)
	assert.InDelta(t, 70, snap.IVMax, 1e-9)
	assert.InDelta(t, 40, snap.IVRange, 1e-9)
	assert.InDelta(t, (50+70+50)/3.0, snap.AvgIVCalls, 1e-9)
	assert.InDelta(t, 40, snap.AvgIVPuts, 1e-9)
	assert.InDelta(t, snap.AvgIVPuts-snap.AvgIVCalls, snap.IVSkew, 1e-12)
}

func TestMarkPriceVolatility(t *testing.T) {
	rv, hv := MarkPriceVolatility([]float64{5})
	assert.Nil(t, rv)
	assert.Nil(t, hv)

	// constant growth: zero dispersion
	rv, hv = MarkPriceVolatility([]float64{1, 2, 4, 8})
	require.NotNil(t, rv)
	require.NotNil(t, hv)
	assert.InDelta(t, 0, *rv, 1e-12)
	assert.InDelta(t, 0, *hv, 1e-12)

	// one return: HV falls back to RV
	rv, hv = MarkPriceVolatility([]float64{1, 2})
	require.NotNil(t, rv)
	assert.Equal(t, *rv, *hv)

	// alternating returns ±ln2: population std ln2
	rv, hv = MarkPriceVolatility([]float64{1, 2, 1, 2, 1})
	require.NotNil(t, rv)
	assert.InDelta(t, math.Ln2*math.Sqrt(365), *rv, 1e-9)
	assert.InDelta(t, *rv, *hv, 1e-9, "single window covers the series")

	// non-positive prices break the chain but do not fail
	rv, _ = MarkPriceVolatility([]float64{0, 0, 3})
	assert.Nil(t, rv)
}

func TestMaxPain(t *testing.T) {
	strikes := []StrikeOI{
		{Strike: 90},
		{Strike: 100, CallOI: 100, PutOI: 100},
		{Strike: 110},
	}
	got, err := MaxPain(strikes)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got)

	// calls pile up low: settlement pulled down
	got, err = MaxPain([]StrikeOI{
		{Strike: 90, CallOI: 500},
		{Strike: 100, PutOI: 10},
		{Strike: 110, PutOI: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, 90.0, got)
}

func TestMaxPain_Undefined(t *testing.T) {
	_, err := MaxPain([]StrikeOI{{Strike: 100, CallOI: 5}})
	assert.ErrorIs(t, err, errors.ErrUndefined)

	_, err = MaxPain([]StrikeOI{{Strike: 100}, {Strike: 110}})
	assert.ErrorIs(t, err, errors.ErrUndefined)

	_, err = MaxPain(nil)
	assert.ErrorIs(t, err, errors.ErrUndefined)
}

func TestOpenInterestByStrike(t *testing.T) {
	rows := []options.ContractAnalytics{
		row(options.Call, 100, "2025-01-05", 4, 10),
		row(options.Put, 100, "2025-02-05", 35, 7),
		row(options.Call, 100, "2025-02-05", 35, 3),
		row(options.Put, 90, "2025-01-05", 4, 0),
		{Symbol: "unparsed", OpenInterest: 99, OptionType: options.Call},
	}

	got := OpenInterestByStrike(rows)
	require.Len(t, got, 2)
	assert.Equal(t, StrikeOI{Strike: 90}, got[0])
	assert.Equal(t, StrikeOI{Strike: 100, CallOI: 13, PutOI: 7}, got[1])
}

func TestByStrike_GEXSign(t *testing.T) {
	rows := []options.ContractAnalytics{
		row(options.Call, 100, "2025-01-05", 4, 10),
		row(options.Put, 100, "2025-01-05", 4, 30),
		row(options.Call, 100, "2025-02-05", 35, 5),
	}

	got := ByStrike("b-1", "ETH", rows)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "2025-01-05", first.Date)
	assert.InDelta(t, 0.1, first.CallGEX, 1e-12)
	assert.InDelta(t, -0.3, first.PutGEX, 1e-12)
	assert.InDelta(t, -0.2, first.NetGEX, 1e-12)
	assert.InDelta(t, 5, first.CallDEX, 1e-12)
	assert.InDelta(t, -15, first.PutDEX, 1e-12)
	assert.Equal(t, 40.0, first.NetOI)

	cum := Cumulative("b-1", "ETH", rows)
	require.Len(t, cum, 1)
	assert.Equal(t, options.CumulativeDate, cum[0].Date)
	assert.Equal(t, 15.0, cum[0].CallOI)
	assert.Equal(t, 30.0, cum[0].PutOI)
}

func TestCumulative_SkipsExpired(t *testing.T) {
	rows := []options.ContractAnalytics{
		row(options.Call, 100, "2024-12-27", -5, 10),
		row(options.Call, 100, "2025-01-05", 4, 1),
	}
	cum := Cumulative("b-1", "ETH", rows)
	require.Len(t, cum, 1)
	assert.Equal(t, 1.0, cum[0].CallOI)
}

func TestByExpiry(t *testing.T) {
	rows := []options.ContractAnalytics{
		row(options.Call, 100, "2025-01-05", 4, 10),
		row(options.Put, 90, "2025-01-05", 4, 20),
		row(options.Call, 110, "2025-02-05", 35, 1),
	}

	got := ByExpiry("b-1", "ETH", rows)
	require.Len(t, got, 2)

	front := got[0]
	assert.Equal(t, "2025-01-05", front.ExpiryDate)
	assert.Equal(t, 4, front.DTE)
	assert.Equal(t, 2, front.ContractCount)
	assert.InDelta(t, 0.1, front.CallGamma, 1e-12)
	assert.InDelta(t, 0.2, front.PutGamma, 1e-12)
	assert.InDelta(t, 0.3, front.TotalGamma, 1e-12)
	assert.InDelta(t, -0.1, front.NetGEX, 1e-12)
}

func TestNetOI_IsTotalOpenInterest(t *testing.T) {
	rows := []options.ContractAnalytics{
		row(options.Call, 100, "2025-01-05", 4, 10),
		row(options.Put, 100, "2025-01-05", 4, 4),
	}

	strikes := ByStrike("b-1", "ETH", rows)
	require.Len(t, strikes, 1)
	assert.Equal(t, 10.0, strikes[0].CallOI)
	assert.Equal(t, 4.0, strikes[0].PutOI)
	assert.Equal(t, 14.0, strikes[0].NetOI)

	expiries := ByExpiry("b-1", "ETH", rows)
	require.Len(t, expiries, 1)
	assert.Equal(t, 14.0, expiries[0].NetOI)

	cum := Cumulative("b-1", "ETH", rows)
	require.Len(t, cum, 1)
	assert.Equal(t, 14.0, cum[0].NetOI)
}

func TestExposures(t *testing.T) {
	call := row(options.Call, 100, "2025-01-05", 4, 10)
	put := row(options.Put, 110, "2025-01-05", 4, 25)
	put.Spot, put.Gamma, put.Delta = 120, 0.004, -0.3

	got := Exposures(batch(), []options.ContractAnalytics{call, put}, 0.1)
	require.Len(t, got, 2)

	// 0.01 gamma × 10 OI × 0.1 size × 100² × 0.01
	assert.InDelta(t, 1.0, got[0].GEX, 1e-9)
	assert.InDelta(t, 5, got[0].DEX, 1e-9)
	assert.Equal(t, "08:00:00", got[0].CollectionTime)

	// 0.004 × 25 × 0.1 × 120² × 0.01, DEX stays δ·OI without a put sign flip
	assert.InDelta(t, 1.44, got[1].GEX, 1e-9)
	assert.InDelta(t, -7.5, got[1].DEX, 1e-9)
}

func TestSurface(t *testing.T) {
	rows := []options.ContractAnalytics{
		row(options.Put, 100, "2025-01-05", 4, 10),
		row(options.Call, 100, "2025-01-05", 4, 10),
		row(options.Call, 90, "2025-01-05", 4, 10),
		{Symbol: "unparsed", OptionType: options.Call},
	}
	rows[0].Bid, rows[0].Ask, rows[0].Mid = ptr(4.0), ptr(6.0), ptr(5.0)

	got := Surface("b-1", "ETH", rows)
	require.Len(t, got, 3)
	assert.Equal(t, 90.0, got[0].Strike)
	assert.Equal(t, options.Call, got[1].OptionType)
	assert.Equal(t, options.Put, got[2].OptionType)
	require.NotNil(t, got[2].Mid)
	assert.Equal(t, 5.0, *got[2].Mid)
}
