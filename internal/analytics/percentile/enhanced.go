package percentile

import (
	"optionsmetrics/internal/domain/options"
)

const (
	// EnhancedWindow is the number of prior observations the adaptive scores use
	EnhancedWindow = 252
	// MinEnhancedPoints is the smallest history per series
	MinEnhancedPoints = 2

	// percentScale separates fractional from percent inputs: values below it are fractions
	percentScale = 5.0
	weightEps    = 1e-9
)

// EnhancedInput is the current IV/RV/HV with their histories (most recent first)
type EnhancedInput struct {
	IV, RV, HV float64

	IVHistory []float64
	RVHistory []float64
	HVHistory []float64
}

// EnhancedResult holds percentiles and scores in [0,1], the IV/HV gap in
// percent and two weight sets that each sum to 1.
type EnhancedResult struct {
	IVPct, RVPct, HVPct float64
	SellScore           float64
	BuyScore            float64
	Gap                 float64

	WIVSell, WRVSell, WHVSell float64
	WIVBuy, WRVBuy, WHVBuy    float64

	Neutral bool
}

// NeutralEnhanced is returned when any history is too short
func NeutralEnhanced() EnhancedResult {
	return EnhancedResult{
		IVPct: 0.5, RVPct: 0.5, HVPct: 0.5,
		SellScore: 0.5, BuyScore: 0.5,
		WIVSell: 0.33, WRVSell: 0.33, WHVSell: 0.34,
		WIVBuy: 0.33, WRVBuy: 0.33, WHVBuy: 0.34,
		Neutral: true,
	}
}

// asPercent brings fractional volatilities (0.65) onto the percent scale (65).
// Any value below percentScale is read as a fraction and multiplied by 100;
// values at or above it are taken as percent already. A fractional RV/HV
// proxy of 5 or more (500% annualized) is therefore left unscaled and reads
// as 5%. Every input series, IV included, goes through the same rule.
func asPercent(v float64) float64 {
	if v < percentScale {
		return v * 100
	}
	return v
}

func window(hist []float64) []float64 {
	n := min(len(hist), EnhancedWindow)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = asPercent(hist[i])
	}
	return out
}

// Enhanced computes the adaptive sell/buy scores.
//
// The sell side weights IV by a sigmoid of the IV/HV gap and splits the rest
// between RV and HV by percentile, leaning to HV when it is high against its
// own mean. The buy side mirrors it on inverse percentiles, leaning to
// whichever of RV and HV sits furthest below its mean.
func Enhanced(in EnhancedInput) EnhancedResult {
	ivHist, rvHist, hvHist := window(in.IVHistory), window(in.RVHistory), window(in.HVHistory)
	if len(ivHist) < MinEnhancedPoints || len(rvHist) < MinEnhancedPoints || len(hvHist) < MinEnhancedPoints {
		return NeutralEnhanced()
	}

	iv, rv, hv := asPercent(in.IV), asPercent(in.RV), asPercent(in.HV)

	var r EnhancedResult
	r.IVPct = OfScore(ivHist, iv)
	r.RVPct = OfScore(rvHist, rv)
	r.HVPct = OfScore(hvHist, hv)

	if hv >= 1e-6 {
		r.Gap = (iv - hv) / hv * 100
	}

	meanHV, _ := meanStd(hvHist)
	meanRV, _ := meanStd(rvHist)

	// sell side
	r.WIVSell = clamp(0.2+0.6*sigmoid(5*r.Gap), 0.1, 0.8)
	rest := 1 - r.WIVSell
	denom := r.RVPct + r.HVPct + weightEps
	hvPref := min(1.0, hv/(meanHV+weightEps))
	wRV := rest * (r.RVPct / denom) * (0.8 + 0.2*(1-hvPref))
	wHV := rest * (r.HVPct / denom) * (0.8 + 0.2*hvPref)
	r.WRVSell, r.WHVSell = renormalize(wRV, wHV, rest)

	r.SellScore = clamp(r.WIVSell*r.IVPct+r.WRVSell*r.RVPct+r.WHVSell*r.HVPct, 0, 1)

	// buy side
	r.WIVBuy = clamp(0.1+0.5*sigmoid(-5*r.Gap), 0.05, 0.6)
	rest = 1 - r.WIVBuy
	invRV, invHV := 1-r.RVPct, 1-r.HVPct
	invDenom := invRV + invHV + weightEps
	hvBuy := max(0.1, 1-hv/(meanHV+weightEps))
	rvBuy := max(0.1, 1-rv/(meanRV+weightEps))
	wRV = rest * (invRV / invDenom) * rvBuy
	wHV = rest * (invHV / invDenom) * hvBuy
	r.WRVBuy, r.WHVBuy = renormalize(wRV, wHV, rest)

	r.BuyScore = clamp(r.WIVBuy*(1-r.IVPct)+r.WRVBuy*invRV+r.WHVBuy*invHV, 0, 1)

	return r
}

// renormalize scales a and b to sum to total, splitting evenly when both are 0
func renormalize(a, b, total float64) (float64, float64) {
	sum := a + b
	if sum <= 0 {
		return total / 2, total / 2
	}
	return a * total / sum, b * total / sum
}

// Apply copies the result into the enrichment columns
func (r EnhancedResult) Apply(e *options.AggregateEnrichment) {
	e.IVPct = f(r.IVPct)
	e.RVPct = f(r.RVPct)
	e.HVPct = f(r.HVPct)
	e.SellScore = f(r.SellScore)
	e.BuyScore = f(r.BuyScore)
	e.Gap = f(r.Gap)
	e.WIVSell = f(r.WIVSell)
	e.WRVSell = f(r.WRVSell)
	e.WHVSell = f(r.WHVSell)
	e.WIVBuy = f(r.WIVBuy)
	e.WRVBuy = f(r.WRVBuy)
	e.WHVBuy = f(r.WHVBuy)
}
