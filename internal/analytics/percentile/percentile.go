// Package percentile ranks the current volatility of an asset against its own
// history: the range-based IV rank, the rank-based IV percentile with a
// Z-score, and the adaptive buy/sell scores over IV, RV and HV.
package percentile

import "math"

// OfScore is the share of hist strictly below x plus half the share equal to
// x, in [0,1]. An empty history ranks at the midpoint.
func OfScore(hist []float64, x float64) float64 {
	if len(hist) == 0 {
		return 0.5
	}
	var less, equal int
	for _, v := range hist {
		switch {
		case v < x:
			less++
		case v == x:
			equal++
		}
	}
	return (float64(less) + 0.5*float64(equal)) / float64(len(hist))
}

// Rolling returns the percentile of each point against the window ending at
// it. Points without a full window are NaN.
func Rolling(series []float64, window int) []float64 {
	out := make([]float64, len(series))
	for i := range out {
		out[i] = math.NaN()
	}
	if window <= 0 {
		return out
	}
	for i := window - 1; i < len(series); i++ {
		out[i] = OfScore(series[i-window+1:i+1], series[i])
	}
	return out
}

func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
