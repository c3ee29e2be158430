package aggregate

import "math"

const (
	annualization = 365.0
	hvWindow      = 30
)

// MarkPriceVolatility estimates realized and historical volatility from the
// mark prices of a batch in collection order. It is a statistical proxy over
// option marks, not a realized volatility of the underlying.
//
// RV is the annualized population std of log returns. HV is the annualized
// square root of the mean variance over sliding windows of min(30, n) returns,
// falling back to RV when the window holds a single return. Both are nil with
// fewer than two positive prices.
func MarkPriceVolatility(prices []float64) (rv, hv *float64) {
	returns := make([]float64, 0, len(prices))
	for i := 1; i < len(prices); i++ {
		prev, cur := prices[i-1], prices[i]
		if prev > 0 && cur > 0 {
			returns = append(returns, math.Log(cur/prev))
		}
	}
	if len(returns) == 0 {
		return nil, nil
	}

	scale := math.Sqrt(annualization)
	_, std := meanStd(returns)
	realized := std * scale

	historical := realized
	window := min(hvWindow, len(returns))
	if window > 1 {
		var sumVar float64
		n := len(returns) - window + 1
		for j := 0; j < n; j++ {
			_, s := meanStd(returns[j : j+window])
			sumVar += s * s
		}
		historical = math.Sqrt(sumVar/float64(n)) * scale
	}

	return &realized, &historical
}
