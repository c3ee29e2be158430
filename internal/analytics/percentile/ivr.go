package percentile

import (
	"math"

	"optionsmetrics/internal/domain/options"
)

const (
	// IVRWindow is the number of prior observations ranked against
	IVRWindow = 365
	// MinIVRPoints is the smallest window IVR is computed on
	MinIVRPoints = 10
)

// IVRResult is the range and rank position of the current average IV. All
// values are in percent. Insufficient is set, with every other field zero,
// when the window holds fewer than MinIVRPoints observations.
type IVRResult struct {
	IVR    float64
	IVP    float64
	ZScore float64
	Min    float64
	Max    float64
	Mean   float64
	Std    float64
	Count  int

	Insufficient bool
}

// IVR ranks current against history (most recent first, only the first
// IVRWindow positive values are used).
func IVR(current float64, history []float64) IVRResult {
	window := make([]float64, 0, min(len(history), IVRWindow))
	for _, v := range history {
		if v > 0 {
			window = append(window, v)
		}
		if len(window) == IVRWindow {
			break
		}
	}
	if len(window) < MinIVRPoints {
		return IVRResult{Count: len(window), Insufficient: true}
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range window {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	mean, std := meanStd(window)

	res := IVRResult{
		IVR:   50,
		IVP:   OfScore(window, current) * 100,
		Min:   lo,
		Max:   hi,
		Mean:  mean,
		Std:   std,
		Count: len(window),
	}
	if hi-lo >= 1e-6 {
		res.IVR = clamp((current-lo)/(hi-lo)*100, 0, 100)
	}
	if std >= 1e-4 {
		res.ZScore = (current - mean) / std
	}
	return res
}

// Apply copies the result into the enrichment columns. Insufficient results
// only record the point count.
func (r IVRResult) Apply(e *options.AggregateEnrichment) {
	count := r.Count
	e.IVDataPoints = &count
	if r.Insufficient {
		return
	}
	e.IVR = f(r.IVR)
	e.IVP = f(r.IVP)
	e.IVZScore = f(r.ZScore)
	e.IVWindowMin = f(r.Min)
	e.IVWindowMax = f(r.Max)
	e.IVWindowMean = f(r.Mean)
	e.IVWindowStd = f(r.Std)
}

func f(v float64) *float64 { return &v }
