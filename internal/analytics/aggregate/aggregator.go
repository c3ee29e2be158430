// Package aggregate rolls per-contract analytics of one batch into market-wide
// snapshots, strike and expiry roll-ups and the max-pain strike.
package aggregate

import (
	"math"
	"sort"

	"optionsmetrics/internal/domain/options"
)

// atmBand is the relative spot/strike distance treated as at-the-money in aggregate buckets
const atmBand = 0.02

// Build computes the synchronous fields of the batch aggregate. Enrichment
// columns are left nil. An empty batch yields a zero-valued snapshot.
func Build(batch *options.CollectionBatch, rows []options.ContractAnalytics) *options.AggregateSnapshot {
	snap := &options.AggregateSnapshot{
		BatchID:        batch.ID,
		Asset:          batch.Asset,
		CollectionDate: batch.CollectionDate,
		CollectionTime: batch.CollectionTime,
		Spot:           spotOf(batch, rows),
	}
	if len(rows) == 0 {
		return snap
	}

	var (
		ivs, callIVs, putIVs []float64
		prices               []float64
	)

	for i := range rows {
		r := &rows[i]
		oi := r.OpenInterest
		isCall := r.OptionType == options.Call
		isPut := r.OptionType == options.Put

		snap.NTotal++
		switch {
		case isCall:
			snap.NCalls++
			snap.SumOICalls += oi
			snap.CallVolume += r.Volume24h
			snap.SumDeltaOICalls += r.Delta * oi
			snap.SumGammaOICalls += r.Gamma * oi
			snap.SumVegaOICalls += r.Vega * oi
			snap.SumThetaOICalls += r.Theta * oi
			snap.SumRhoOICalls += r.Rho * oi
			snap.SumIVOICalls += r.Sigma * oi
		case isPut:
			snap.NPuts++
			snap.SumOIPuts += oi
			snap.PutVolume += r.Volume24h
			snap.SumDeltaOIPuts += r.Delta * oi
			snap.SumGammaOIPuts += r.Gamma * oi
			snap.SumVegaOIPuts += r.Vega * oi
			snap.SumThetaOIPuts += r.Theta * oi
			snap.SumRhoOIPuts += r.Rho * oi
			snap.SumIVOIPuts += r.Sigma * oi
		}
		if r.TimeValue > 0 {
			snap.NActive++
		}

		snap.SumOI += oi
		snap.TotalVolume += r.Volume24h
		snap.SumDeltaOI += r.Delta * oi
		snap.SumGammaOI += r.Gamma * oi
		snap.SumVegaOI += r.Vega * oi
		snap.SumThetaOI += r.Theta * oi
		snap.SumRhoOI += r.Rho * oi
		snap.SumVannaOI += r.Vanna * oi
		snap.SumVolgaOI += r.Volga * oi
		snap.SumCharmOI += r.Charm * oi
		snap.SumVetaOI += r.Veta * oi
		snap.SumSpeedOI += r.Speed * oi
		snap.SumZommaOI += r.Zomma * oi
		snap.SumColorOI += r.Color * oi
		snap.SumUltimaOI += r.Ultima * oi

		snap.SumIVOI += r.Sigma * oi
		snap.SumMarkPriceOI += r.MarkPrice * oi
		snap.SumIntrinsicOI += r.IntrinsicValue * oi
		snap.SumTimeValueOI += r.TimeValue * oi
		snap.SumBidAskSpreadOI += r.BidAskSpread * oi
		snap.SumBidAskSpreadPctOI += r.BidAskSpreadPct * oi
		snap.SumAbsMispricingOI += math.Abs(r.Mispricing) * oi
		snap.SumPINRiskOI += r.PINRisk * oi
		snap.SumChange24hOI += r.Change24h * oi
		snap.SumVolumeOIRatioOI += r.VolumeOIRatio * oi
		snap.SumTurnoverRatioOI += r.TurnoverRatio * oi
		snap.SumLiquidityScore += r.LiquidityScore

		bucketMoneyness(snap, r)
		bucketDTE(snap, r)

		if r.Sigma > 0 {
			ivs = append(ivs, r.Sigma)
			switch {
			case isCall:
				callIVs = append(callIVs, r.Sigma)
			case isPut:
				putIVs = append(putIVs, r.Sigma)
			}
		}
		if r.MarkPrice > 0 {
			prices = append(prices, r.MarkPrice)
		}
	}

	snap.TotalNotionalOI = snap.SumOI * snap.Spot
	snap.PutCallOIRatio = ratio(snap.SumOIPuts, snap.SumOICalls)
	snap.PutCallVolumeRatio = ratio(snap.PutVolume, snap.CallVolume)
	snap.WeightedIV = ratio(snap.SumIVOI, snap.SumOI) * 100
	snap.WeightedDTE = ratio(snap.SumDTEOI, snap.SumOI)

	fillIVStats(snap, ivs, callIVs, putIVs)
	snap.RealizedVolatility, snap.HistoricalVolatility = MarkPriceVolatility(prices)

	return snap
}

func spotOf(batch *options.CollectionBatch, rows []options.ContractAnalytics) float64 {
	var sum float64
	var n int
	for i := range rows {
		if rows[i].Spot > 0 {
			sum += rows[i].Spot
			n++
		}
	}
	if n > 0 {
		return sum / float64(n)
	}
	return batch.SpotPrice
}

// bucketMoneyness places a typed contract with a known strike into exactly
// one of ATM (within atmBand of spot), ITM (positive intrinsic) or OTM.
// Deep OTM means strike beyond 10% of spot on the far side: S/K < 0.90 for
// calls, S/K > 1.10 for puts.
func bucketMoneyness(snap *options.AggregateSnapshot, r *options.ContractAnalytics) {
	if r.Strike == nil || r.Spot <= 0 || !r.OptionType.Valid() {
		return
	}
	oi := r.OpenInterest
	atm := math.Abs(r.Spot-*r.Strike)/r.Spot < atmBand
	itm := r.IntrinsicValue > 0

	if r.OptionType == options.Call {
		switch {
		case atm:
			snap.NATMCalls++
			snap.OIATMCalls += oi
		case itm:
			snap.NITMCalls++
			snap.OIITMCalls += oi
		default:
			snap.NOTMCalls++
			snap.OIOTMCalls += oi
		}
		if r.Moneyness > 0 && r.Moneyness < 0.90 {
			snap.OIDeepOTMCalls += oi
		}
		return
	}

	switch {
	case atm:
		snap.NATMPuts++
		snap.OIATMPuts += oi
	case itm:
		snap.NITMPuts++
		snap.OIITMPuts += oi
	default:
		snap.NOTMPuts++
		snap.OIOTMPuts += oi
	}
	if r.Moneyness > 1.10 {
		snap.OIDeepOTMPuts += oi
	}
}

func bucketDTE(snap *options.AggregateSnapshot, r *options.ContractAnalytics) {
	if r.DTE == nil {
		return
	}
	dte, oi := *r.DTE, r.OpenInterest
	snap.SumDTEOI += float64(dte) * oi

	switch {
	case dte <= 7:
		snap.NDTE7++
		snap.OIDTE7 += oi
	case dte <= 30:
		snap.NDTE30++
		snap.OIDTE30 += oi
	case dte <= 90:
		snap.NDTE90++
		snap.OIDTE90 += oi
	case dte <= 180:
		snap.NDTE180++
		snap.OIDTE180 += oi
	default:
		snap.NDTE180Plus++
		snap.OIDTE180Plus += oi
	}
}

// fillIVStats sets the descriptive IV statistics in percent
func fillIVStats(snap *options.AggregateSnapshot, ivs, callIVs, putIVs []float64) {
	if len(ivs) > 0 {
		sorted := append([]float64(nil), ivs...)
		sort.Float64s(sorted)

		mean, std := meanStd(sorted)
		snap.AvgIV = mean * 100
		snap.MedianIV = median(sorted) * 100
		snap.IVStd = std * 100
		snap.IVMin = sorted[0] * 100
		snap.IVMax = sorted[len(sorted)-1] * 100
		snap.IVRange = snap.IVMax - snap.IVMin
	}
	if len(callIVs) > 0 {
		m, _ := meanStd(callIVs)
		snap.AvgIVCalls = m * 100
	}
	if len(putIVs) > 0 {
		m, _ := meanStd(putIVs)
		snap.AvgIVPuts = m * 100
	}
	if len(callIVs) > 0 && len(putIVs) > 0 {
		snap.IVSkew = snap.AvgIVPuts - snap.AvgIVCalls
	}
}

// meanStd returns the mean and population standard deviation
func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}

// median of an already sorted slice
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
