package aggregate

import (
	"math"
	"sort"

	"optionsmetrics/internal/domain/options"
)

// gexScale converts gamma per unit of spot into exposure per 1% move
const gexScale = 0.01

type strikeKey struct {
	date   string
	strike float64
}

// add folds one contract into the exposure. Put gamma exposure is sign-flipped;
// NetOI is the total open interest across both sides.
func add(e *options.StrikeExposure, r *options.ContractAnalytics) {
	oi := r.OpenInterest
	switch r.OptionType {
	case options.Call:
		e.CallOI += oi
		e.CallGEX += r.Gamma * oi
		e.CallDEX += r.Delta * oi
	case options.Put:
		e.PutOI += oi
		e.PutGEX -= r.Gamma * oi
		e.PutDEX += r.Delta * oi
	}
	e.NetOI = e.CallOI + e.PutOI
	e.NetGEX = e.CallGEX + e.PutGEX
	e.NetDEX = e.CallDEX + e.PutDEX
}

// ByStrike groups contracts per (expiry date, strike). Contracts without a
// strike or expiry cannot be placed and are left out.
func ByStrike(batchID, asset string, rows []options.ContractAnalytics) []options.StrikeAggregate {
	return groupStrikes(batchID, asset, rows, func(r *options.ContractAnalytics) (string, bool) {
		if r.ExpiryDate == nil {
			return "", false
		}
		return *r.ExpiryDate, true
	})
}

// Cumulative sums strike exposure across all live expiries under options.CumulativeDate
func Cumulative(batchID, asset string, rows []options.ContractAnalytics) []options.StrikeAggregate {
	return groupStrikes(batchID, asset, rows, func(r *options.ContractAnalytics) (string, bool) {
		if r.ExpiryDate == nil || r.DaysToExpiry() < 0 {
			return "", false
		}
		return options.CumulativeDate, true
	})
}

func groupStrikes(batchID, asset string, rows []options.ContractAnalytics, dateOf func(*options.ContractAnalytics) (string, bool)) []options.StrikeAggregate {
	groups := make(map[strikeKey]*options.StrikeAggregate)
	for i := range rows {
		r := &rows[i]
		if r.Strike == nil || !r.OptionType.Valid() {
			continue
		}
		date, ok := dateOf(r)
		if !ok {
			continue
		}
		k := strikeKey{date: date, strike: *r.Strike}
		g, ok := groups[k]
		if !ok {
			g = &options.StrikeAggregate{Asset: asset, Date: date, Strike: *r.Strike, BatchID: batchID}
			groups[k] = g
		}
		add(&g.StrikeExposure, r)
	}

	out := make([]options.StrikeAggregate, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Strike < out[j].Strike
	})
	return out
}

// ByExpiry groups contracts per expiry date
func ByExpiry(batchID, asset string, rows []options.ContractAnalytics) []options.ExpiryAggregate {
	groups := make(map[string]*options.ExpiryAggregate)
	for i := range rows {
		r := &rows[i]
		if r.ExpiryDate == nil || !r.OptionType.Valid() {
			continue
		}
		g, ok := groups[*r.ExpiryDate]
		if !ok {
			g = &options.ExpiryAggregate{
				Asset:      asset,
				ExpiryDate: *r.ExpiryDate,
				BatchID:    batchID,
				DTE:        math.MaxInt32,
			}
			groups[*r.ExpiryDate] = g
		}
		if d := r.DaysToExpiry(); d < g.DTE {
			g.DTE = d
		}
		g.ContractCount++

		gamma := r.Gamma * r.OpenInterest
		if r.OptionType == options.Call {
			g.CallGamma += gamma
		} else {
			g.PutGamma += gamma
		}
		g.TotalGamma = g.CallGamma + g.PutGamma
		add(&g.StrikeExposure, r)
	}

	out := make([]options.ExpiryAggregate, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiryDate < out[j].ExpiryDate })
	return out
}

// Exposures builds the per-contract audit rows. GEX is expressed per 1% spot
// move in units of the underlying: gamma × OI × contract size × S² × 0.01.
func Exposures(batch *options.CollectionBatch, rows []options.ContractAnalytics, contractSize float64) []options.ContractExposure {
	out := make([]options.ContractExposure, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		out = append(out, options.ContractExposure{
			BatchID:        batch.ID,
			Asset:          batch.Asset,
			CollectionDate: batch.CollectionDate,
			CollectionTime: batch.CollectionTime,
			Symbol:         r.Symbol,
			Spot:           r.Spot,
			Gamma:          r.Gamma,
			Delta:          r.Delta,
			OpenInterest:   r.OpenInterest,
			ContractSize:   contractSize,
			GEX:            r.Gamma * r.OpenInterest * contractSize * r.Spot * r.Spot * gexScale,
			DEX:            r.Delta * r.OpenInterest,
		})
	}
	return out
}

// Surface returns the smile points of the batch, one per typed contract with
// a strike and expiry.
func Surface(batchID, asset string, rows []options.ContractAnalytics) []options.VolatilityPoint {
	out := make([]options.VolatilityPoint, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		if r.Strike == nil || r.ExpiryDate == nil || !r.OptionType.Valid() {
			continue
		}
		out = append(out, options.VolatilityPoint{
			Asset:      asset,
			ExpiryDate: *r.ExpiryDate,
			Strike:     *r.Strike,
			OptionType: r.OptionType,
			BatchID:    batchID,
			IV:         r.Sigma,
			Delta:      r.Delta,
			Gamma:      r.Gamma,
			Vega:       r.Vega,
			Bid:        r.Bid,
			Ask:        r.Ask,
			Mid:        r.Mid,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ExpiryDate != b.ExpiryDate {
			return a.ExpiryDate < b.ExpiryDate
		}
		if a.Strike != b.Strike {
			return a.Strike < b.Strike
		}
		return a.OptionType < b.OptionType
	})
	return out
}
