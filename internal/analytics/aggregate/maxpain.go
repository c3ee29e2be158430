package aggregate

import (
	"math"
	"sort"

	"optionsmetrics/internal/domain/options"
	"optionsmetrics/pkg/errors"
)

// StrikeOI is the open interest resting at one strike
type StrikeOI struct {
	Strike float64
	CallOI float64
	PutOI  float64
}

// OpenInterestByStrike sums call and put OI per strike across all expiries.
// Strikes without OI are kept because they are still settlement candidates.
func OpenInterestByStrike(rows []options.ContractAnalytics) []StrikeOI {
	byStrike := make(map[float64]*StrikeOI)
	for i := range rows {
		r := &rows[i]
		if r.Strike == nil || *r.Strike <= 0 {
			continue
		}
		s, ok := byStrike[*r.Strike]
		if !ok {
			s = &StrikeOI{Strike: *r.Strike}
			byStrike[*r.Strike] = s
		}
		switch r.OptionType {
		case options.Call:
			s.CallOI += r.OpenInterest
		case options.Put:
			s.PutOI += r.OpenInterest
		}
	}

	out := make([]StrikeOI, 0, len(byStrike))
	for _, s := range byStrike {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strike < out[j].Strike })
	return out
}

// MaxPain returns the settlement strike that minimizes the total intrinsic
// payout to option holders. Every distinct strike is tried (O(n²)); ties go
// to the lowest strike. It returns errors.ErrUndefined with fewer than two
// distinct strikes or no open interest.
func MaxPain(strikes []StrikeOI) (float64, error) {
	merged := mergeStrikes(strikes)
	if len(merged) < 2 {
		return 0, errors.Wrap(errors.ErrUndefined, "max pain needs two strikes")
	}

	var total float64
	for _, s := range merged {
		total += s.CallOI + s.PutOI
	}
	if total <= 0 {
		return 0, errors.Wrap(errors.ErrUndefined, "max pain needs open interest")
	}

	best, bestLoss := 0.0, math.Inf(1)
	for _, settle := range merged {
		loss := PayoutAt(merged, settle.Strike)
		if loss < bestLoss {
			best, bestLoss = settle.Strike, loss
		}
	}
	return best, nil
}

// PayoutAt is the total intrinsic value owed to holders if the underlying settles at price
func PayoutAt(strikes []StrikeOI, price float64) float64 {
	var loss float64
	for _, s := range strikes {
		loss += s.CallOI * math.Max(0, price-s.Strike)
		loss += s.PutOI * math.Max(0, s.Strike-price)
	}
	return loss
}

// mergeStrikes folds duplicate strikes together and sorts ascending
func mergeStrikes(in []StrikeOI) []StrikeOI {
	byStrike := make(map[float64]StrikeOI, len(in))
	for _, s := range in {
		if s.Strike <= 0 {
			continue
		}
		cur := byStrike[s.Strike]
		cur.Strike = s.Strike
		cur.CallOI += s.CallOI
		cur.PutOI += s.PutOI
		byStrike[s.Strike] = cur
	}
	out := make([]StrikeOI, 0, len(byStrike))
	for _, s := range byStrike {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strike < out[j].Strike })
	return out
}
