package percentile

import (
	"context"

	"optionsmetrics/internal/domain/options"
	"optionsmetrics/pkg/errors"
	"optionsmetrics/pkg/logger"
)

// HistoryReader is the read side of the analytics store the ranker needs
type HistoryReader interface {
	VolatilityHistory(ctx context.Context, q options.HistoryQuery) ([]options.VolatilityObservation, error)
}

// Ranker loads reference windows and memoizes ranks per batch.
// A batch's window holds only earlier rows, so a cached rank never goes stale.
type Ranker struct {
	history  HistoryReader
	ivr      *Cache[IVRResult]
	enhanced *Cache[EnhancedResult]
	log      *logger.Logger
}

// NewRanker creates a ranker whose two caches hold at most cacheSize entries each
func NewRanker(history HistoryReader, cacheSize int, log *logger.Logger) (*Ranker, error) {
	ivr, err := NewCache[IVRResult](cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "ivr cache")
	}
	enhanced, err := NewCache[EnhancedResult](cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "enhanced cache")
	}
	if log == nil {
		log = logger.Get()
	}
	return &Ranker{
		history:  history,
		ivr:      ivr,
		enhanced: enhanced,
		log:      log.With("component", "percentile_ranker"),
	}, nil
}

// RankIVR ranks the average IV of snap. A non-positive average IV has nothing
// to rank and yields an Insufficient result.
func (r *Ranker) RankIVR(ctx context.Context, snap *options.AggregateSnapshot) (IVRResult, error) {
	if snap.AvgIV <= 0 {
		return IVRResult{Insufficient: true}, nil
	}

	key := Key([]string{"ivr", snap.Asset, snap.BatchID}, snap.AvgIV)
	if res, ok := r.ivr.Get(key); ok {
		return res, nil
	}

	obs, err := r.history.VolatilityHistory(ctx, options.HistoryQuery{
		Asset:         snap.Asset,
		BeforeBatchID: snap.BatchID,
		Limit:         IVRWindow,
	})
	if err != nil {
		return IVRResult{}, errors.Wrapf(err, "ivr history for %s", snap.Asset)
	}

	hist := make([]float64, len(obs))
	for i, o := range obs {
		hist[i] = o.AvgIV
	}
	res := IVR(snap.AvgIV, hist)
	if res.Insufficient {
		r.log.Debug("insufficient ivr history", "asset", snap.Asset, "points", res.Count)
	}

	r.ivr.Add(key, res)
	return res, nil
}

// RankEnhanced computes the adaptive scores of snap. Missing realized or
// historical volatility, or short histories, yield the neutral default.
func (r *Ranker) RankEnhanced(ctx context.Context, snap *options.AggregateSnapshot) (EnhancedResult, error) {
	if snap.AvgIV <= 0 || snap.RealizedVolatility == nil || snap.HistoricalVolatility == nil {
		return NeutralEnhanced(), nil
	}
	rv, hv := *snap.RealizedVolatility, *snap.HistoricalVolatility

	key := Key([]string{"enhanced", snap.Asset, snap.BatchID}, snap.AvgIV, rv, hv)
	if res, ok := r.enhanced.Get(key); ok {
		return res, nil
	}

	obs, err := r.history.VolatilityHistory(ctx, options.HistoryQuery{
		Asset:           snap.Asset,
		BeforeBatchID:   snap.BatchID,
		Limit:           EnhancedWindow,
		RequireRealized: true,
	})
	if err != nil {
		return EnhancedResult{}, errors.Wrapf(err, "enhanced history for %s", snap.Asset)
	}

	in := EnhancedInput{IV: snap.AvgIV, RV: rv, HV: hv}
	for _, o := range obs {
		if o.RealizedVolatility == nil || o.HistoricalVolatility == nil {
			continue
		}
		in.IVHistory = append(in.IVHistory, o.AvgIV)
		in.RVHistory = append(in.RVHistory, *o.RealizedVolatility)
		in.HVHistory = append(in.HVHistory, *o.HistoricalVolatility)
	}

	res := Enhanced(in)
	r.enhanced.Add(key, res)
	return res, nil
}
