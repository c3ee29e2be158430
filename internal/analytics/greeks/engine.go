package greeks

import (
	"fmt"
	"math"
	"time"

	"optionsmetrics/internal/analytics/symbol"
	"optionsmetrics/internal/domain/options"
	"optionsmetrics/pkg/errors"
	"optionsmetrics/pkg/logger"
)

const daysPerYear = 365.0

// Moneyness categories by spot/strike ratio. Each label names both sides
// because the same ratio is ITM for a call and OTM for a put.
const (
	CategoryDeepITMCall = "Deep ITM Call/OTM Put"
	CategoryITMCall     = "ITM Call/OTM Put"
	CategoryATM         = "ATM"
	CategoryOTMCall     = "OTM Call/ITM Put"
	CategoryDeepOTMCall = "Deep OTM Call/ITM Put"
	CategoryUnknown     = "Unknown"
)

// Engine computes ContractAnalytics for snapshots of one batch
type Engine struct {
	riskFreeRate  float64
	dividendYield float64
	log           *logger.Logger
}

// NewEngine creates an engine with fixed rate inputs
func NewEngine(riskFreeRate, dividendYield float64, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Get()
	}
	return &Engine{
		riskFreeRate:  riskFreeRate,
		dividendYield: dividendYield,
		log:           log.With("component", "greeks_engine"),
	}
}

// IsSparse reports a snapshot with no quote, no trade and no venue Greeks
func IsSparse(s options.ContractSnapshot) bool {
	return s.BidPrice == 0 && s.AskPrice == 0 && s.LastPrice == 0 &&
		s.Delta == 0 && s.Gamma == 0 && s.Vega == 0 && s.Theta == 0
}

// Sigma picks the volatility input: mark IV, else the bid/ask IV average, else either leg
func Sigma(s options.ContractSnapshot) float64 {
	switch {
	case s.MarkIV > 0:
		return s.MarkIV
	case s.BidIV > 0 && s.AskIV > 0:
		return (s.BidIV + s.AskIV) / 2
	case s.BidIV > 0:
		return s.BidIV
	case s.AskIV > 0:
		return s.AskIV
	}
	return 0
}

// Classify buckets a spot/strike ratio
func Classify(ratio float64) string {
	switch {
	case ratio <= 0:
		return CategoryUnknown
	case ratio > 1.05:
		return CategoryDeepITMCall
	case ratio > 1.00:
		return CategoryITMCall
	case ratio >= 0.95:
		return CategoryATM
	case ratio >= 0.90:
		return CategoryOTMCall
	default:
		return CategoryDeepOTMCall
	}
}

// Compute derives the analytics record for one snapshot of batch.
// It returns errors.ErrSparseContract for snapshots that carry nothing to analyze.
func (e *Engine) Compute(batch *options.CollectionBatch, snap options.ContractSnapshot) (*options.ContractAnalytics, error) {
	if IsSparse(snap) {
		return nil, errors.ErrSparseContract
	}

	a := &options.ContractAnalytics{
		BatchID:        batch.ID,
		Asset:          batch.Asset,
		Symbol:         snap.Symbol,
		CollectionDate: batch.CollectionDate,
		CollectionTime: batch.CollectionTime,
		RiskFreeRate:   e.riskFreeRate,
		DividendYield:  e.dividendYield,
		MarkPrice:      snap.MarkPrice,
		MarkIV:         snap.MarkIV,
		OpenInterest:   snap.OpenInterest,
		Volume24h:      snap.Volume24h,
		Turnover24h:    snap.Turnover24h,
		Change24h:      snap.Change24h,
		BidSize:        snap.BidSize,
		AskSize:        snap.AskSize,
	}

	strike, expiry, typ := e.resolveContract(batch, snap)
	a.OptionType = typ
	if strike > 0 {
		a.Strike = &strike
	}

	if expiry != nil {
		d := expiry.Format(options.DateLayout)
		a.ExpiryDate = &d
		if collected := batch.CollectedAt(); !collected.IsZero() {
			day := time.Date(collected.Year(), collected.Month(), collected.Day(), 0, 0, 0, 0, time.UTC)
			dte := int(math.Round(expiry.Sub(day).Hours() / 24))
			a.DTE = &dte
			a.T = math.Max(float64(dte)/daysPerYear, 0)
		}
	}

	S := spot(batch, snap)
	a.Spot = S
	a.Sigma = Sigma(snap)

	m := evaluate(inputs{
		S: S, K: strike, Sigma: a.Sigma,
		R: e.riskFreeRate, Q: e.dividendYield, T: a.T,
		Type: typ,
	})

	a.TheoreticalPrice = m.Price
	if !typ.Valid() {
		a.TheoreticalPrice = snap.MarkPrice
	}
	a.Delta, a.Gamma, a.Vega, a.Theta, a.Rho = m.Delta, m.Gamma, m.Vega, m.Theta, m.Rho
	a.Vanna, a.Volga, a.Charm, a.Veta = m.Vanna, m.Volga, m.Charm, m.Veta
	a.Speed, a.Zomma, a.Color, a.Ultima = m.Speed, m.Zomma, m.Color, m.Ultima
	a.Vera, a.EpsilonCall, a.EpsilonPut = m.Vera, m.EpsilonCall, m.EpsilonPut

	e.valueMetrics(a, m, strike)
	e.probabilityMetrics(a, m, strike)
	liquidityMetrics(a, snap)
	timeMetrics(a)
	volatilityMetrics(a, snap)
	a.PINRisk = pinRisk(S, strike, a.Sigma, e.riskFreeRate, a.T)

	reconcileQuotes(a, snap)
	return a, nil
}

// ComputeBatch runs Compute over every contract, skipping sparse ones.
// A contract that panics is logged and skipped.
func (e *Engine) ComputeBatch(batch *options.CollectionBatch) (rows []options.ContractAnalytics, skipped int) {
	rows = make([]options.ContractAnalytics, 0, len(batch.Contracts))
	for _, snap := range batch.Contracts {
		a, err := e.safeCompute(batch, snap)
		if err != nil {
			skipped++
			if !errors.Is(err, errors.ErrSparseContract) {
				e.log.Warn("contract skipped", "asset", batch.Asset, "symbol", snap.Symbol, "error", err)
			}
			continue
		}
		rows = append(rows, *a)
	}
	return rows, skipped
}

func (e *Engine) safeCompute(batch *options.CollectionBatch, snap options.ContractSnapshot) (a *options.ContractAnalytics, err error) {
	defer func() {
		if r := recover(); r != nil {
			a, err = nil, errors.Wrapf(errors.ErrInternal, "compute %s: %v", snap.Symbol, r)
		}
	}()
	return e.Compute(batch, snap)
}

// resolveContract prefers explicit snapshot fields, then the symbol, then
// instrument delivery metadata for the expiry.
func (e *Engine) resolveContract(batch *options.CollectionBatch, snap options.ContractSnapshot) (float64, *time.Time, options.OptionType) {
	id := symbol.Parse(snap.Symbol)

	strike := snap.Strike
	if strike <= 0 && id.Strike != nil {
		strike = *id.Strike
	}

	typ := snap.Type
	if !typ.Valid() {
		typ = id.Type
	}

	var expiry *time.Time
	if snap.Expiry != "" {
		if t, err := time.Parse(options.DateLayout, snap.Expiry); err == nil {
			expiry = &t
		}
	}
	if expiry == nil {
		expiry = id.Expiry
	}
	if expiry == nil && batch.Instruments != nil {
		if inst, ok := batch.Instruments[snap.Symbol]; ok {
			expiry = symbol.ExpiryFromDeliveryTime(inst.DeliveryTime)
		}
	}

	if strike <= 0 || expiry == nil || !typ.Valid() {
		e.log.Debug("symbol partially resolved",
			"symbol", snap.Symbol,
			"strike", strike,
			"expiry", fmt.Sprint(expiry),
			"type", string(typ),
		)
	}
	return strike, expiry, typ
}

func spot(batch *options.CollectionBatch, snap options.ContractSnapshot) float64 {
	switch {
	case snap.UnderlyingPrice > 0:
		return snap.UnderlyingPrice
	case batch.SpotPrice > 0:
		return batch.SpotPrice
	case snap.MarkPrice > 0:
		return snap.MarkPrice
	}
	return 0
}

func (e *Engine) valueMetrics(a *options.ContractAnalytics, m sensitivities, K float64) {
	S, mark := a.Spot, a.MarkPrice

	if K > 0 {
		switch a.OptionType {
		case options.Call:
			a.IntrinsicValue = math.Max(0, S-K)
		case options.Put:
			a.IntrinsicValue = math.Max(0, K-S)
		}
	}
	a.TimeValue = mark - a.IntrinsicValue
	a.ExtrinsicValue = a.TimeValue
	a.PremiumRatio = div(mark, S) * 100

	a.MoneynessCategory = CategoryUnknown
	if K > 0 && S > 0 {
		a.StrikeToSpot = K / S
		a.DistanceToStrikePct = (S - K) / S * 100
		a.Moneyness = S / K
		a.LogMoneyness = math.Log(S / K)
		a.MoneynessCategory = Classify(a.Moneyness)
	}
	a.StandardizedMoneyness = m.D2
}

func (e *Engine) probabilityMetrics(a *options.ContractAnalytics, m sensitivities, K float64) {
	S, mark, sigma, T, r := a.Spot, a.MarkPrice, a.Sigma, a.T, e.riskFreeRate
	if K <= 0 || !a.OptionType.Valid() {
		return
	}
	isCall := a.OptionType == options.Call

	if isCall {
		a.ProbITM = normCDF(m.D2)
		a.Breakeven = K + mark
	} else {
		a.ProbITM = normCDF(-m.D2)
		a.Breakeven = K - mark
	}
	a.ProbOTM = 1 - a.ProbITM

	sigmaSqrtT := sigma * math.Sqrt(T)
	if a.Breakeven > 0 && S > 0 && sigmaSqrtT > 0 {
		a.D2Breakeven = finite((math.Log(S/a.Breakeven) + (r-sigma*sigma/2)*T) / sigmaSqrtT)
	}
	if isCall {
		a.ProbProfit = normCDF(a.D2Breakeven)
	} else {
		a.ProbProfit = normCDF(-a.D2Breakeven)
	}

	disc := math.Exp(-r * T)
	if isCall {
		a.ExpectedValue = disc * (S*normCDF(m.D1) - K*normCDF(m.D2))
		a.ReturnOnRisk = div(S-a.Breakeven, mark)
	} else {
		a.ExpectedValue = disc * (K*normCDF(-m.D2) - S*normCDF(-m.D1))
		a.ReturnOnRisk = div(a.Breakeven-S, mark)
	}
	a.ExpectedValue = finite(a.ExpectedValue)

	a.Leverage = div(a.Delta*S, mark)
	a.Lambda = div(a.Delta*S, a.TheoreticalPrice)
	if math.Abs(mark) >= eps {
		a.RiskAdjustedReturn = finite(a.ExpectedValue/mark - 1)
	}
	a.Mispricing = div(mark-a.TheoreticalPrice, a.TheoreticalPrice) * 100
}

func liquidityMetrics(a *options.ContractAnalytics, s options.ContractSnapshot) {
	bid, ask := s.BidPrice, s.AskPrice

	if bid > 0 && ask > 0 {
		a.BidAskSpread = ask - bid
	}
	a.BidAskSpreadPct = div(a.BidAskSpread, (ask+bid)/2) * 100
	if bid+ask > 0 {
		a.MidPrice = (bid + ask) / 2
	} else {
		a.MidPrice = s.MarkPrice
	}
	a.LiquidityScore = (s.BidSize + s.AskSize) / 2
	a.VolumeOIRatio = div(s.Volume24h, s.OpenInterest)
	a.EffectiveSpread = div(ask*s.AskSize-bid*s.BidSize, s.AskSize+s.BidSize)
	a.DepthRatio = div(s.BidSize, s.AskSize)
	a.TurnoverRatio = div(s.Volume24h, s.OpenInterest*s.MarkPrice)
}

func timeMetrics(a *options.ContractAnalytics) {
	mark := a.MarkPrice

	a.ThetaPerDay = a.Theta / daysPerYear
	a.TimeDecayRate = div(a.Theta, mark) * 100
	a.DaysToBreakeven = divPtr(mark, -a.ThetaPerDay)
	a.ThetaPremiumPct = div(a.ThetaPerDay, mark) * 100
	a.AnnualizedReturn = div(a.ThetaPerDay*daysPerYear, mark) * 100
}

func volatilityMetrics(a *options.ContractAnalytics, s options.ContractSnapshot) {
	if s.BidIV > 0 && s.AskIV > 0 {
		a.IVSpread = s.AskIV - s.BidIV
	}
	a.IVSpreadPct = div(a.IVSpread, a.Sigma) * 100

	a.VegaThetaRatio = divPtr(a.Vega, math.Abs(a.Theta))
	a.DeltaGammaRatio = divPtr(math.Abs(a.Delta), a.Gamma)
	a.GammaVegaRatio = divPtr(a.Gamma, a.Vega)
}

// pinRisk is the lognormal density at the strike scaled by spot
func pinRisk(S, K, sigma, r, T float64) float64 {
	sigmaSqrtT := sigma * math.Sqrt(math.Max(T, 0))
	if K <= 0 || S <= 0 || sigmaSqrtT <= 0 {
		return 0
	}
	d := (math.Log(S/K) + (r+sigma*sigma/2)*T) / sigmaSqrtT
	return finite(normPDF(d) / (K * sigmaSqrtT) * S)
}

// reconcileQuotes fills the (bid, ask, mid) triple so that a non-nil mid
// always has non-nil legs.
func reconcileQuotes(a *options.ContractAnalytics, s options.ContractSnapshot) {
	mark, spread := s.MarkPrice, a.BidAskSpread

	bid := s.BidPrice
	if bid <= 0 {
		bid = mark
		if mark != 0 && spread != 0 {
			bid = mark - spread/2
		}
	}
	ask := s.AskPrice
	if ask <= 0 {
		ask = mark
		if mark != 0 && spread != 0 {
			ask = mark + spread/2
		}
	}

	var mid float64
	if bid > 0 && ask > 0 {
		mid = (bid + ask) / 2
	} else {
		mid = a.TheoreticalPrice
		if mid > 0 {
			if bid <= 0 {
				bid = mid
			}
			if ask <= 0 {
				ask = mid
			}
		}
	}

	if bid > 0 {
		a.Bid = &bid
	}
	if ask > 0 {
		a.Ask = &ask
	}
	if mid > 0 && a.Bid != nil && a.Ask != nil {
		a.Mid = &mid
	}
}
