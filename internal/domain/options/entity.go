package options

import (
	"time"
)

// OptionType is the call/put flag as stored ("C", "P" or empty when unknown)
type OptionType string

const (
	Call    OptionType = "C"
	Put     OptionType = "P"
	Unknown OptionType = ""
)

func (t OptionType) Valid() bool {
	return t == Call || t == Put
}

// Storage layouts for the collection clock
const (
	DateLayout     = "2006-01-02"
	TimeLayout     = "15:04:05"
	DateTimeLayout = "2006-01-02 15:04:05"

	// CumulativeDate is the date key of strike rows summed over all live expiries
	CumulativeDate = "CUMULATIVE"
)

// ContractSnapshot is one quote for one option contract at one poll time.
// Strike, Expiry (YYYY-MM-DD) and Type may be empty; they are then resolved from Symbol.
type ContractSnapshot struct {
	BatchID string `db:"batch_id"`
	Symbol  string `db:"symbol"`

	Strike float64    `db:"strike"`
	Expiry string     `db:"expiry"`
	Type   OptionType `db:"option_type"`

	UnderlyingPrice float64 `db:"underlying_price"`
	MarkPrice       float64 `db:"mark_price"`
	MarkIV          float64 `db:"mark_iv"`
	LastPrice       float64 `db:"last_price"`

	BidPrice float64 `db:"bid_price"`
	BidSize  float64 `db:"bid_size"`
	BidIV    float64 `db:"bid_iv"`
	AskPrice float64 `db:"ask_price"`
	AskSize  float64 `db:"ask_size"`
	AskIV    float64 `db:"ask_iv"`

	OpenInterest float64 `db:"open_interest"`
	Volume24h    float64 `db:"volume_24h"`
	Turnover24h  float64 `db:"turnover_24h"`
	Change24h    float64 `db:"change_24h"`

	// Greeks as published by the venue; used only for the sparsity check
	Delta float64 `db:"delta"`
	Gamma float64 `db:"gamma"`
	Vega  float64 `db:"vega"`
	Theta float64 `db:"theta"`
}

// Instrument is venue metadata for a symbol, used when the symbol carries no expiry
type Instrument struct {
	Symbol       string `db:"symbol"`
	DeliveryTime string `db:"delivery_time"`
}

// CollectionBatch is one poll cycle for one asset
type CollectionBatch struct {
	ID             string  `db:"batch_id"`
	Asset          string  `db:"asset"`
	SettleCoin     string  `db:"settle_coin"`
	CollectionDate string  `db:"collection_date"`
	CollectionTime string  `db:"collection_time"`
	SpotPrice      float64 `db:"spot_price"`
	IndexPrice     float64 `db:"index_price"`

	Contracts   []ContractSnapshot    `db:"-"`
	Instruments map[string]Instrument `db:"-"`
}

// CollectedAt parses the batch clock; zero time when unparseable
func (b *CollectionBatch) CollectedAt() time.Time {
	t, err := time.Parse(DateTimeLayout, b.CollectionDate+" "+b.CollectionTime)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ContractAnalytics is the derived record for one ContractSnapshot.
// Bid, Ask and Mid are reconciled: Mid != nil implies Bid != nil and Ask != nil.
type ContractAnalytics struct {
	BatchID        string `db:"batch_id"`
	Asset          string `db:"asset"`
	Symbol         string `db:"symbol"`
	CollectionDate string `db:"collection_date"`
	CollectionTime string `db:"collection_time"`

	Spot          float64    `db:"spot"`
	Strike        *float64   `db:"strike"`
	ExpiryDate    *string    `db:"expiry_date"`
	OptionType    OptionType `db:"option_type"`
	Sigma         float64    `db:"sigma"`
	RiskFreeRate  float64    `db:"risk_free_rate"`
	DividendYield float64    `db:"dividend_yield"`
	T             float64    `db:"time_to_expiry"`
	DTE           *int       `db:"dte"`

	MarkPrice    float64 `db:"mark_price"`
	MarkIV       float64 `db:"mark_iv"`
	OpenInterest float64 `db:"open_interest"`
	Volume24h    float64 `db:"volume_24h"`
	Turnover24h  float64 `db:"turnover_24h"`
	Change24h    float64 `db:"change_24h"`
	BidSize      float64 `db:"bid_size"`
	AskSize      float64 `db:"ask_size"`

	TheoreticalPrice float64 `db:"theoretical_price"`
	Delta            float64 `db:"delta"`
	Gamma            float64 `db:"gamma"`
	Vega             float64 `db:"vega"`
	Theta            float64 `db:"theta"`
	Rho              float64 `db:"rho"`
	Vanna            float64 `db:"vanna"`
	Volga            float64 `db:"volga"`
	Charm            float64 `db:"charm"`
	Veta             float64 `db:"veta"`
	Speed            float64 `db:"speed"`
	Zomma            float64 `db:"zomma"`
	Color            float64 `db:"color"`
	Ultima           float64 `db:"ultima"`
	Vera             float64 `db:"vera"`
	EpsilonCall      float64 `db:"epsilon_call"`
	EpsilonPut       float64 `db:"epsilon_put"`

	IntrinsicValue        float64 `db:"intrinsic_value"`
	TimeValue             float64 `db:"time_value"`
	ExtrinsicValue        float64 `db:"extrinsic_value"`
	PremiumRatio          float64 `db:"premium_ratio"`
	StrikeToSpot          float64 `db:"strike_to_spot"`
	DistanceToStrikePct   float64 `db:"distance_to_strike_pct"`
	Moneyness             float64 `db:"moneyness"`
	LogMoneyness          float64 `db:"log_moneyness"`
	StandardizedMoneyness float64 `db:"standardized_moneyness"`
	MoneynessCategory     string  `db:"moneyness_category"`

	ProbITM       float64 `db:"prob_itm"`
	ProbOTM       float64 `db:"prob_otm"`
	Breakeven     float64 `db:"breakeven"`
	D2Breakeven   float64 `db:"d2_breakeven"`
	ProbProfit    float64 `db:"prob_profit"`
	ExpectedValue float64 `db:"expected_value"`

	Leverage           float64 `db:"leverage"`
	Lambda             float64 `db:"lambda"`
	ReturnOnRisk       float64 `db:"return_on_risk"`
	RiskAdjustedReturn float64 `db:"risk_adjusted_return"`
	Mispricing         float64 `db:"mispricing"`

	BidAskSpread    float64 `db:"bid_ask_spread"`
	BidAskSpreadPct float64 `db:"bid_ask_spread_pct"`
	MidPrice        float64 `db:"mid_price"`
	LiquidityScore  float64 `db:"liquidity_score"`
	VolumeOIRatio   float64 `db:"volume_oi_ratio"`
	EffectiveSpread float64 `db:"effective_spread"`
	DepthRatio      float64 `db:"depth_ratio"`
	TurnoverRatio   float64 `db:"turnover_ratio"`

	TimeDecayRate    float64  `db:"time_decay_rate"`
	ThetaPerDay      float64  `db:"theta_per_day"`
	DaysToBreakeven  *float64 `db:"days_to_breakeven"`
	ThetaPremiumPct  float64  `db:"theta_premium_pct"`
	AnnualizedReturn float64  `db:"annualized_return"`

	IVSpread        float64  `db:"iv_spread"`
	IVSpreadPct     float64  `db:"iv_spread_pct"`
	VegaThetaRatio  *float64 `db:"vega_theta_ratio"`
	DeltaGammaRatio *float64 `db:"delta_gamma_ratio"`
	GammaVegaRatio  *float64 `db:"gamma_vega_ratio"`

	PINRisk float64 `db:"pin_risk"`

	Bid *float64 `db:"bid"`
	Ask *float64 `db:"ask"`
	Mid *float64 `db:"mid"`
}

// StrikeValue returns the strike or 0 when it could not be parsed
func (a *ContractAnalytics) StrikeValue() float64 {
	if a.Strike == nil {
		return 0
	}
	return *a.Strike
}

// DaysToExpiry returns DTE or -1 when the expiry is unknown
func (a *ContractAnalytics) DaysToExpiry() int {
	if a.DTE == nil {
		return -1
	}
	return *a.DTE
}

// AggregateEnrichment holds the columns filled by background enrichment.
// All of them stay nil until the enrichment for the batch has run.
type AggregateEnrichment struct {
	IVR          *float64 `db:"ivr"`
	IVP          *float64 `db:"ivp"`
	IVZScore     *float64 `db:"iv_z_score"`
	IVWindowMin  *float64 `db:"iv_52w_min"`
	IVWindowMax  *float64 `db:"iv_52w_max"`
	IVWindowMean *float64 `db:"iv_52w_mean"`
	IVWindowStd  *float64 `db:"iv_52w_std"`
	IVDataPoints *int     `db:"iv_data_points"`

	IVPct     *float64 `db:"iv_pct"`
	RVPct     *float64 `db:"rv_pct"`
	HVPct     *float64 `db:"hv_pct"`
	SellScore *float64 `db:"sell_score"`
	BuyScore  *float64 `db:"buy_score"`
	Gap       *float64 `db:"gap"`
	WIVSell   *float64 `db:"w_iv_sell"`
	WRVSell   *float64 `db:"w_rv_sell"`
	WHVSell   *float64 `db:"w_hv_sell"`
	WIVBuy    *float64 `db:"w_iv_buy"`
	WRVBuy    *float64 `db:"w_rv_buy"`
	WHVBuy    *float64 `db:"w_hv_buy"`

	MaxPain    *float64 `db:"max_pain"`
	EnrichedAt *string  `db:"enriched_at"`
}

// AggregateSnapshot is the batch-level roll-up, unique per (asset, date, time)
type AggregateSnapshot struct {
	BatchID        string  `db:"batch_id"`
	Asset          string  `db:"asset"`
	CollectionDate string  `db:"collection_date"`
	CollectionTime string  `db:"collection_time"`
	Spot           float64 `db:"spot"`

	NTotal  int `db:"n_total"`
	NCalls  int `db:"n_calls"`
	NPuts   int `db:"n_puts"`
	NActive int `db:"n_active"`

	SumOI              float64 `db:"sum_oi"`
	SumOICalls         float64 `db:"sum_oi_calls"`
	SumOIPuts          float64 `db:"sum_oi_puts"`
	TotalNotionalOI    float64 `db:"total_notional_oi"`
	PutCallOIRatio     float64 `db:"put_call_oi_ratio"`
	TotalVolume        float64 `db:"total_volume"`
	CallVolume         float64 `db:"call_volume"`
	PutVolume          float64 `db:"put_volume"`
	PutCallVolumeRatio float64 `db:"put_call_volume_ratio"`

	SumDeltaOI      float64 `db:"sum_delta_oi"`
	SumDeltaOICalls float64 `db:"sum_delta_oi_calls"`
	SumDeltaOIPuts  float64 `db:"sum_delta_oi_puts"`
	SumGammaOI      float64 `db:"sum_gamma_oi"`
	SumGammaOICalls float64 `db:"sum_gamma_oi_calls"`
	SumGammaOIPuts  float64 `db:"sum_gamma_oi_puts"`
	SumVegaOI       float64 `db:"sum_vega_oi"`
	SumVegaOICalls  float64 `db:"sum_vega_oi_calls"`
	SumVegaOIPuts   float64 `db:"sum_vega_oi_puts"`
	SumThetaOI      float64 `db:"sum_theta_oi"`
	SumThetaOICalls float64 `db:"sum_theta_oi_calls"`
	SumThetaOIPuts  float64 `db:"sum_theta_oi_puts"`
	SumRhoOI        float64 `db:"sum_rho_oi"`
	SumRhoOICalls   float64 `db:"sum_rho_oi_calls"`
	SumRhoOIPuts    float64 `db:"sum_rho_oi_puts"`
	SumVannaOI      float64 `db:"sum_vanna_oi"`
	SumVolgaOI      float64 `db:"sum_volga_oi"`
	SumCharmOI      float64 `db:"sum_charm_oi"`
	SumVetaOI       float64 `db:"sum_veta_oi"`
	SumSpeedOI      float64 `db:"sum_speed_oi"`
	SumZommaOI      float64 `db:"sum_zomma_oi"`
	SumColorOI      float64 `db:"sum_color_oi"`
	SumUltimaOI     float64 `db:"sum_ultima_oi"`

	SumIVOI              float64 `db:"sum_iv_oi"`
	SumIVOICalls         float64 `db:"sum_iv_oi_calls"`
	SumIVOIPuts          float64 `db:"sum_iv_oi_puts"`
	SumMarkPriceOI       float64 `db:"sum_mark_price_oi"`
	SumIntrinsicOI       float64 `db:"sum_intrinsic_oi"`
	SumTimeValueOI       float64 `db:"sum_time_value_oi"`
	SumBidAskSpreadOI    float64 `db:"sum_bid_ask_spread_oi"`
	SumBidAskSpreadPctOI float64 `db:"sum_bid_ask_spread_pct_oi"`
	SumAbsMispricingOI   float64 `db:"sum_abs_mispricing_oi"`
	SumPINRiskOI         float64 `db:"sum_pin_risk_oi"`
	SumChange24hOI       float64 `db:"sum_change_24h_oi"`
	SumVolumeOIRatioOI   float64 `db:"sum_volume_oi_ratio_oi"`
	SumTurnoverRatioOI   float64 `db:"sum_turnover_ratio_oi"`
	SumDTEOI             float64 `db:"sum_dte_oi"`
	SumLiquidityScore    float64 `db:"sum_liquidity_score"`

	WeightedIV  float64 `db:"weighted_iv"`
	WeightedDTE float64 `db:"weighted_dte"`

	NITMCalls   int     `db:"n_itm_calls"`
	NATMCalls   int     `db:"n_atm_calls"`
	NOTMCalls   int     `db:"n_otm_calls"`
	NITMPuts    int     `db:"n_itm_puts"`
	NATMPuts    int     `db:"n_atm_puts"`
	NOTMPuts    int     `db:"n_otm_puts"`
	OIITMCalls  float64 `db:"oi_itm_calls"`
	OIATMCalls  float64 `db:"oi_atm_calls"`
	OIOTMCalls  float64 `db:"oi_otm_calls"`
	OIITMPuts   float64 `db:"oi_itm_puts"`
	OIATMPuts   float64 `db:"oi_atm_puts"`
	OIOTMPuts   float64 `db:"oi_otm_puts"`

	OIDeepOTMCalls float64 `db:"oi_deep_otm_calls"`
	OIDeepOTMPuts  float64 `db:"oi_deep_otm_puts"`

	NDTE7        int     `db:"n_dte_7d"`
	NDTE30       int     `db:"n_dte_30d"`
	NDTE90       int     `db:"n_dte_90d"`
	NDTE180      int     `db:"n_dte_180d"`
	NDTE180Plus  int     `db:"n_dte_180plus"`
	OIDTE7       float64 `db:"oi_dte_7d"`
	OIDTE30      float64 `db:"oi_dte_30d"`
	OIDTE90      float64 `db:"oi_dte_90d"`
	OIDTE180     float64 `db:"oi_dte_180d"`
	OIDTE180Plus float64 `db:"oi_dte_180plus"`

	// IV statistics are in percent
	AvgIV      float64 `db:"avg_iv"`
	MedianIV   float64 `db:"median_iv"`
	IVStd      float64 `db:"iv_std"`
	IVMin      float64 `db:"iv_min"`
	IVMax      float64 `db:"iv_max"`
	IVRange    float64 `db:"iv_range"`
	AvgIVCalls float64 `db:"avg_iv_calls"`
	AvgIVPuts  float64 `db:"avg_iv_puts"`
	IVSkew     float64 `db:"iv_skew"`

	// Proxies from the mark-price series of the batch, not the underlying
	RealizedVolatility   *float64 `db:"realized_volatility"`
	HistoricalVolatility *float64 `db:"historical_volatility"`

	AggregateEnrichment
}

// Enriched reports whether background enrichment has completed for the row
func (s *AggregateSnapshot) Enriched() bool {
	return s.EnrichedAt != nil
}

// VolatilityObservation is one historical point of the percentile window
type VolatilityObservation struct {
	BatchID              string   `db:"batch_id"`
	CollectionDate       string   `db:"collection_date"`
	CollectionTime       string   `db:"collection_time"`
	AvgIV                float64  `db:"avg_iv"`
	RealizedVolatility   *float64 `db:"realized_volatility"`
	HistoricalVolatility *float64 `db:"historical_volatility"`
}

// StrikeExposure holds the OI and exposure columns shared by strike and expiry roll-ups
type StrikeExposure struct {
	CallOI  float64 `db:"call_oi"`
	PutOI   float64 `db:"put_oi"`
	NetOI   float64 `db:"net_oi"` // call + put
	CallGEX float64 `db:"call_gex"`
	PutGEX  float64 `db:"put_gex"`
	NetGEX  float64 `db:"net_gex"`
	CallDEX float64 `db:"call_dex"`
	PutDEX  float64 `db:"put_dex"`
	NetDEX  float64 `db:"net_dex"`
}

// StrikeAggregate is keyed by (asset, expiry date or CumulativeDate, strike)
type StrikeAggregate struct {
	Asset   string  `db:"asset"`
	Date    string  `db:"date"`
	Strike  float64 `db:"strike"`
	BatchID string  `db:"batch_id"`
	StrikeExposure
}

// ExpiryAggregate is keyed by (asset, expiry date)
type ExpiryAggregate struct {
	Asset         string  `db:"asset"`
	ExpiryDate    string  `db:"expiry_date"`
	BatchID       string  `db:"batch_id"`
	DTE           int     `db:"dte"`
	ContractCount int     `db:"contract_count"`
	CallGamma     float64 `db:"call_gamma"`
	PutGamma      float64 `db:"put_gamma"`
	TotalGamma    float64 `db:"total_gamma"`
	StrikeExposure
}

// ContractExposure is the per-contract GEX/DEX audit row
type ContractExposure struct {
	BatchID        string  `db:"batch_id"`
	Asset          string  `db:"asset"`
	CollectionDate string  `db:"collection_date"`
	CollectionTime string  `db:"collection_time"`
	Symbol         string  `db:"symbol"`
	Spot           float64 `db:"spot"`
	Gamma          float64 `db:"gamma"`
	Delta          float64 `db:"delta"`
	OpenInterest   float64 `db:"open_interest"`
	ContractSize   float64 `db:"contract_size"`
	GEX            float64 `db:"gex"`
	DEX            float64 `db:"dex"`
}

// VolatilityPoint is one smile point of the latest batch
type VolatilityPoint struct {
	Asset      string     `db:"asset"`
	ExpiryDate string     `db:"expiry_date"`
	Strike     float64    `db:"strike"`
	OptionType OptionType `db:"option_type"`
	BatchID    string     `db:"batch_id"`
	IV         float64    `db:"iv"`
	Delta      float64    `db:"delta"`
	Gamma      float64    `db:"gamma"`
	Vega       float64    `db:"vega"`
	Bid        *float64   `db:"bid"`
	Ask        *float64   `db:"ask"`
	Mid        *float64   `db:"mid"`
}
