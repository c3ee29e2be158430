// Package dev generates synthetic option chains for local development.
package dev

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"optionsmetrics/internal/domain/options"
	"optionsmetrics/pkg/errors"
	"optionsmetrics/pkg/logger"
)

// ChainConfig shapes one synthetic chain
type ChainConfig struct {
	Asset      string
	Spot       float64
	StrikeStep float64 // strike spacing as a fraction of spot
	Strikes    int     // strikes on each side of spot
	Expiries   []int   // days to expiry
	BaseIV     float64 // decimal
	Drift      float64 // per-batch spot volatility of the random walk
}

var defaultSpots = map[string]float64{
	"BTC":  100000,
	"ETH":  3500,
	"SOL":  180,
	"XRP":  2.5,
	"DOGE": 0.3,
	"MNT":  1,
}

// DefaultChain returns a chain config for asset; unknown assets start at 100
func DefaultChain(asset string) ChainConfig {
	asset = strings.ToUpper(asset)
	spot, ok := defaultSpots[asset]
	if !ok {
		spot = 100
	}
	return ChainConfig{
		Asset:      asset,
		Spot:       spot,
		StrikeStep: 0.05,
		Strikes:    6,
		Expiries:   []int{1, 7, 30, 90},
		BaseIV:     0.55,
		Drift:      0.01,
	}
}

// Generator produces successive batches of one asset as a random walk
type Generator struct {
	cfg  ChainConfig
	spot float64
	iv   float64
	rng  *rand.Rand
}

// NewGenerator creates a generator; equal seeds give equal sequences
func NewGenerator(cfg ChainConfig, seed uint64) *Generator {
	return &Generator{
		cfg:  cfg,
		spot: cfg.Spot,
		iv:   cfg.BaseIV,
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Next advances the walk and returns the batch collected at at
func (g *Generator) Next(at time.Time) *options.CollectionBatch {
	g.spot *= math.Exp(g.cfg.Drift * g.rng.NormFloat64())
	g.iv = math.Max(0.05, g.iv*math.Exp(0.05*g.rng.NormFloat64()))

	at = at.UTC()
	batch := &options.CollectionBatch{
		ID:             uuid.NewString(),
		Asset:          g.cfg.Asset,
		SettleCoin:     "USDT",
		CollectionDate: at.Format(options.DateLayout),
		CollectionTime: at.Format(options.TimeLayout),
		SpotPrice:      g.spot,
		IndexPrice:     g.spot,
		Instruments:    map[string]options.Instrument{},
	}

	step := niceStep(g.cfg.Spot * g.cfg.StrikeStep)
	atm := math.Round(g.spot/step) * step
	for _, days := range g.cfg.Expiries {
		expiry := at.AddDate(0, 0, days).Truncate(24 * time.Hour).Add(8 * time.Hour)
		code := strings.ToUpper(expiry.Format("2Jan06"))
		T := expiry.Sub(at).Hours() / 24 / 365
		for i := -g.cfg.Strikes; i <= g.cfg.Strikes; i++ {
			strike := atm + float64(i)*step
			if strike <= 0 {
				continue
			}
			for _, typ := range []options.OptionType{options.Call, options.Put} {
				c := g.contract(code, strike, typ, T)
				c.BatchID = batch.ID
				batch.Contracts = append(batch.Contracts, c)
				batch.Instruments[c.Symbol] = options.Instrument{
					Symbol:       c.Symbol,
					DeliveryTime: strconv.FormatInt(expiry.UnixMilli(), 10),
				}
			}
		}
	}
	return batch
}

func (g *Generator) contract(code string, strike float64, typ options.OptionType, T float64) options.ContractSnapshot {
	m := math.Log(strike / g.spot)
	iv := g.iv * (1 + 0.8*m*m) * (1 + 0.02*g.rng.NormFloat64())

	intrinsic := math.Max(g.spot-strike, 0)
	if typ == options.Put {
		intrinsic = math.Max(strike-g.spot, 0)
	}
	timeValue := 0.4 * g.spot * iv * math.Sqrt(math.Max(T, 1.0/365)) * math.Exp(-m*m/(2*iv*iv*math.Max(T, 1.0/365)))
	mark := intrinsic + timeValue
	spread := math.Max(mark*0.02, g.spot*1e-5)

	delta := 0.5 - m/(2*iv)
	if typ == options.Put {
		delta -= 1
	}

	oi := math.Round(200 * math.Exp(-8*m*m) * (0.5 + g.rng.Float64()))
	volume := math.Round(oi * 0.2 * g.rng.Float64())

	return options.ContractSnapshot{
		Symbol:          fmt.Sprintf("%s-%s-%s-%s", g.cfg.Asset, code, strconv.FormatFloat(strike, 'f', -1, 64), typ),
		UnderlyingPrice: g.spot,
		MarkPrice:       mark,
		MarkIV:          iv,
		LastPrice:       mark,
		BidPrice:        math.Max(mark-spread, 0),
		BidSize:         math.Round(10 * g.rng.Float64()),
		BidIV:           iv * 0.98,
		AskPrice:        mark + spread,
		AskSize:         math.Round(10 * g.rng.Float64()),
		AskIV:           iv * 1.02,
		OpenInterest:    oi,
		Volume24h:       volume,
		Turnover24h:     volume * mark,
		Delta:           math.Max(-1, math.Min(1, delta)),
		Gamma:           1 / (g.spot * iv * math.Sqrt(math.Max(T, 1.0/365)) * 2.5),
		Vega:            g.spot * math.Sqrt(math.Max(T, 1.0/365)) * 0.004,
		Theta:           -timeValue / math.Max(T*365, 1),
	}
}

// niceStep rounds v to 1, 2 or 5 times a power of ten
func niceStep(v float64) float64 {
	if v <= 0 {
		return 1
	}
	mag := math.Pow(10, math.Floor(math.Log10(v)))
	switch r := v / mag; {
	case r < 1.5:
		return mag
	case r < 3.5:
		return 2 * mag
	case r < 7.5:
		return 5 * mag
	default:
		return 10 * mag
	}
}

// BatchWriter stores one collected batch
type BatchWriter interface {
	SaveBatch(ctx context.Context, batch *options.CollectionBatch) error
}

// SeedHistory writes count batches of asset spaced by step and ending at end.
// onSaved, when set, runs after each stored batch.
func SeedHistory(ctx context.Context, repo BatchWriter, cfg ChainConfig, seed uint64, count int, step time.Duration, end time.Time, onSaved func(*options.CollectionBatch) error) error {
	log := logger.Get().With("component", "seeder", "asset", cfg.Asset)
	gen := NewGenerator(cfg, seed)
	start := end.Add(-time.Duration(count-1) * step)

	for i := 0; i < count; i++ {
		batch := gen.Next(start.Add(time.Duration(i) * step))
		if err := repo.SaveBatch(ctx, batch); err != nil {
			return errors.Wrapf(err, "save batch %d of %s", i+1, cfg.Asset)
		}
		if onSaved != nil {
			if err := onSaved(batch); err != nil {
				return err
			}
		}
		log.Debug("batch seeded", "batch_id", batch.ID, "collected_at", batch.CollectionDate+" "+batch.CollectionTime, "contracts", len(batch.Contracts))
	}

	log.Info("history seeded", "batches", count)
	return nil
}
