package testsupport

import (
	"fmt"
	"strconv"

	"optionsmetrics/internal/domain/options"
)

// ========================================
// Contract snapshot fixtures
// ========================================

// ContractFixture builds ContractSnapshot values with sane defaults
type ContractFixture struct {
	c options.ContractSnapshot
}

// NewContractFixture creates a liquid at-the-money call on a 100000 underlying
func NewContractFixture() *ContractFixture {
	return &ContractFixture{c: options.ContractSnapshot{
		Symbol:          "BTC-28MAR25-100000-C",
		UnderlyingPrice: 100000,
		MarkPrice:       5000,
		MarkIV:          0.6,
		LastPrice:       4990,
		BidPrice:        4950,
		BidSize:         5,
		BidIV:           0.59,
		AskPrice:        5050,
		AskSize:         4,
		AskIV:           0.61,
		OpenInterest:    100,
		Volume24h:       20,
		Turnover24h:     2000000,
		Delta:           0.55,
		Gamma:           0.00002,
		Vega:            150,
		Theta:           -40,
	}}
}

func (f *ContractFixture) WithSymbol(symbol string) *ContractFixture {
	f.c.Symbol = symbol
	return f
}

// WithOption sets the symbol from asset, expiry code (e.g. "28MAR25"), strike and type
func (f *ContractFixture) WithOption(asset, expiry string, strike float64, typ options.OptionType) *ContractFixture {
	f.c.Symbol = fmt.Sprintf("%s-%s-%s-%s", asset, expiry, strconv.FormatFloat(strike, 'f', -1, 64), typ)
	return f
}

func (f *ContractFixture) WithUnderlying(price float64) *ContractFixture {
	f.c.UnderlyingPrice = price
	return f
}

func (f *ContractFixture) WithMark(price, iv float64) *ContractFixture {
	f.c.MarkPrice = price
	f.c.MarkIV = iv
	return f
}

func (f *ContractFixture) WithQuote(bid, ask float64) *ContractFixture {
	f.c.BidPrice = bid
	f.c.AskPrice = ask
	return f
}

func (f *ContractFixture) WithOpenInterest(oi float64) *ContractFixture {
	f.c.OpenInterest = oi
	return f
}

func (f *ContractFixture) WithVolume(volume float64) *ContractFixture {
	f.c.Volume24h = volume
	return f
}

// Sparse zeroes every field the sparsity check looks at
func (f *ContractFixture) Sparse() *ContractFixture {
	f.c.MarkPrice, f.c.MarkIV = 0, 0
	f.c.BidPrice, f.c.AskPrice, f.c.LastPrice = 0, 0, 0
	f.c.BidIV, f.c.AskIV = 0, 0
	f.c.Delta, f.c.Gamma, f.c.Vega, f.c.Theta = 0, 0, 0, 0
	return f
}

func (f *ContractFixture) Build() options.ContractSnapshot {
	return f.c
}

// ========================================
// Batch fixtures
// ========================================

// BatchFixture builds CollectionBatch values
type BatchFixture struct {
	b options.CollectionBatch
}

// NewBatchFixture creates an empty batch of asset collected 2025-01-01 08:00:00
func NewBatchFixture(asset string) *BatchFixture {
	return &BatchFixture{b: options.CollectionBatch{
		ID:             UniqueBatchID(),
		Asset:          asset,
		SettleCoin:     "USDT",
		CollectionDate: "2025-01-01",
		CollectionTime: "08:00:00",
		SpotPrice:      100000,
		IndexPrice:     100000,
		Instruments:    map[string]options.Instrument{},
	}}
}

func (f *BatchFixture) WithID(id string) *BatchFixture {
	f.b.ID = id
	return f
}

func (f *BatchFixture) WithClock(date, clock string) *BatchFixture {
	f.b.CollectionDate = date
	f.b.CollectionTime = clock
	return f
}

func (f *BatchFixture) WithSpot(spot float64) *BatchFixture {
	f.b.SpotPrice = spot
	f.b.IndexPrice = spot
	return f
}

func (f *BatchFixture) WithContracts(contracts ...options.ContractSnapshot) *BatchFixture {
	for _, c := range contracts {
		c.BatchID = f.b.ID
		f.b.Contracts = append(f.b.Contracts, c)
	}
	return f
}

func (f *BatchFixture) WithInstrument(symbol, deliveryTime string) *BatchFixture {
	f.b.Instruments[symbol] = options.Instrument{Symbol: symbol, DeliveryTime: deliveryTime}
	return f
}

func (f *BatchFixture) Build() *options.CollectionBatch {
	b := f.b
	b.Contracts = append([]options.ContractSnapshot(nil), f.b.Contracts...)
	b.Instruments = make(map[string]options.Instrument, len(f.b.Instruments))
	for k, v := range f.b.Instruments {
		b.Instruments[k] = v
	}
	return &b
}

// Chain builds a call and a put per strike around spot for one expiry code
func Chain(asset, expiry string, spot float64, strikes ...float64) []options.ContractSnapshot {
	out := make([]options.ContractSnapshot, 0, 2*len(strikes))
	for i, k := range strikes {
		for _, typ := range []options.OptionType{options.Call, options.Put} {
			out = append(out, NewContractFixture().
				WithOption(asset, expiry, k, typ).
				WithUnderlying(spot).
				WithMark(spot*0.05, 0.5+0.01*float64(i)).
				WithQuote(spot*0.049, spot*0.051).
				WithOpenInterest(float64(10*(i+1))).
				Build())
		}
	}
	return out
}

// ========================================
// Builder helpers
// ========================================

// BuilderFunc builds the i-th item of a sequence
type BuilderFunc[T any] func(i int) T

// BuildMany builds count items
func BuildMany[T any](builder BuilderFunc[T], count int) []T {
	items := make([]T, count)
	for i := range items {
		items[i] = builder(i)
	}
	return items
}

// BuildManyWith copies base count times, passing each copy through modifier
func BuildManyWith[T any](base T, count int, modifier func(T, int) T) []T {
	items := make([]T, count)
	for i := range items {
		items[i] = modifier(base, i)
	}
	return items
}
