// Package orderbook generates a synthetic depth book around a mark price.
// The book is not real liquidity: levels are regenerated wholesale on every
// call so the synthesizer can later be swapped for a real depth feed without
// touching the position or order components.
package orderbook

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Total    decimal.Decimal `json:"total"`
}

type Book struct {
	Symbol    string          `json:"symbol"`
	Bids      []Level         `json:"bids"`
	Asks      []Level         `json:"asks"`
	MarkPrice decimal.Decimal `json:"mark_price"`
}

// tier scales step, spread and level sizing with price magnitude so that
// nominal order sizes stay visually stable across asset classes.
type tier struct {
	minPrice   float64
	stepPct    float64
	spreadPct  float64
	levels     int
	notionalLo float64
	notionalHi float64
}

var tiers = []tier{
	{minPrice: 1000, stepPct: 0.001, spreadPct: 0.0005, levels: 20, notionalLo: 2000, notionalHi: 50000},
	{minPrice: 1, stepPct: 0.002, spreadPct: 0.0006, levels: 16, notionalLo: 500, notionalHi: 20000},
	{minPrice: 0.01, stepPct: 0.005, spreadPct: 0.0008, levels: 12, notionalLo: 100, notionalHi: 5000},
	{minPrice: 0, stepPct: 0.01, spreadPct: 0.001, levels: 10, notionalLo: 1, notionalHi: 20},
}

const (
	minLevels = 8
	maxLevels = 25
)

func tierFor(price float64) tier {
	for _, t := range tiers {
		if price >= t.minPrice {
			return t
		}
	}
	return tiers[len(tiers)-1]
}

// Synthesize builds a full book for the given mark price. It is a pure
// function of (markPrice, seed); the same inputs always produce the same
// book, which keeps it testable despite the jitter.
func Synthesize(symbol string, markPrice float64, seed int64) Book {
	if markPrice <= 0 || math.IsNaN(markPrice) || math.IsInf(markPrice, 0) {
		markPrice = 1
	}
	t := tierFor(markPrice)
	prec := priceDecimals(markPrice)

	spread := markPrice * t.spreadPct * (0.75 + 0.5*rand01(seed+3))
	askStart := markPrice + spread/2
	bidStart := markPrice - spread/2
	step := markPrice * t.stepPct

	bidCount := levelCount(t.levels, seed+101)
	askCount := levelCount(t.levels, seed+211)

	// Additive jitter keeps adjacent level spacing within [0.7, 1.3] steps,
	// so the book stays monotonic before sorting.
	bids := make([]Level, 0, bidCount)
	for i := 0; i < bidCount; i++ {
		offset := (float64(i) + 0.3*rand01(seed+int64(i)*7+13)) * step
		price := bidStart - offset
		if price <= 0 {
			break
		}
		bids = append(bids, makeLevel(price, prec, t, seed+int64(i)*31+17))
	}
	asks := make([]Level, 0, askCount)
	for i := 0; i < askCount; i++ {
		offset := (float64(i) + 0.3*rand01(seed+int64(i)*11+19)) * step
		asks = append(asks, makeLevel(askStart+offset, prec, t, seed+int64(i)*37+23))
	}

	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })

	return Book{
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		MarkPrice: decimal.NewFromFloat(markPrice),
	}
}

func makeLevel(price float64, prec int32, t tier, seed int64) Level {
	notional := t.notionalLo + (t.notionalHi-t.notionalLo)*rand01(seed)
	qty := notional / price
	p := decimal.NewFromFloat(price).Round(prec)
	q := decimal.NewFromFloat(qty).Round(qtyDecimals(price))
	return Level{Price: p, Quantity: q, Total: p.Mul(q)}
}

func levelCount(base int, seed int64) int {
	n := base + int(rand01(seed)*10) - 5
	if n < minLevels {
		n = minLevels
	}
	if n > maxLevels {
		n = maxLevels
	}
	return n
}

func priceDecimals(price float64) int32 {
	switch {
	case price >= 1000:
		return 2
	case price >= 1:
		return 4
	case price >= 0.01:
		return 6
	}
	// Sub-cent precision scales with magnitude: enough digits to resolve the
	// tightest half-spread so rounding never collapses levels onto the mark.
	return int32(math.Ceil(-math.Log10(price))) + 4
}

func qtyDecimals(price float64) int32 {
	switch {
	case price >= 1000:
		return 5
	case price >= 1:
		return 3
	default:
		return 0
	}
}

func rand01(seed int64) float64 {
	x := uint64(seed)*2654435761 + 1
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	return float64(x%1000000)/1000000 + 0.000001
}
