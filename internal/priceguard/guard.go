// Package priceguard filters incoming ticks against a rolling reference price
// per symbol so that a single bad tick from the feed cannot corrupt PnL or
// trigger resting orders. A suspicious tick is replaced by the last accepted
// price; it is never surfaced as an error.
package priceguard

import (
	"log"
	"sync"

	"github.com/shopspring/decimal"
)

// Major pairs move less in a single tick, so they get the tighter bound.
var majorMaxChange = decimal.NewFromFloat(0.10)

var defaultMaxChange = decimal.NewFromFloat(0.20)

var majors = map[string]struct{}{
	"BTCUSDT": {},
	"ETHUSDT": {},
	"BNBUSDT": {},
	"SOLUSDT": {},
	"XRPUSDT": {},
}

type Guard struct {
	mu        sync.RWMutex
	reference map[string]decimal.Decimal
}

func New() *Guard {
	return &Guard{reference: make(map[string]decimal.Decimal)}
}

// MaxChange returns the maximum allowed relative change for a symbol.
func MaxChange(symbol string) decimal.Decimal {
	if _, ok := majors[symbol]; ok {
		return majorMaxChange
	}
	return defaultMaxChange
}

// Accept validates a tick price against the symbol's reference. The first
// tick for a symbol is always trusted. Within-bound ticks become the new
// reference; out-of-bound ticks leave the reference untouched and the
// previous reference is returned in place of the raw price.
func (g *Guard) Accept(symbol string, price decimal.Decimal) decimal.Decimal {
	if price.LessThanOrEqual(decimal.Zero) {
		g.mu.RLock()
		ref, ok := g.reference[symbol]
		g.mu.RUnlock()
		if ok {
			return ref
		}
		return decimal.Zero
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	ref, ok := g.reference[symbol]
	if !ok {
		g.reference[symbol] = price
		return price
	}
	delta := price.Sub(ref).Abs().Div(ref)
	if delta.GreaterThan(MaxChange(symbol)) {
		log.Printf("[PriceGuard] suspicious tick for %s: got %s, reference %s, using reference", symbol, price.String(), ref.String())
		return ref
	}
	g.reference[symbol] = price
	return price
}

// Reference returns the last accepted price for a symbol.
func (g *Guard) Reference(symbol string) (decimal.Decimal, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ref, ok := g.reference[symbol]
	return ref, ok
}

// Reset clears the reference for a symbol, e.g. after the feed resubscribes
// following a long disconnect.
func (g *Guard) Reset(symbol string) {
	g.mu.Lock()
	delete(g.reference, symbol)
	g.mu.Unlock()
}
