package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"nx-tradecore/internal/marketdata"
	"nx-tradecore/internal/model"
	"nx-tradecore/internal/orderbook"
	"nx-tradecore/internal/priceguard"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// TickSource is the upstream price stream. feed.Feed satisfies it.
type TickSource interface {
	Run(ctx context.Context) error
	Ticks() <-chan model.PriceTick
	Subscribe(symbol string)
	Unsubscribe(symbol string)
}

// Sweeper closes positions that crossed their liquidation price.
// positions.Service satisfies it.
type Sweeper interface {
	Sweep(ctx context.Context, symbol string, mark decimal.Decimal)
}

// Filler evaluates pending limit orders against a validated price.
// monitor.Monitor satisfies it.
type Filler interface {
	OnPriceTick(ctx context.Context, symbol string, price decimal.Decimal)
}

// rebuild the order book when the mark moved this much, even mid-interval
const bookMoveThreshold = 0.001

// Engine routes feed ticks through the price guard and drives everything that
// reacts to a price: liquidation sweeps, limit order fills, order book
// synthesis and the event bus. Each symbol gets its own worker goroutine with
// a dedicated channel, so ticks for one symbol are always processed in arrival
// order while symbols stay independent.
type Engine struct {
	source  TickSource
	guard   *priceguard.Guard
	sweeper Sweeper
	filler  Filler
	bus     *marketdata.Bus
	refresh time.Duration

	mu      sync.Mutex
	workers map[string]chan model.PriceTick
}

func New(source TickSource, guard *priceguard.Guard, sweeper Sweeper, filler Filler, bus *marketdata.Bus, refresh time.Duration) *Engine {
	if refresh <= 0 {
		refresh = 3 * time.Second
	}
	return &Engine{
		source:  source,
		guard:   guard,
		sweeper: sweeper,
		filler:  filler,
		bus:     bus,
		refresh: refresh,
		workers: make(map[string]chan model.PriceTick),
	}
}

// Watch starts streaming and processing a symbol.
func (e *Engine) Watch(symbol string) {
	e.source.Subscribe(symbol)
}

// Unwatch stops streaming a symbol. The worker goroutine is torn down and the
// guard reference is dropped so a stale price is never reused if the symbol
// comes back later.
func (e *Engine) Unwatch(symbol string) {
	e.source.Unsubscribe(symbol)
	e.mu.Lock()
	if ch, ok := e.workers[symbol]; ok {
		delete(e.workers, symbol)
		close(ch)
	}
	e.mu.Unlock()
	e.guard.Reset(symbol)
}

// Run pumps the source until ctx is cancelled. It returns the first source
// error, or ctx.Err() on shutdown.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.source.Run(ctx)
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case tick, ok := <-e.source.Ticks():
				if !ok {
					return nil
				}
				e.dispatch(ctx, g, tick)
			}
		}
	})
	return g.Wait()
}

func (e *Engine) dispatch(ctx context.Context, g *errgroup.Group, tick model.PriceTick) {
	e.mu.Lock()
	ch, ok := e.workers[tick.Symbol]
	if !ok {
		ch = make(chan model.PriceTick, 128)
		e.workers[tick.Symbol] = ch
		symbol := tick.Symbol
		g.Go(func() error {
			e.runSymbol(ctx, symbol, ch)
			return nil
		})
	}
	// Send under the lock so Unwatch cannot close the channel mid-send.
	select {
	case ch <- tick:
	default:
		// Worker is behind; dropping is fine, the next tick supersedes this one.
		log.Printf("[Engine] %s worker backlog, tick dropped", tick.Symbol)
	}
	e.mu.Unlock()
}

func (e *Engine) runSymbol(ctx context.Context, symbol string, ticks <-chan model.PriceTick) {
	var lastBook time.Time
	var lastBookMark float64
	for {
		select {
		case <-ctx.Done():
			return
		case tick, open := <-ticks:
			if !open {
				return
			}
			price := e.guard.Accept(symbol, tick.Price)
			if price.LessThanOrEqual(decimal.Zero) {
				continue
			}
			// Liquidations settle before order fills so a fill never opens
			// into a price that should have liquidated it in the same tick.
			e.sweeper.Sweep(ctx, symbol, price)
			e.filler.OnPriceTick(ctx, symbol, price)
			if e.bus != nil {
				e.bus.Publish(marketdata.Event{Type: marketdata.EventTick, Data: model.PriceTick{Symbol: symbol, Price: price, Timestamp: tick.Timestamp}})
			}

			mark, _ := price.Float64()
			moved := lastBookMark > 0 && abs(mark-lastBookMark)/lastBookMark > bookMoveThreshold
			if time.Since(lastBook) >= e.refresh || moved {
				book := orderbook.Synthesize(symbol, mark, tick.Timestamp)
				lastBook = time.Now()
				lastBookMark = mark
				if e.bus != nil {
					e.bus.Publish(marketdata.Event{Type: marketdata.EventOrderBook, Data: book})
				}
			}
		}
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
