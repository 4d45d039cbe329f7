package monitor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"nx-tradecore/internal/marketdata"
	"nx-tradecore/internal/model"
	"nx-tradecore/internal/notify"
	"nx-tradecore/internal/positions"
	"nx-tradecore/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Opener opens a leveraged position on behalf of a filled order.
// positions.Service satisfies it.
type Opener interface {
	Open(ctx context.Context, req positions.OpenRequest) (model.Position, error)
}

type Publisher interface {
	Publish(ev marketdata.Event)
}

// Monitor watches the price stream and fills pending limit orders. Pending
// orders are cached in memory so hot-path tick evaluation never touches the
// database; the store is reloaded on startup.
type Monitor struct {
	store    Store
	opener   Opener
	guard    *guardSet
	pub      Publisher
	notifier notify.Notifier

	mu      sync.RWMutex
	pending map[string]map[string]model.LimitOrder // symbol -> order id -> order
}

func New(store Store, opener Opener, pub Publisher, notifier notify.Notifier) *Monitor {
	return &Monitor{
		store:    store,
		opener:   opener,
		guard:    newGuardSet(),
		pub:      pub,
		notifier: notifier,
		pending:  make(map[string]map[string]model.LimitOrder),
	}
}

// Load pulls every pending order into the cache. Called once at startup so
// orders placed before a restart keep being monitored.
func (m *Monitor) Load(ctx context.Context) error {
	orders, err := m.store.ListPending(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = make(map[string]map[string]model.LimitOrder)
	for _, o := range orders {
		m.cacheLocked(o)
	}
	log.Printf("[Monitor] loaded %d pending orders", len(orders))
	return nil
}

type PlaceRequest struct {
	UserID      string
	Symbol      string
	Side        types.Side
	TargetPrice decimal.Decimal
	Quantity    decimal.Decimal
	Leverage    int64
}

func (m *Monitor) Place(ctx context.Context, req PlaceRequest) (model.LimitOrder, error) {
	if req.Side != types.SideLong && req.Side != types.SideShort {
		return model.LimitOrder{}, ErrInvalidSide
	}
	if req.TargetPrice.LessThanOrEqual(decimal.Zero) {
		return model.LimitOrder{}, ErrInvalidTarget
	}
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return model.LimitOrder{}, ErrInvalidQuantity
	}
	if req.Leverage < 1 {
		return model.LimitOrder{}, ErrInvalidLeverage
	}
	now := time.Now().UTC()
	order, err := m.store.Create(ctx, model.LimitOrder{
		UserID:      req.UserID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		TargetPrice: req.TargetPrice,
		Quantity:    req.Quantity,
		Leverage:    req.Leverage,
		Status:      types.OrderStatusPending,
		CreatedAt:   now,
	})
	if err != nil {
		return model.LimitOrder{}, err
	}
	m.mu.Lock()
	m.cacheLocked(order)
	m.mu.Unlock()
	if m.pub != nil {
		m.pub.Publish(marketdata.Event{Type: marketdata.EventOrderPlaced, Data: order})
	}
	return order, nil
}

// Edit rewrites the target price, quantity and leverage of a pending order.
// Orders past PENDING are immutable.
func (m *Monitor) Edit(ctx context.Context, userID, orderID string, target, qty decimal.Decimal, leverage int64) (model.LimitOrder, error) {
	if target.LessThanOrEqual(decimal.Zero) {
		return model.LimitOrder{}, ErrInvalidTarget
	}
	if qty.LessThanOrEqual(decimal.Zero) {
		return model.LimitOrder{}, ErrInvalidQuantity
	}
	if leverage < 1 {
		return model.LimitOrder{}, ErrInvalidLeverage
	}
	if _, err := m.owned(ctx, userID, orderID); err != nil {
		return model.LimitOrder{}, err
	}
	order, err := m.store.UpdatePending(ctx, orderID, target, qty, leverage, time.Now().UTC())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.LimitOrder{}, ErrOrderNotEditable
		}
		return model.LimitOrder{}, err
	}
	m.mu.Lock()
	m.cacheLocked(order)
	m.mu.Unlock()
	return order, nil
}

func (m *Monitor) Cancel(ctx context.Context, userID, orderID string) (model.LimitOrder, error) {
	if _, err := m.owned(ctx, userID, orderID); err != nil {
		return model.LimitOrder{}, err
	}
	order, err := m.store.Cancel(ctx, orderID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.LimitOrder{}, ErrOrderNotCancellable
		}
		return model.LimitOrder{}, err
	}
	m.uncache(order)
	if m.pub != nil {
		m.pub.Publish(marketdata.Event{Type: marketdata.EventOrderCancelled, Data: order})
	}
	return order, nil
}

func (m *Monitor) Get(ctx context.Context, userID, orderID string) (model.LimitOrder, error) {
	return m.owned(ctx, userID, orderID)
}

func (m *Monitor) List(ctx context.Context, userID string, status types.OrderStatus, limit int) ([]model.LimitOrder, error) {
	return m.store.ListByUser(ctx, userID, status, limit)
}

// OnPriceTick evaluates every cached pending order for symbol against the
// validated tick price and fills the ones that crossed their target. Fills
// happen at the tick price, not the target, so a gap through the target fills
// at the better observed price. Safe for concurrent calls: the guard set plus
// the conditional PENDING -> EXECUTING update make each fill happen once.
func (m *Monitor) OnPriceTick(ctx context.Context, symbol string, price decimal.Decimal) {
	if price.LessThanOrEqual(decimal.Zero) {
		return
	}
	m.mu.RLock()
	var due []model.LimitOrder
	for _, o := range m.pending[symbol] {
		if triggered(o, price) {
			due = append(due, o)
		}
	}
	m.mu.RUnlock()
	for _, o := range due {
		m.fill(ctx, o, price)
	}
}

func (m *Monitor) fill(ctx context.Context, o model.LimitOrder, price decimal.Decimal) {
	if !m.guard.tryAcquire(o.ID) {
		return
	}
	defer m.guard.release(o.ID)

	order, err := m.store.MarkExecuting(ctx, o.ID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the race or the order was cancelled; drop it.
			m.uncache(o)
			return
		}
		log.Printf("[Monitor] mark executing %s: %v", o.ID, err)
		return
	}

	pos, err := m.opener.Open(ctx, positions.OpenRequest{
		UserID:     order.UserID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   order.Quantity,
		EntryPrice: price,
		Leverage:   order.Leverage,
		Ref:        order.ID,
	})
	if err != nil {
		log.Printf("[Monitor] fill %s failed, reverting to pending: %v", order.ID, err)
		if revertErr := m.store.RevertPending(ctx, order.ID, time.Now().UTC()); revertErr != nil {
			log.Printf("[Monitor] revert %s: %v", order.ID, revertErr)
		}
		return
	}

	if err := m.store.MarkFilled(ctx, order.ID, pos.ID, time.Now().UTC()); err != nil {
		log.Printf("[Monitor] mark filled %s: %v", order.ID, err)
	}
	m.uncache(order)
	order.Status = types.OrderStatusFilled
	order.PositionID = &pos.ID

	if m.pub != nil {
		m.pub.Publish(marketdata.Event{Type: marketdata.EventOrderFilled, Data: order})
	}
	if m.notifier != nil {
		m.notifier.Notify(ctx, notify.Notification{
			Title:   "Limit order filled",
			Message: "Order " + order.ID + " on " + order.Symbol + " filled at " + price.String(),
			Level:   notify.LevelSuccess,
		})
	}
	log.Printf("[Monitor] order %s filled at %s (target %s)", order.ID, price, order.TargetPrice)
}

// triggered reports whether price crossed the order's target. A long order
// buys the dip (price at or below target); a short sells the rip.
func triggered(o model.LimitOrder, price decimal.Decimal) bool {
	if o.Side == types.SideLong {
		return price.LessThanOrEqual(o.TargetPrice)
	}
	return price.GreaterThanOrEqual(o.TargetPrice)
}

func (m *Monitor) owned(ctx context.Context, userID, orderID string) (model.LimitOrder, error) {
	o, err := m.store.Get(ctx, orderID)
	if err != nil {
		return model.LimitOrder{}, ErrOrderNotFound
	}
	if o.UserID != userID {
		return model.LimitOrder{}, ErrOrderNotFound
	}
	return o, nil
}

func (m *Monitor) cacheLocked(o model.LimitOrder) {
	bySymbol, ok := m.pending[o.Symbol]
	if !ok {
		bySymbol = make(map[string]model.LimitOrder)
		m.pending[o.Symbol] = bySymbol
	}
	bySymbol[o.ID] = o
}

func (m *Monitor) uncache(o model.LimitOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bySymbol, ok := m.pending[o.Symbol]; ok {
		delete(bySymbol, o.ID)
	}
}
