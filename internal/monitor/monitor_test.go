package monitor

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"nx-tradecore/internal/model"
	"nx-tradecore/internal/positions"
	"nx-tradecore/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeOrderStore struct {
	mu     sync.Mutex
	seq    int
	orders map[string]model.LimitOrder
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: make(map[string]model.LimitOrder)}
}

func (f *fakeOrderStore) Create(ctx context.Context, o model.LimitOrder) (model.LimitOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	o.ID = "ord-" + strconv.Itoa(f.seq)
	o.UpdatedAt = o.CreatedAt
	f.orders[o.ID] = o
	return o, nil
}

func (f *fakeOrderStore) Get(ctx context.Context, id string) (model.LimitOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return model.LimitOrder{}, pgx.ErrNoRows
	}
	return o, nil
}

func (f *fakeOrderStore) UpdatePending(ctx context.Context, id string, target, qty decimal.Decimal, leverage int64, updatedAt time.Time) (model.LimitOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok || o.Status != types.OrderStatusPending {
		return model.LimitOrder{}, pgx.ErrNoRows
	}
	o.TargetPrice, o.Quantity, o.Leverage, o.UpdatedAt = target, qty, leverage, updatedAt
	f.orders[id] = o
	return o, nil
}

func (f *fakeOrderStore) MarkExecuting(ctx context.Context, id string, updatedAt time.Time) (model.LimitOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok || o.Status != types.OrderStatusPending {
		return model.LimitOrder{}, pgx.ErrNoRows
	}
	o.Status = types.OrderStatusExecuting
	o.UpdatedAt = updatedAt
	f.orders[id] = o
	return o, nil
}

func (f *fakeOrderStore) MarkFilled(ctx context.Context, id, positionID string, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[id]
	o.Status = types.OrderStatusFilled
	o.PositionID = &positionID
	o.UpdatedAt = updatedAt
	f.orders[id] = o
	return nil
}

func (f *fakeOrderStore) RevertPending(ctx context.Context, id string, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[id]
	o.Status = types.OrderStatusPending
	o.UpdatedAt = updatedAt
	f.orders[id] = o
	return nil
}

func (f *fakeOrderStore) Cancel(ctx context.Context, id string, updatedAt time.Time) (model.LimitOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok || o.Status != types.OrderStatusPending {
		return model.LimitOrder{}, pgx.ErrNoRows
	}
	o.Status = types.OrderStatusCancelled
	o.UpdatedAt = updatedAt
	f.orders[id] = o
	return o, nil
}

func (f *fakeOrderStore) ListPending(ctx context.Context) ([]model.LimitOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.LimitOrder
	for _, o := range f.orders {
		if o.Status == types.OrderStatusPending {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOrderStore) ListByUser(ctx context.Context, userID string, status types.OrderStatus, limit int) ([]model.LimitOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.LimitOrder
	for _, o := range f.orders {
		if o.UserID == userID && (status == "" || o.Status == status) {
			out = append(out, o)
		}
	}
	return out, nil
}

type fakeOpener struct {
	mu    sync.Mutex
	calls []positions.OpenRequest
	fail  int // fail this many calls before succeeding
}

func (f *fakeOpener) Open(ctx context.Context, req positions.OpenRequest) (model.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return model.Position{}, errors.New("balance service down")
	}
	f.calls = append(f.calls, req)
	return model.Position{ID: "pos-" + strconv.Itoa(len(f.calls)), UserID: req.UserID, Symbol: req.Symbol, Status: types.PositionStatusOpen}, nil
}

func (f *fakeOpener) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestMonitor() (*Monitor, *fakeOrderStore, *fakeOpener) {
	store := newFakeOrderStore()
	opener := &fakeOpener{}
	return New(store, opener, nil, nil), store, opener
}

func place(t *testing.T, m *Monitor, side types.Side, target string) model.LimitOrder {
	t.Helper()
	order, err := m.Place(context.Background(), PlaceRequest{
		UserID: "user-1", Symbol: "BTCUSDT", Side: side,
		TargetPrice: d(target), Quantity: d("0.5"), Leverage: 5,
	})
	require.NoError(t, err)
	return order
}

func TestPlaceValidation(t *testing.T) {
	m, _, _ := newTestMonitor()
	ctx := context.Background()
	_, err := m.Place(ctx, PlaceRequest{UserID: "u", Symbol: "BTCUSDT", Side: "sideways", TargetPrice: d("10"), Quantity: d("1"), Leverage: 1})
	assert.ErrorIs(t, err, ErrInvalidSide)
	_, err = m.Place(ctx, PlaceRequest{UserID: "u", Symbol: "BTCUSDT", Side: types.SideLong, TargetPrice: decimal.Zero, Quantity: d("1"), Leverage: 1})
	assert.ErrorIs(t, err, ErrInvalidTarget)
	_, err = m.Place(ctx, PlaceRequest{UserID: "u", Symbol: "BTCUSDT", Side: types.SideLong, TargetPrice: d("10"), Quantity: decimal.Zero, Leverage: 1})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = m.Place(ctx, PlaceRequest{UserID: "u", Symbol: "BTCUSDT", Side: types.SideLong, TargetPrice: d("10"), Quantity: d("1"), Leverage: 0})
	assert.ErrorIs(t, err, ErrInvalidLeverage)
}

func TestTriggerRules(t *testing.T) {
	tests := []struct {
		name   string
		side   types.Side
		target string
		price  string
		want   bool
	}{
		{"long above target", types.SideLong, "95", "96", false},
		{"long at target", types.SideLong, "95", "95", true},
		{"long below target", types.SideLong, "95", "94", true},
		{"short below target", types.SideShort, "105", "104", false},
		{"short at target", types.SideShort, "105", "105", true},
		{"short above target", types.SideShort, "105", "106", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := model.LimitOrder{Side: tt.side, TargetPrice: d(tt.target)}
			assert.Equal(t, tt.want, triggered(o, d(tt.price)))
		})
	}
}

func TestFillAtTickPrice(t *testing.T) {
	m, store, opener := newTestMonitor()
	ctx := context.Background()
	order := place(t, m, types.SideLong, "95")

	// The tick gaps through the target; the fill takes the tick price.
	m.OnPriceTick(ctx, "BTCUSDT", d("94"))

	require.Equal(t, 1, opener.count())
	assert.True(t, opener.calls[0].EntryPrice.Equal(d("94")))
	assert.Equal(t, order.ID, opener.calls[0].Ref)

	got, err := store.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, got.Status)
	require.NotNil(t, got.PositionID)
	assert.Equal(t, "pos-1", *got.PositionID)
}

func TestTickOnOtherSymbolIgnored(t *testing.T) {
	m, store, opener := newTestMonitor()
	ctx := context.Background()
	order := place(t, m, types.SideLong, "95")

	m.OnPriceTick(ctx, "ETHUSDT", d("50"))

	assert.Equal(t, 0, opener.count())
	got, _ := store.Get(ctx, order.ID)
	assert.Equal(t, types.OrderStatusPending, got.Status)
}

func TestConcurrentTicksSingleFill(t *testing.T) {
	m, store, opener := newTestMonitor()
	ctx := context.Background()
	order := place(t, m, types.SideLong, "95")

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.OnPriceTick(ctx, "BTCUSDT", d("94"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, opener.count(), "exactly one fill despite concurrent evaluation")
	got, _ := store.Get(ctx, order.ID)
	assert.Equal(t, types.OrderStatusFilled, got.Status)

	// A later tick must not touch the filled order either.
	m.OnPriceTick(ctx, "BTCUSDT", d("93"))
	assert.Equal(t, 1, opener.count())
}

func TestEditAndCancelGuards(t *testing.T) {
	m, store, _ := newTestMonitor()
	ctx := context.Background()
	order := place(t, m, types.SideLong, "95")

	edited, err := m.Edit(ctx, "user-1", order.ID, d("90"), d("1"), 10)
	require.NoError(t, err)
	assert.True(t, edited.TargetPrice.Equal(d("90")))
	assert.Equal(t, int64(10), edited.Leverage)

	_, err = m.Edit(ctx, "someone-else", order.ID, d("80"), d("1"), 10)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	m.OnPriceTick(ctx, "BTCUSDT", d("89"))
	got, _ := store.Get(ctx, order.ID)
	require.Equal(t, types.OrderStatusFilled, got.Status)

	_, err = m.Edit(ctx, "user-1", order.ID, d("85"), d("1"), 10)
	assert.ErrorIs(t, err, ErrOrderNotEditable)
	_, err = m.Cancel(ctx, "user-1", order.ID)
	assert.ErrorIs(t, err, ErrOrderNotCancellable)
}

func TestCancelStopsMonitoring(t *testing.T) {
	m, store, opener := newTestMonitor()
	ctx := context.Background()
	order := place(t, m, types.SideShort, "105")

	cancelled, err := m.Cancel(ctx, "user-1", order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusCancelled, cancelled.Status)

	m.OnPriceTick(ctx, "BTCUSDT", d("110"))
	assert.Equal(t, 0, opener.count())
	got, _ := store.Get(ctx, order.ID)
	assert.Equal(t, types.OrderStatusCancelled, got.Status)
}

func TestFillFailureRevertsToPending(t *testing.T) {
	m, store, opener := newTestMonitor()
	opener.fail = 1
	ctx := context.Background()
	order := place(t, m, types.SideLong, "95")

	m.OnPriceTick(ctx, "BTCUSDT", d("94"))
	got, _ := store.Get(ctx, order.ID)
	assert.Equal(t, types.OrderStatusPending, got.Status, "failed fill reverts")
	assert.Equal(t, 0, opener.count())

	// Next tick retries and succeeds.
	m.OnPriceTick(ctx, "BTCUSDT", d("94"))
	got, _ = store.Get(ctx, order.ID)
	assert.Equal(t, types.OrderStatusFilled, got.Status)
	assert.Equal(t, 1, opener.count())
}

func TestLoadRestoresPendingOrders(t *testing.T) {
	store := newFakeOrderStore()
	opener := &fakeOpener{}
	ctx := context.Background()
	seeded, err := store.Create(ctx, model.LimitOrder{
		UserID: "user-1", Symbol: "BTCUSDT", Side: types.SideLong,
		TargetPrice: d("95"), Quantity: d("1"), Leverage: 2,
		Status: types.OrderStatusPending, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	m := New(store, opener, nil, nil)
	require.NoError(t, m.Load(ctx))

	m.OnPriceTick(ctx, "BTCUSDT", d("94"))
	got, _ := store.Get(ctx, seeded.ID)
	assert.Equal(t, types.OrderStatusFilled, got.Status)
}
