package positions

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"nx-tradecore/internal/ledger"
	"nx-tradecore/internal/model"
	"nx-tradecore/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu         sync.Mutex
	seq        int
	positions  map[string]model.Position
	failFinish int
}

func newFakeStore() *fakeStore {
	return &fakeStore{positions: make(map[string]model.Position)}
}

func (f *fakeStore) Create(ctx context.Context, p model.Position) (model.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	p.ID = "pos-" + strconv.Itoa(f.seq)
	f.positions[p.ID] = p
	return p, nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (model.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[id]
	if !ok {
		return model.Position{}, pgx.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) BeginClose(ctx context.Context, id string) (model.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[id]
	if !ok || p.Status != types.PositionStatusOpen {
		return model.Position{}, pgx.ErrNoRows
	}
	p.Status = types.PositionStatusClosing
	f.positions[id] = p
	return p, nil
}

func (f *fakeStore) Reopen(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.positions[id]
	p.Status = types.PositionStatusOpen
	f.positions[id] = p
	return nil
}

func (f *fakeStore) FinishClose(ctx context.Context, id string, exitPrice, pnl decimal.Decimal, reason types.CloseReason, closedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFinish > 0 {
		f.failFinish--
		return errors.New("finish close: connection reset")
	}
	p := f.positions[id]
	p.Status = types.PositionStatusClosed
	p.ExitPrice = &exitPrice
	p.RealizedPnL = &pnl
	p.CloseReason = reason
	p.ClosedAt = &closedAt
	f.positions[id] = p
	return nil
}

func (f *fakeStore) ListOpenBySymbol(ctx context.Context, symbol string) ([]model.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Position
	for _, p := range f.positions {
		if p.Symbol == symbol && p.Status == types.PositionStatusOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) ListByUser(ctx context.Context, userID string, status types.PositionStatus, limit int) ([]model.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Position
	for _, p := range f.positions {
		if p.UserID == userID && (status == "" || p.Status == status) {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeBalances struct {
	mu       sync.Mutex
	amounts  map[string]decimal.Decimal
	debitErr error
}

func newFakeBalances(userID string, amount string) *fakeBalances {
	return &fakeBalances{amounts: map[string]decimal.Decimal{userID: d(amount)}}
}

func (f *fakeBalances) Available(ctx context.Context, userID, asset string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.amounts[userID], nil
}

func (f *fakeBalances) Debit(ctx context.Context, userID, asset string, amount decimal.Decimal, entryType types.LedgerEntryType, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.debitErr != nil {
		return f.debitErr
	}
	f.amounts[userID] = f.amounts[userID].Sub(amount)
	return nil
}

func (f *fakeBalances) Credit(ctx context.Context, userID, asset string, amount decimal.Decimal, entryType types.LedgerEntryType, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.amounts[userID] = f.amounts[userID].Add(amount)
	return nil
}

func newTestService(balance string) (*Service, *fakeStore, *fakeBalances) {
	store := newFakeStore()
	balances := newFakeBalances("user-1", balance)
	svc := NewService(store, balances, nil, nil, "USDT")
	return svc, store, balances
}

func TestOpenComputesMargin(t *testing.T) {
	svc, _, balances := newTestService("1000")
	pos, err := svc.Open(context.Background(), OpenRequest{
		UserID: "user-1", Symbol: "BTCUSDT", Side: types.SideLong,
		Quantity: d("0.1"), EntryPrice: d("50000"), Leverage: 10,
	})
	require.NoError(t, err)
	assert.True(t, pos.Margin.Equal(d("500")), "margin = qty*entry/leverage")
	assert.Equal(t, types.PositionStatusOpen, pos.Status)

	remaining, _ := balances.Available(context.Background(), "user-1", "USDT")
	assert.True(t, remaining.Equal(d("500")), "margin debited from balance")
}

func TestOpenInsufficientMargin(t *testing.T) {
	svc, _, balances := newTestService("100")
	_, err := svc.Open(context.Background(), OpenRequest{
		UserID: "user-1", Symbol: "BTCUSDT", Side: types.SideLong,
		Quantity: d("0.1"), EntryPrice: d("50000"), Leverage: 10,
	})
	assert.ErrorIs(t, err, ErrInsufficientMargin)

	remaining, _ := balances.Available(context.Background(), "user-1", "USDT")
	assert.True(t, remaining.Equal(d("100")), "failed open must not touch the balance")
}

func TestOpenValidation(t *testing.T) {
	svc, _, _ := newTestService("1000")
	_, err := svc.Open(context.Background(), OpenRequest{UserID: "user-1", Symbol: "BTCUSDT", Side: types.SideLong, Quantity: d("1"), EntryPrice: d("10"), Leverage: 0})
	assert.ErrorIs(t, err, ErrInvalidLeverage)
	_, err = svc.Open(context.Background(), OpenRequest{UserID: "user-1", Symbol: "BTCUSDT", Side: types.SideLong, Quantity: decimal.Zero, EntryPrice: d("10"), Leverage: 1})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = svc.Open(context.Background(), OpenRequest{UserID: "user-1", Symbol: "BTCUSDT", Side: types.SideLong, Quantity: d("1"), EntryPrice: decimal.Zero, Leverage: 1})
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestCloseSettlesPnL(t *testing.T) {
	svc, _, balances := newTestService("1000")
	ctx := context.Background()
	pos, err := svc.Open(ctx, OpenRequest{
		UserID: "user-1", Symbol: "BTCUSDT", Side: types.SideLong,
		Quantity: d("5"), EntryPrice: d("100"), Leverage: 10,
	})
	require.NoError(t, err) // margin 50, balance now 950

	closed, err := svc.Close(ctx, "user-1", pos.ID, d("105"), types.CloseReasonManual)
	require.NoError(t, err)
	require.NotNil(t, closed.RealizedPnL)
	assert.True(t, closed.RealizedPnL.Equal(d("25")), "margin 50 * 5%% * 10x = 25")
	assert.Equal(t, types.PositionStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)

	remaining, _ := balances.Available(ctx, "user-1", "USDT")
	assert.True(t, remaining.Equal(d("1025")), "balance + margin + pnl")
}

func TestCloseLossCappedAtMargin(t *testing.T) {
	svc, _, balances := newTestService("1000")
	ctx := context.Background()
	pos, err := svc.Open(ctx, OpenRequest{
		UserID: "user-1", Symbol: "BTCUSDT", Side: types.SideLong,
		Quantity: d("5"), EntryPrice: d("100"), Leverage: 10,
	})
	require.NoError(t, err)

	// Exit far past the liquidation price; loss is capped at the margin.
	closed, err := svc.Close(ctx, "user-1", pos.ID, d("50"), types.CloseReasonManual)
	require.NoError(t, err)
	assert.True(t, closed.RealizedPnL.Equal(d("-50")))

	remaining, _ := balances.Available(ctx, "user-1", "USDT")
	assert.True(t, remaining.Equal(d("950")), "no payout, and no debt either")
}

func TestOpenDebitRaceMapsToInsufficientMargin(t *testing.T) {
	svc, _, balances := newTestService("1000")
	// The pre-check passes, then a concurrent open drains the balance and the
	// authoritative debit rejects.
	balances.debitErr = ledger.ErrInsufficientBalance
	_, err := svc.Open(context.Background(), OpenRequest{
		UserID: "user-1", Symbol: "BTCUSDT", Side: types.SideLong,
		Quantity: d("0.1"), EntryPrice: d("50000"), Leverage: 10,
	})
	assert.ErrorIs(t, err, ErrInsufficientMargin)

	remaining, _ := balances.Available(context.Background(), "user-1", "USDT")
	assert.True(t, remaining.Equal(d("1000")), "failed open must not touch the balance")
}

func TestCloseFinalizeFailureRollsBack(t *testing.T) {
	svc, store, balances := newTestService("1000")
	ctx := context.Background()
	pos, err := svc.Open(ctx, OpenRequest{
		UserID: "user-1", Symbol: "BTCUSDT", Side: types.SideLong,
		Quantity: d("5"), EntryPrice: d("100"), Leverage: 10,
	})
	require.NoError(t, err) // margin 50, balance now 950

	store.failFinish = 1
	_, err = svc.Close(ctx, "user-1", pos.ID, d("105"), types.CloseReasonManual)
	require.Error(t, err)

	p, getErr := store.Get(ctx, pos.ID)
	require.NoError(t, getErr)
	assert.Equal(t, types.PositionStatusOpen, p.Status, "position reopened, not stranded in CLOSING")

	remaining, _ := balances.Available(ctx, "user-1", "USDT")
	assert.True(t, remaining.Equal(d("950")), "payout reversed after the finalize failure")

	// The close is retryable once the store recovers.
	closed, err := svc.Close(ctx, "user-1", pos.ID, d("105"), types.CloseReasonManual)
	require.NoError(t, err)
	assert.Equal(t, types.PositionStatusClosed, closed.Status)

	remaining, _ = balances.Available(ctx, "user-1", "USDT")
	assert.True(t, remaining.Equal(d("1025")), "settlement credited exactly once")
}

func TestCloseGuards(t *testing.T) {
	svc, _, _ := newTestService("1000")
	ctx := context.Background()
	pos, err := svc.Open(ctx, OpenRequest{
		UserID: "user-1", Symbol: "BTCUSDT", Side: types.SideShort,
		Quantity: d("1"), EntryPrice: d("100"), Leverage: 5,
	})
	require.NoError(t, err)

	_, err = svc.Close(ctx, "user-1", "missing", d("90"), types.CloseReasonManual)
	assert.ErrorIs(t, err, ErrPositionNotFound)

	_, err = svc.Close(ctx, "someone-else", pos.ID, d("90"), types.CloseReasonManual)
	assert.ErrorIs(t, err, ErrPositionNotFound)

	_, err = svc.Close(ctx, "user-1", pos.ID, d("90"), types.CloseReasonManual)
	require.NoError(t, err)

	_, err = svc.Close(ctx, "user-1", pos.ID, d("90"), types.CloseReasonManual)
	assert.ErrorIs(t, err, ErrAlreadyClosed)
}

func TestCloseConcurrentSingleSettlement(t *testing.T) {
	svc, _, balances := newTestService("1000")
	ctx := context.Background()
	pos, err := svc.Open(ctx, OpenRequest{
		UserID: "user-1", Symbol: "BTCUSDT", Side: types.SideLong,
		Quantity: d("5"), EntryPrice: d("100"), Leverage: 10,
	})
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	successes := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Close(ctx, "user-1", pos.ID, d("105"), types.CloseReasonManual); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)
	count := 0
	for range successes {
		count++
	}
	assert.Equal(t, 1, count, "exactly one close settles")

	remaining, _ := balances.Available(ctx, "user-1", "USDT")
	assert.True(t, remaining.Equal(d("1025")), "settlement credited exactly once")
}

func TestSweepLiquidates(t *testing.T) {
	svc, store, balances := newTestService("1000")
	ctx := context.Background()
	pos, err := svc.Open(ctx, OpenRequest{
		UserID: "user-1", Symbol: "BTCUSDT", Side: types.SideLong,
		Quantity: d("5"), EntryPrice: d("100"), Leverage: 10,
	})
	require.NoError(t, err) // liquidation at 90

	svc.Sweep(ctx, "BTCUSDT", d("95"))
	p, _ := store.Get(ctx, pos.ID)
	assert.Equal(t, types.PositionStatusOpen, p.Status, "above liquidation price, untouched")

	svc.Sweep(ctx, "BTCUSDT", d("89"))
	p, _ = store.Get(ctx, pos.ID)
	assert.Equal(t, types.PositionStatusClosed, p.Status)
	assert.Equal(t, types.CloseReasonLiquidated, p.CloseReason)
	require.NotNil(t, p.ExitPrice)
	assert.True(t, p.ExitPrice.Equal(d("90")), "liquidation fills at the liquidation price")
	assert.True(t, p.RealizedPnL.Equal(d("-50")), "loss equals margin")

	remaining, _ := balances.Available(ctx, "user-1", "USDT")
	assert.True(t, remaining.Equal(d("950")), "margin fully consumed")
}
