// Package positions owns the leveraged position lifecycle: open with margin
// reservation, mark-to-market, close with settlement, and forced liquidation.
package positions

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"nx-tradecore/internal/ledger"
	"nx-tradecore/internal/marketdata"
	"nx-tradecore/internal/model"
	"nx-tradecore/internal/notify"
	"nx-tradecore/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Balances is the external balance collaborator. Implemented by the ledger
// service in production and by a fake in tests.
type Balances interface {
	Available(ctx context.Context, userID, asset string) (decimal.Decimal, error)
	Debit(ctx context.Context, userID, asset string, amount decimal.Decimal, entryType types.LedgerEntryType, ref string) error
	Credit(ctx context.Context, userID, asset string, amount decimal.Decimal, entryType types.LedgerEntryType, ref string) error
}

type Publisher interface {
	Publish(evt marketdata.Event)
}

type Service struct {
	store    Store
	balances Balances
	notifier notify.Notifier
	pub      Publisher
	asset    string
}

func NewService(store Store, balances Balances, notifier notify.Notifier, pub Publisher, quoteAsset string) *Service {
	if quoteAsset == "" {
		quoteAsset = "USDT"
	}
	return &Service{store: store, balances: balances, notifier: notifier, pub: pub, asset: quoteAsset}
}

type OpenRequest struct {
	UserID     string
	Symbol     string
	Side       types.Side
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	Leverage   int64
	Ref        string
}

// Open validates the request, reserves margin from the user's balance and
// creates an OPEN position. Margin = quantity * entry / leverage, fixed for
// the life of the position.
func (s *Service) Open(ctx context.Context, req OpenRequest) (model.Position, error) {
	if req.Leverage < 1 {
		return model.Position{}, ErrInvalidLeverage
	}
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return model.Position{}, ErrInvalidQuantity
	}
	if req.EntryPrice.LessThanOrEqual(decimal.Zero) {
		return model.Position{}, ErrInvalidPrice
	}
	if req.Side != types.SideLong && req.Side != types.SideShort {
		return model.Position{}, errors.New("invalid side")
	}
	margin := req.Quantity.Mul(req.EntryPrice).Div(decimal.NewFromInt(req.Leverage))

	available, err := s.balances.Available(ctx, req.UserID, s.asset)
	if err != nil {
		return model.Position{}, fmt.Errorf("balance lookup: %w", err)
	}
	if available.LessThan(margin) {
		return model.Position{}, ErrInsufficientMargin
	}
	if err := s.balances.Debit(ctx, req.UserID, s.asset, margin, types.LedgerEntryTypeMargin, req.Ref); err != nil {
		// The pre-check races with concurrent opens; the debit is the
		// authoritative balance check.
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return model.Position{}, ErrInsufficientMargin
		}
		return model.Position{}, fmt.Errorf("margin debit: %w", err)
	}

	pos := model.Position{
		UserID:     req.UserID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		EntryPrice: req.EntryPrice,
		Quantity:   req.Quantity,
		Leverage:   req.Leverage,
		Margin:     margin,
		Status:     types.PositionStatusOpen,
		OpenedAt:   time.Now().UTC(),
	}
	created, err := s.store.Create(ctx, pos)
	if err != nil {
		// Margin was already taken; give it back before failing.
		if refundErr := s.balances.Credit(ctx, req.UserID, s.asset, margin, types.LedgerEntryTypeSettlement, req.Ref); refundErr != nil {
			log.Printf("[Positions] margin refund failed for user %s: %v", req.UserID, refundErr)
		}
		return model.Position{}, fmt.Errorf("persist position: %w", err)
	}
	if s.pub != nil {
		s.pub.Publish(marketdata.Event{Type: marketdata.EventPositionOpened, Data: created})
	}
	return created, nil
}

// MarkToMarket returns the unrealized PnL of a position at the given price.
func (s *Service) MarkToMarket(p model.Position, mark decimal.Decimal) decimal.Decimal {
	return UnrealizedPnL(p.Side, p.EntryPrice, mark, p.Margin, p.Leverage)
}

// Close settles a position at exitPrice. The OPEN -> CLOSING transition is a
// conditional update, so two concurrent close requests cannot both settle.
// userID may be empty for system-initiated closes (liquidation).
func (s *Service) Close(ctx context.Context, userID, positionID string, exitPrice decimal.Decimal, reason types.CloseReason) (model.Position, error) {
	if exitPrice.LessThanOrEqual(decimal.Zero) {
		return model.Position{}, ErrInvalidPrice
	}
	pos, err := s.store.BeginClose(ctx, positionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			existing, getErr := s.store.Get(ctx, positionID)
			if getErr != nil {
				return model.Position{}, ErrPositionNotFound
			}
			if userID != "" && existing.UserID != userID {
				return model.Position{}, ErrPositionNotFound
			}
			return model.Position{}, ErrAlreadyClosed
		}
		return model.Position{}, err
	}
	if userID != "" && pos.UserID != userID {
		if reopenErr := s.store.Reopen(ctx, pos.ID); reopenErr != nil {
			log.Printf("[Positions] reopen after ownership check failed for %s: %v", pos.ID, reopenErr)
		}
		return model.Position{}, ErrPositionNotFound
	}

	pnl := UnrealizedPnL(pos.Side, pos.EntryPrice, exitPrice, pos.Margin, pos.Leverage)
	// Loss never exceeds the margin: that is the liquidation contract.
	if pnl.LessThan(pos.Margin.Neg()) {
		pnl = pos.Margin.Neg()
	}
	payout := pos.Margin.Add(pnl)
	entryType := types.LedgerEntryTypeSettlement
	if reason == types.CloseReasonLiquidated {
		entryType = types.LedgerEntryTypeLiquidation
	}
	if payout.GreaterThan(decimal.Zero) {
		if err := s.balances.Credit(ctx, pos.UserID, s.asset, payout, entryType, pos.ID); err != nil {
			if reopenErr := s.store.Reopen(ctx, pos.ID); reopenErr != nil {
				log.Printf("[Positions] reopen after settlement failure failed for %s: %v", pos.ID, reopenErr)
			}
			return model.Position{}, fmt.Errorf("settlement credit: %w", err)
		}
	}
	closedAt := time.Now().UTC()
	if err := s.store.FinishClose(ctx, pos.ID, exitPrice, pnl, reason, closedAt); err != nil {
		// The payout already landed; reverse it and reopen, otherwise the
		// position is stranded in CLOSING with settled funds.
		if payout.GreaterThan(decimal.Zero) {
			if debitErr := s.balances.Debit(ctx, pos.UserID, s.asset, payout, entryType, pos.ID); debitErr != nil {
				log.Printf("[Positions] CRITICAL: close of %s not finalized (%v) and payout reversal failed (%v), manual reconciliation required", pos.ID, err, debitErr)
				return model.Position{}, fmt.Errorf("finalize close: %w", err)
			}
		}
		if reopenErr := s.store.Reopen(ctx, pos.ID); reopenErr != nil {
			log.Printf("[Positions] reopen after finalize failure failed for %s: %v", pos.ID, reopenErr)
		}
		return model.Position{}, fmt.Errorf("finalize close: %w", err)
	}
	pos.Status = types.PositionStatusClosed
	pos.ExitPrice = &exitPrice
	pos.RealizedPnL = &pnl
	pos.CloseReason = reason
	pos.ClosedAt = &closedAt

	if s.pub != nil {
		s.pub.Publish(marketdata.Event{Type: marketdata.EventPositionClosed, Data: pos})
	}
	if s.notifier != nil {
		level := notify.LevelInfo
		title := "Position closed"
		if reason == types.CloseReasonLiquidated {
			level = notify.LevelWarning
			title = "Position liquidated"
		}
		s.notifier.Notify(ctx, notify.Notification{
			Title:   title,
			Message: fmt.Sprintf("%s %s %s @ %s, pnl %s", pos.Side, pos.Quantity, pos.Symbol, exitPrice, pnl),
			Level:   level,
		})
	}
	return pos, nil
}

// Sweep force-closes every open position on the symbol whose liquidation
// threshold is at or through the mark price. Called on each accepted tick.
func (s *Service) Sweep(ctx context.Context, symbol string, mark decimal.Decimal) {
	if mark.LessThanOrEqual(decimal.Zero) {
		return
	}
	open, err := s.store.ListOpenBySymbol(ctx, symbol)
	if err != nil {
		log.Printf("[Positions] liquidation sweep list failed for %s: %v", symbol, err)
		return
	}
	for _, p := range open {
		if !Liquidated(p.Side, p.EntryPrice, mark, p.Leverage) {
			continue
		}
		liq := LiquidationPrice(p.Side, p.EntryPrice, p.Leverage)
		if _, err := s.Close(ctx, "", p.ID, liq, types.CloseReasonLiquidated); err != nil {
			// A concurrent manual close is fine; anything else is logged.
			if !errors.Is(err, ErrAlreadyClosed) {
				log.Printf("[Positions] liquidation of %s failed: %v", p.ID, err)
			}
		}
	}
}

func (s *Service) Get(ctx context.Context, userID, positionID string) (model.Position, error) {
	p, err := s.store.Get(ctx, positionID)
	if err != nil {
		return model.Position{}, ErrPositionNotFound
	}
	if p.UserID != userID {
		return model.Position{}, ErrPositionNotFound
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, userID string, status types.PositionStatus, limit int) ([]model.Position, error) {
	return s.store.ListByUser(ctx, userID, status, limit)
}
