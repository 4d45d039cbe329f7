package model

import (
	"time"

	"nx-tradecore/internal/types"

	"github.com/shopspring/decimal"
)

// PriceTick is one normalized update from the upstream ticker stream.
// Ticks are ephemeral; they are never persisted as-is.
type PriceTick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"ts"`
}

type Position struct {
	ID          string               `json:"id"`
	UserID      string               `json:"user_id"`
	Symbol      string               `json:"symbol"`
	Side        types.Side           `json:"side"`
	EntryPrice  decimal.Decimal      `json:"entry_price"`
	Quantity    decimal.Decimal      `json:"quantity"`
	Leverage    int64                `json:"leverage"`
	Margin      decimal.Decimal      `json:"margin"`
	Status      types.PositionStatus `json:"status"`
	ExitPrice   *decimal.Decimal     `json:"exit_price,omitempty"`
	RealizedPnL *decimal.Decimal     `json:"realized_pnl,omitempty"`
	CloseReason types.CloseReason    `json:"close_reason,omitempty"`
	OpenedAt    time.Time            `json:"opened_at"`
	ClosedAt    *time.Time           `json:"closed_at,omitempty"`
}

type LimitOrder struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Symbol      string            `json:"symbol"`
	Side        types.Side        `json:"side"`
	TargetPrice decimal.Decimal   `json:"target_price"`
	Quantity    decimal.Decimal   `json:"quantity"`
	Leverage    int64             `json:"leverage"`
	Status      types.OrderStatus `json:"status"`
	PositionID  *string           `json:"position_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
