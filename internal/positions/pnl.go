package positions

import (
	"log"

	"nx-tradecore/internal/types"

	"github.com/shopspring/decimal"
)

// UnrealizedPnL marks a position to the given price:
// margin * ((mark - entry) / entry) * leverage, sign-flipped for shorts.
// Bad input yields zero with a log warning; the pricing path never fails.
func UnrealizedPnL(side types.Side, entry, mark, margin decimal.Decimal, leverage int64) decimal.Decimal {
	if entry.LessThanOrEqual(decimal.Zero) || mark.LessThanOrEqual(decimal.Zero) ||
		margin.LessThanOrEqual(decimal.Zero) || leverage < 1 {
		log.Printf("[Positions] mark-to-market skipped: entry=%s mark=%s margin=%s leverage=%d", entry, mark, margin, leverage)
		return decimal.Zero
	}
	move := mark.Sub(entry).Div(entry)
	if side == types.SideShort {
		move = move.Neg()
	}
	return margin.Mul(move).Mul(decimal.NewFromInt(leverage))
}

// LiquidationPrice is the price at which the unrealized loss consumes the
// whole margin: entry*(1 - 1/lev) for longs, entry*(1 + 1/lev) for shorts.
func LiquidationPrice(side types.Side, entry decimal.Decimal, leverage int64) decimal.Decimal {
	if entry.LessThanOrEqual(decimal.Zero) || leverage < 1 {
		return decimal.Zero
	}
	inv := decimal.NewFromInt(1).Div(decimal.NewFromInt(leverage))
	if side == types.SideLong {
		return entry.Mul(decimal.NewFromInt(1).Sub(inv))
	}
	return entry.Mul(decimal.NewFromInt(1).Add(inv))
}

// Liquidated reports whether the mark price is at or through the liquidation
// threshold for the position's side.
func Liquidated(side types.Side, entry, mark decimal.Decimal, leverage int64) bool {
	liq := LiquidationPrice(side, entry, leverage)
	if liq.LessThanOrEqual(decimal.Zero) && side == types.SideLong {
		// 1x long liquidates only at zero; an exchange price never reaches it.
		return mark.LessThanOrEqual(decimal.Zero)
	}
	if side == types.SideLong {
		return mark.LessThanOrEqual(liq)
	}
	return mark.GreaterThanOrEqual(liq)
}
