package marketdata

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Pair is the per-symbol contract configuration: precision and sizing live
// here instead of being special-cased on symbol strings in the trading code.
type Pair struct {
	Symbol         string `json:"symbol"`
	BaseAsset      string `json:"base_asset"`
	QuoteAsset     string `json:"quote_asset"`
	PricePrecision int32  `json:"price_precision"`
	QtyPrecision   int32  `json:"qty_precision"`
	MinQty         string `json:"min_qty"`
	MaxLeverage    int64  `json:"max_leverage"`
	Status         string `json:"status"`
}

var ErrPairNotFound = errors.New("pair not found")

type PairStore struct {
	pool *pgxpool.Pool
}

func NewPairStore(pool *pgxpool.Pool) *PairStore {
	return &PairStore{pool: pool}
}

func (s *PairStore) GetBySymbol(ctx context.Context, symbol string) (Pair, error) {
	var p Pair
	err := s.pool.QueryRow(ctx, `
		select symbol, base_asset, quote_asset, price_precision, qty_precision, min_qty, max_leverage, status
		from trading_pairs
		where symbol = $1
	`, symbol).Scan(
		&p.Symbol, &p.BaseAsset, &p.QuoteAsset, &p.PricePrecision, &p.QtyPrecision,
		&p.MinQty, &p.MaxLeverage, &p.Status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, ErrPairNotFound
	}
	return p, err
}

func (s *PairStore) ListActive(ctx context.Context) ([]Pair, error) {
	rows, err := s.pool.Query(ctx, `
		select symbol, base_asset, quote_asset, price_precision, qty_precision, min_qty, max_leverage, status
		from trading_pairs
		where status = 'active'
		order by symbol
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Pair
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.Symbol, &p.BaseAsset, &p.QuoteAsset, &p.PricePrecision, &p.QtyPrecision, &p.MinQty, &p.MaxLeverage, &p.Status); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (p Pair) MinQtyDecimal() decimal.Decimal {
	v, err := decimal.NewFromString(strings.TrimSpace(p.MinQty))
	if err != nil || !v.GreaterThan(decimal.Zero) {
		return decimal.NewFromFloat(0.0001)
	}
	return v
}

// FormatPrice renders a price at the pair's configured precision.
func (p Pair) FormatPrice(v decimal.Decimal) string {
	f, _ := v.Round(p.PricePrecision).Float64()
	return strconv.FormatFloat(f, 'f', int(p.PricePrecision), 64)
}
