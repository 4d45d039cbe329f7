package monitor

import (
	"context"
	"errors"
	"time"

	"nx-tradecore/internal/model"
	"nx-tradecore/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store persists limit orders. Status transitions are conditional updates so
// the database is the last line of defense against a double fill even if two
// monitor instances watch the same symbol.
type Store interface {
	Create(ctx context.Context, o model.LimitOrder) (model.LimitOrder, error)
	Get(ctx context.Context, id string) (model.LimitOrder, error)
	// UpdatePending rewrites target/quantity/leverage while the order is
	// still PENDING. Returns pgx.ErrNoRows otherwise.
	UpdatePending(ctx context.Context, id string, target, qty decimal.Decimal, leverage int64, updatedAt time.Time) (model.LimitOrder, error)
	// MarkExecuting moves PENDING -> EXECUTING. Returns pgx.ErrNoRows when
	// the order is missing or no longer pending.
	MarkExecuting(ctx context.Context, id string, updatedAt time.Time) (model.LimitOrder, error)
	MarkFilled(ctx context.Context, id, positionID string, updatedAt time.Time) error
	// RevertPending moves EXECUTING back to PENDING after a failed fill.
	RevertPending(ctx context.Context, id string, updatedAt time.Time) error
	// Cancel moves PENDING -> CANCELLED. Returns pgx.ErrNoRows otherwise.
	Cancel(ctx context.Context, id string, updatedAt time.Time) (model.LimitOrder, error)
	ListPending(ctx context.Context) ([]model.LimitOrder, error)
	ListByUser(ctx context.Context, userID string, status types.OrderStatus, limit int) ([]model.LimitOrder, error)
}

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const orderColumns = "id, user_id, symbol, side, target_price, quantity, leverage, status, position_id, created_at, updated_at"

func scanOrder(row pgx.Row) (model.LimitOrder, error) {
	var o model.LimitOrder
	var side, status string
	err := row.Scan(&o.ID, &o.UserID, &o.Symbol, &side, &o.TargetPrice, &o.Quantity, &o.Leverage, &status, &o.PositionID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return o, err
	}
	o.Side = types.Side(side)
	o.Status = types.OrderStatus(status)
	return o, nil
}

func (s *PGStore) Create(ctx context.Context, o model.LimitOrder) (model.LimitOrder, error) {
	err := s.pool.QueryRow(ctx, `
		insert into limit_orders (user_id, symbol, side, target_price, quantity, leverage, status, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		returning id
	`, o.UserID, o.Symbol, string(o.Side), o.TargetPrice, o.Quantity, o.Leverage, string(o.Status), o.CreatedAt).Scan(&o.ID)
	o.UpdatedAt = o.CreatedAt
	return o, err
}

func (s *PGStore) Get(ctx context.Context, id string) (model.LimitOrder, error) {
	return scanOrder(s.pool.QueryRow(ctx, "select "+orderColumns+" from limit_orders where id = $1", id))
}

func (s *PGStore) UpdatePending(ctx context.Context, id string, target, qty decimal.Decimal, leverage int64, updatedAt time.Time) (model.LimitOrder, error) {
	return scanOrder(s.pool.QueryRow(ctx, `
		update limit_orders
		set target_price = $2, quantity = $3, leverage = $4, updated_at = $5
		where id = $1 and status = 'PENDING'
		returning `+orderColumns, id, target, qty, leverage, updatedAt))
}

func (s *PGStore) MarkExecuting(ctx context.Context, id string, updatedAt time.Time) (model.LimitOrder, error) {
	return scanOrder(s.pool.QueryRow(ctx, `
		update limit_orders set status = 'EXECUTING', updated_at = $2
		where id = $1 and status = 'PENDING'
		returning `+orderColumns, id, updatedAt))
}

func (s *PGStore) MarkFilled(ctx context.Context, id, positionID string, updatedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		update limit_orders set status = 'FILLED', position_id = $2, updated_at = $3
		where id = $1 and status = 'EXECUTING'
	`, id, positionID, updatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("order not in EXECUTING state")
	}
	return nil
}

func (s *PGStore) RevertPending(ctx context.Context, id string, updatedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		update limit_orders set status = 'PENDING', updated_at = $2
		where id = $1 and status = 'EXECUTING'
	`, id, updatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("order not in EXECUTING state")
	}
	return nil
}

func (s *PGStore) Cancel(ctx context.Context, id string, updatedAt time.Time) (model.LimitOrder, error) {
	return scanOrder(s.pool.QueryRow(ctx, `
		update limit_orders set status = 'CANCELLED', updated_at = $2
		where id = $1 and status = 'PENDING'
		returning `+orderColumns, id, updatedAt))
}

func (s *PGStore) ListPending(ctx context.Context) ([]model.LimitOrder, error) {
	rows, err := s.pool.Query(ctx, "select "+orderColumns+" from limit_orders where status = 'PENDING' order by created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (s *PGStore) ListByUser(ctx context.Context, userID string, status types.OrderStatus, limit int) ([]model.LimitOrder, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	var rows pgx.Rows
	var err error
	if status == "" {
		rows, err = s.pool.Query(ctx, "select "+orderColumns+" from limit_orders where user_id = $1 order by created_at desc limit $2", userID, limit)
	} else {
		rows, err = s.pool.Query(ctx, "select "+orderColumns+" from limit_orders where user_id = $1 and status = $2 order by created_at desc limit $3", userID, string(status), limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]model.LimitOrder, error) {
	var out []model.LimitOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
