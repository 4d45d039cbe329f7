package positions

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

// Store persists positions. The service depends on this interface so the
// lifecycle logic can be exercised against an in-memory fake.
type Store interface {
	Create(ctx context.Context, p model.Position) (model.Position, error)
	Get(ctx context.Context, id string) (model.Position, error)
	// BeginClose atomically moves an OPEN position to CLOSING and returns it.
	// Returns pgx.ErrNoRows when the position is missing or not OPEN; the
	// service maps that to the proper typed error.
	BeginClose(ctx context.Context, id string) (model.Position, error)
	// Reopen reverts a CLOSING position to OPEN after a failed settlement.
	Reopen(ctx context.Context, id string) error
	FinishClose(ctx context.Context, id string, exitPrice, pnl decimal.Decimal, reason types.CloseReason, closedAt time.Time) error
	ListOpenBySymbol(ctx context.Context, symbol string) ([]model.Position, error)
	ListByUser(ctx context.Context, userID string, status types.PositionStatus, limit int) ([]model.Position, error)
}

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const positionColumns = "id, user_id, symbol, side, entry_price, quantity, leverage, margin, status, exit_price, realized_pnl, close_reason, opened_at, closed_at"

func scanPosition(row pgx.Row) (model.Position, error) {
	var p model.Position
	var side, status string
	var reason *string
	err := row.Scan(&p.ID, &p.UserID, &p.Symbol, &side, &p.EntryPrice, &p.Quantity, &p.Leverage, &p.Margin, &status, &p.ExitPrice, &p.RealizedPnL, &reason, &p.OpenedAt, &p.ClosedAt)
	if err != nil {
		return p, err
	}
	p.Side = types.Side(side)
	p.Status = types.PositionStatus(status)
	if reason != nil {
		p.CloseReason = types.CloseReason(*reason)
	}
	return p, nil
}

func (s *PGStore) Create(ctx context.Context, p model.Position) (model.Position, error) {
	err := s.pool.QueryRow(ctx, `
		insert into positions (user_id, symbol, side, entry_price, quantity, leverage, margin, status, opened_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning id
	`, p.UserID, p.Symbol, string(p.Side), p.EntryPrice, p.Quantity, p.Leverage, p.Margin, string(p.Status), p.OpenedAt).Scan(&p.ID)
	return p, err
}

func (s *PGStore) Get(ctx context.Context, id string) (model.Position, error) {
	return scanPosition(s.pool.QueryRow(ctx, "select "+positionColumns+" from positions where id = $1", id))
}

func (s *PGStore) BeginClose(ctx context.Context, id string) (model.Position, error) {
	return scanPosition(s.pool.QueryRow(ctx, `
		update positions set status = 'CLOSING'
		where id = $1 and status = 'OPEN'
		returning `+positionColumns, id))
}

func (s *PGStore) Reopen(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "update positions set status = 'OPEN' where id = $1 and status = 'CLOSING'", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("position not in CLOSING state")
	}
	return nil
}

func (s *PGStore) FinishClose(ctx context.Context, id string, exitPrice, pnl decimal.Decimal, reason types.CloseReason, closedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		update positions
		set status = 'CLOSED', exit_price = $2, realized_pnl = $3, close_reason = $4, closed_at = $5
		where id = $1 and status = 'CLOSING'
	`, id, exitPrice, pnl, string(reason), closedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("position not in CLOSING state")
	}
	return nil
}

func (s *PGStore) ListOpenBySymbol(ctx context.Context, symbol string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx, "select "+positionColumns+" from positions where symbol = $1 and status = 'OPEN' order by opened_at", symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPositions(rows)
}

func (s *PGStore) ListByUser(ctx context.Context, userID string, status types.PositionStatus, limit int) ([]model.Position, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	var rows pgx.Rows
	var err error
	if status == "" {
		rows, err = s.pool.Query(ctx, "select "+positionColumns+" from positions where user_id = $1 order by opened_at desc limit $2", userID, limit)
	} else {
		rows, err = s.pool.Query(ctx, "select "+positionColumns+" from positions where user_id = $1 and status = $2 order by opened_at desc limit $3", userID, string(status), limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPositions(rows)
}

func collectPositions(rows pgx.Rows) ([]model.Position, error) {
	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
