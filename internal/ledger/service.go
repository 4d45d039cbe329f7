// Package ledger is the balance collaborator for the trading core: a
// double-entry ledger over Postgres with an append-only, hash-chained entry
// log. Margin debits, close settlements and liquidations all move value
// between user accounts and the system account.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"nx-tradecore/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

func (s *Service) EnsureAccount(ctx context.Context, tx pgx.Tx, userID, asset string, kind types.AccountKind) (string, error) {
	var id string
	err := tx.QueryRow(ctx, "select id from accounts where owner_type = 'user' and owner_user_id = $1 and asset = $2 and kind = $3", userID, asset, string(kind)).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}
	err = tx.QueryRow(ctx, "insert into accounts (owner_type, owner_user_id, asset, kind) values ('user', $1, $2, $3) returning id", userID, asset, string(kind)).Scan(&id)
	return id, err
}

func (s *Service) EnsureSystemAccount(ctx context.Context, tx pgx.Tx, asset string) (string, error) {
	var id string
	err := tx.QueryRow(ctx, "select id from accounts where owner_type = 'system' and owner_user_id is null and asset = $1 and kind = 'available'", asset).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}
	err = tx.QueryRow(ctx, "insert into accounts (owner_type, owner_user_id, asset, kind) values ('system', null, $1, 'available') returning id", asset).Scan(&id)
	return id, err
}

func (s *Service) GetBalance(ctx context.Context, tx pgx.Tx, accountID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := tx.QueryRow(ctx, "select coalesce(sum(amount), 0) from ledger_entries where account_id = $1", accountID).Scan(&sum)
	return sum, err
}

// ProvisionUser creates the user's default accounts. Called once on
// registration; safe to call again.
func (s *Service) ProvisionUser(ctx context.Context, userID, asset string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := s.EnsureAccount(ctx, tx, userID, asset, types.AccountKindAvailable); err != nil {
		return err
	}
	if _, err := s.EnsureAccount(ctx, tx, userID, asset, types.AccountKindReserved); err != nil {
		return err
	}
	if _, err := s.EnsureSystemAccount(ctx, tx, asset); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Available returns the user's available balance for an asset.
func (s *Service) Available(ctx context.Context, userID, asset string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.pool.QueryRow(ctx, `
		select coalesce(sum(le.amount), 0)
		from accounts a
		left join ledger_entries le on le.account_id = a.id
		where a.owner_type = 'user' and a.owner_user_id = $1 and a.asset = $2 and a.kind = 'available'
	`, userID, asset).Scan(&sum)
	return sum, err
}

type Balance struct {
	Asset  string            `json:"asset"`
	Kind   types.AccountKind `json:"kind"`
	Amount decimal.Decimal   `json:"amount"`
}

func (s *Service) BalancesByUser(ctx context.Context, userID string) ([]Balance, error) {
	rows, err := s.pool.Query(ctx, `
		select a.asset, a.kind, coalesce(sum(le.amount), 0)
		from accounts a
		left join ledger_entries le on le.account_id = a.id
		where a.owner_type = 'user' and a.owner_user_id = $1
		group by a.asset, a.kind
		order by a.asset, a.kind
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		var b Balance
		var kind string
		if err := rows.Scan(&b.Asset, &kind, &b.Amount); err != nil {
			return nil, err
		}
		b.Kind = types.AccountKind(kind)
		out = append(out, b)
	}
	return out, rows.Err()
}

// Debit moves amount from the user's available account to the system account.
// Fails with ErrInsufficientBalance when the account does not cover it.
func (s *Service) Debit(ctx context.Context, userID, asset string, amount decimal.Decimal, entryType types.LedgerEntryType, ref string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return errors.New("amount must be positive")
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	from, err := s.EnsureAccount(ctx, tx, userID, asset, types.AccountKindAvailable)
	if err != nil {
		return err
	}
	to, err := s.EnsureSystemAccount(ctx, tx, asset)
	if err != nil {
		return err
	}
	balance, err := s.GetBalance(ctx, tx, from)
	if err != nil {
		return err
	}
	if balance.LessThan(amount) {
		return ErrInsufficientBalance
	}
	if _, err := s.Transfer(ctx, tx, from, to, amount, entryType, ref); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Credit moves amount from the system account to the user's available account.
func (s *Service) Credit(ctx context.Context, userID, asset string, amount decimal.Decimal, entryType types.LedgerEntryType, ref string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return errors.New("amount must be positive")
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	from, err := s.EnsureSystemAccount(ctx, tx, asset)
	if err != nil {
		return err
	}
	to, err := s.EnsureAccount(ctx, tx, userID, asset, types.AccountKindAvailable)
	if err != nil {
		return err
	}
	if _, err := s.Transfer(ctx, tx, from, to, amount, entryType, ref); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Service) Transfer(ctx context.Context, tx pgx.Tx, fromAccountID, toAccountID string, amount decimal.Decimal, entryType types.LedgerEntryType, ref string) (string, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return "", errors.New("amount must be positive")
	}
	var txID string
	err := tx.QueryRow(ctx, "insert into ledger_txs (ref, created_at) values ($1, $2) returning id", ref, time.Now().UTC()).Scan(&txID)
	if err != nil {
		return "", err
	}
	if _, err := s.appendEntry(ctx, tx, txID, fromAccountID, amount.Neg(), entryType); err != nil {
		return "", err
	}
	if _, err := s.appendEntry(ctx, tx, txID, toAccountID, amount, entryType); err != nil {
		return "", err
	}
	return txID, nil
}

func (s *Service) appendEntry(ctx context.Context, tx pgx.Tx, txID, accountID string, amount decimal.Decimal, entryType types.LedgerEntryType) (string, error) {
	// Advisory lock serializes the hash chain across concurrent writers.
	_, err := tx.Exec(ctx, "select pg_advisory_xact_lock(1)")
	if err != nil {
		return "", err
	}
	var prevHash *string
	err = tx.QueryRow(ctx, "select encode(hash, 'hex') from ledger_entries order by sequence desc limit 1").Scan(&prevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}
	var entryID string
	var seq int64
	err = tx.QueryRow(ctx, "insert into ledger_entries (tx_id, account_id, amount, entry_type, prev_hash, created_at) values ($1, $2, $3, $4, decode(nullif($5,''), 'hex'), $6) returning id, sequence", txID, accountID, amount, string(entryType), nullable(prevHash), time.Now().UTC()).Scan(&entryID, &seq)
	if err != nil {
		return "", err
	}
	hash := computeHash(entryID, txID, accountID, amount, entryType, seq, prevHash)
	_, err = tx.Exec(ctx, "update ledger_entries set hash = decode($1, 'hex') where id = $2", hash, entryID)
	if err != nil {
		return "", err
	}
	return entryID, nil
}

func computeHash(entryID, txID, accountID string, amount decimal.Decimal, entryType types.LedgerEntryType, seq int64, prevHash *string) string {
	buf := entryID + "|" + txID + "|" + accountID + "|" + amount.String() + "|" + string(entryType) + "|" + strconv.FormatInt(seq, 10) + "|"
	if prevHash != nil {
		buf += *prevHash
	}
	sum := sha256.Sum256([]byte(buf))
	return hex.EncodeToString(sum[:])
}

func nullable(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
