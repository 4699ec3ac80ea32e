package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

const (
	pgUniqueViolation   = "23505"
	pgNumericOutOfRange = "22003"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	balance       NUMERIC(15,2) NOT NULL CHECK (balance >= 0),
	is_active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	seq           BIGSERIAL PRIMARY KEY,
	id            TEXT NOT NULL UNIQUE,
	account_id    TEXT NOT NULL REFERENCES accounts(id),
	kind          TEXT NOT NULL,
	amount        NUMERIC(15,2) NOT NULL,
	balance_after NUMERIC(15,2) NOT NULL,
	memo          TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_entries_account_idx ON ledger_entries (account_id, seq DESC);

CREATE TABLE IF NOT EXISTS orders (
	seq         BIGINT PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	account_id  TEXT NOT NULL REFERENCES accounts(id),
	symbol      TEXT NOT NULL,
	quantity    BIGINT NOT NULL,
	side        TEXT NOT NULL,
	pricing     TEXT NOT NULL,
	limit_price NUMERIC(15,2),
	price       NUMERIC(15,2) NOT NULL,
	total       NUMERIC(15,2) NOT NULL,
	status      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_account_idx ON orders (account_id, seq DESC);
`

// Migrate creates the tables if they do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return unavailable("migrate", err)
	}
	return nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable("begin", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO accounts (id, username, email, password_hash, balance, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8)`,
		a.ID, a.Username, a.Email, a.PasswordHash,
		a.Balance.StringFixed(model.MoneyScale), a.Active, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: username or email already registered", model.ErrConflict)
		}
		return unavailable("insert account", err)
	}

	if err := insertEntry(ctx, tx, openingEntry(a)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return s.queryAccount(ctx, `WHERE id = $1`, id)
}

func (s *PostgresStore) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	return s.queryAccount(ctx, `WHERE username = $1`, username)
}

func (s *PostgresStore) queryAccount(ctx context.Context, where string, arg string) (*model.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, username, email, password_hash, balance::TEXT, is_active, created_at, updated_at
		 FROM accounts `+where, arg)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", model.ErrNotFound, arg)
	}
	if err != nil {
		return nil, unavailable("get account", err)
	}
	return a, nil
}

func (s *PostgresStore) SetAccountActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return unavailable("set active", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: account %s", model.ErrNotFound, id)
	}
	return nil
}

// ApplyEntry runs the mutation inside a transaction holding the account's
// row lock, so concurrent writers on the same account queue behind it even
// across engine instances.
func (s *PostgresStore) ApplyEntry(ctx context.Context, accountID string, fn Mutation) (*model.LedgerEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, unavailable("begin", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT id, username, email, password_hash, balance::TEXT, is_active, created_at, updated_at
		 FROM accounts WHERE id = $1 FOR UPDATE`, accountID)
	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", model.ErrNotFound, accountID)
	}
	if err != nil {
		return nil, unavailable("lock account", err)
	}

	snapshot := *acct
	entry, err := fn(&snapshot)
	if err != nil {
		return nil, err
	}
	if err := finishEntry(acct, entry); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $2::NUMERIC, updated_at = $3 WHERE id = $1`,
		accountID, entry.BalanceAfter.StringFixed(model.MoneyScale), entry.CreatedAt,
	); err != nil {
		return nil, unavailable("update balance", err)
	}
	if err := insertEntry(ctx, tx, *entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, unavailable("commit", err)
	}
	return entry, nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, accountID string, limit int) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, kind, amount::TEXT, balance_after::TEXT, memo, created_at
		 FROM ledger_entries WHERE account_id = $1 ORDER BY seq DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, unavailable("list entries", err)
	}
	defer rows.Close()

	entries, err := scanLedgerEntries(rows)
	if err != nil {
		return nil, unavailable("scan entries", err)
	}
	return entries, nil
}

func (s *PostgresStore) InsertOrder(ctx context.Context, o *model.Order) error {
	var limitPrice *string
	if o.LimitPrice != nil {
		lp := o.LimitPrice.StringFixed(model.MoneyScale)
		limitPrice = &lp
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (seq, id, account_id, symbol, quantity, side, pricing, limit_price, price, total, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11, $12)`,
		int64(o.Seq), o.ID, o.AccountID, o.Symbol, o.Quantity, string(o.Side), string(o.Pricing),
		limitPrice, o.Price.StringFixed(model.MoneyScale), o.Total.StringFixed(model.MoneyScale),
		string(o.Status), o.Timestamp,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: order %s", model.ErrConflict, o.ID)
		}
		return unavailable("insert order", err)
	}
	return nil
}

func (s *PostgresStore) ListOrders(ctx context.Context, accountID string, limit int) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, id, account_id, symbol, quantity, side, pricing,
		        limit_price::TEXT, price::TEXT, total::TEXT, status, created_at
		 FROM orders WHERE account_id = $1 ORDER BY seq DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, unavailable("list orders", err)
	}
	defer rows.Close()

	orders := []model.Order{}
	for rows.Next() {
		var o model.Order
		var seq int64
		var side, pricing, status, priceS, totalS string
		var limitS *string
		if err := rows.Scan(&seq, &o.ID, &o.AccountID, &o.Symbol, &o.Quantity, &side, &pricing,
			&limitS, &priceS, &totalS, &status, &o.Timestamp); err != nil {
			return nil, unavailable("scan orders", err)
		}
		o.Seq = uint64(seq)
		o.Side = model.Side(side)
		o.Pricing = model.PricingMode(pricing)
		o.Status = model.OrderStatus(status)
		o.Price, _ = decimal.NewFromString(priceS)
		o.Total, _ = decimal.NewFromString(totalS)
		if limitS != nil {
			lp, _ := decimal.NewFromString(*limitS)
			o.LimitPrice = &lp
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list orders", err)
	}
	return orders, nil
}

func (s *PostgresStore) LastOrderSeq(ctx context.Context) (uint64, error) {
	var seq int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM orders`).Scan(&seq); err != nil {
		return 0, unavailable("last order seq", err)
	}
	return uint64(seq), nil
}

func insertEntry(ctx context.Context, tx pgx.Tx, e model.LedgerEntry) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, account_id, kind, amount, balance_after, memo, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7)`,
		e.ID, e.AccountID, string(e.Kind),
		e.Amount.StringFixed(model.MoneyScale), e.BalanceAfter.StringFixed(model.MoneyScale),
		e.Memo, e.CreatedAt,
	)
	if err != nil {
		return unavailable("insert ledger entry", err)
	}
	return nil
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	var balance string
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash,
		&balance, &a.Active, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Balance, _ = decimal.NewFromString(balance)
	return &a, nil
}

// scanLedgerEntries reads pgx rows into LedgerEntry slices.
func scanLedgerEntries(rows pgx.Rows) ([]model.LedgerEntry, error) {
	entries := []model.LedgerEntry{}
	for rows.Next() {
		var e model.LedgerEntry
		var kind, amountS, afterS string

		if err := rows.Scan(&e.ID, &e.AccountID, &kind, &amountS, &afterS,
			&e.Memo, &e.CreatedAt); err != nil {
			return nil, err
		}

		e.Kind = model.EntryKind(kind)
		e.Amount, _ = decimal.NewFromString(amountS)
		e.BalanceAfter, _ = decimal.NewFromString(afterS)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// unavailable tags an infrastructure failure so callers see
// model.ErrStorageUnavailable rather than a driver error. A value that does
// not fit its NUMERIC column is the caller's fault and maps to
// model.ErrValidation, so it never counts against the breaker.
func unavailable(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgNumericOutOfRange {
		return fmt.Errorf("%w: %s: value out of range", model.ErrValidation, op)
	}
	return fmt.Errorf("%w: %s: %w", model.ErrStorageUnavailable, op, err)
}
