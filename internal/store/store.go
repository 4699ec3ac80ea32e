// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), a circuit breaker guard, and in-memory (for testing).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/papertrade/trading-engine/internal/model"
)

// Mutation inspects an account locked for update and returns the ledger
// entry to append. Returning an error aborts the unit with no state change.
type Mutation func(acct *model.Account) (*model.LedgerEntry, error)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account together with its opening
	// ledger entry. Duplicate username or email yields model.ErrConflict.
	CreateAccount(ctx context.Context, acct *model.Account) error

	// GetAccount retrieves an account by ID.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// GetAccountByUsername retrieves an account by its login name.
	GetAccountByUsername(ctx context.Context, username string) (*model.Account, error)

	// SetAccountActive flips the active flag. Accounts are never deleted.
	SetAccountActive(ctx context.Context, id string, active bool) error

	// --- Ledger ---

	// ApplyEntry locks the account, runs fn against its current balance and
	// commits the new balance and the returned entry as one transaction.
	ApplyEntry(ctx context.Context, accountID string, fn Mutation) (*model.LedgerEntry, error)

	// ListEntries returns up to limit entries for an account, newest first.
	ListEntries(ctx context.Context, accountID string, limit int) ([]model.LedgerEntry, error)

	// --- Orders ---

	// InsertOrder records a resolved order.
	InsertOrder(ctx context.Context, order *model.Order) error

	// ListOrders returns up to limit orders for an account, newest first.
	ListOrders(ctx context.Context, accountID string, limit int) ([]model.Order, error)

	// LastOrderSeq returns the highest order sequence number recorded.
	LastOrderSeq(ctx context.Context) (uint64, error)
}

// openingEntry builds the ledger entry that funds a freshly created account.
func openingEntry(acct *model.Account) model.LedgerEntry {
	return model.LedgerEntry{
		ID:           uuid.New().String(),
		AccountID:    acct.ID,
		Kind:         model.KindDeposit,
		Amount:       acct.Balance,
		BalanceAfter: acct.Balance,
		Memo:         "Initial wallet balance",
		CreatedAt:    acct.CreatedAt,
	}
}

// finishEntry validates the entry a mutation produced and fills in the
// identity fields the caller may leave empty.
func finishEntry(acct *model.Account, e *model.LedgerEntry) error {
	if e == nil {
		return fmt.Errorf("%w: mutation returned no entry", model.ErrValidation)
	}
	if !e.BalanceAfter.Equal(acct.Balance.Add(e.Amount)) {
		return fmt.Errorf("%w: balance_after %s does not match %s + %s",
			model.ErrValidation, e.BalanceAfter, acct.Balance, e.Amount)
	}
	if e.BalanceAfter.GreaterThan(model.MaxBalance) || e.Amount.Abs().GreaterThan(model.MaxBalance) {
		return fmt.Errorf("%w: amount exceeds the ledger maximum of %s",
			model.ErrValidation, model.MaxBalance.StringFixed(model.MoneyScale))
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.AccountID = acct.ID
	return nil
}
