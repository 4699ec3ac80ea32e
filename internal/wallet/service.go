// Package wallet applies deposits, withdrawals and trade settlements to an
// account's cash balance. Every call is one read-validate-write-append unit,
// serialised per account and committed atomically by the ledger store.
package wallet

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/metrics"
	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/store"
)

const (
	DefaultListLimit = 10
	MaxListLimit     = 100
)

// Service owns all balance mutations. It locks per account, never
// globally, so requests on unrelated accounts do not queue behind each other.
type Service struct {
	store store.Store
	locks *keyedMutex
}

// NewService creates a wallet service backed by st.
func NewService(st store.Store) *Service {
	return &Service{
		store: st,
		locks: newKeyedMutex(),
	}
}

// Deposit credits a positive amount.
func (s *Service) Deposit(ctx context.Context, accountID string, amount decimal.Decimal, memo string) (*model.LedgerEntry, error) {
	amt, err := positiveAmount(amount)
	if err != nil {
		return nil, s.reject(model.KindDeposit, err)
	}
	return s.apply(ctx, accountID, model.KindDeposit, amt, memo)
}

// Withdraw debits a positive amount; it fails with model.ErrInsufficientFunds
// when amount exceeds the current balance.
func (s *Service) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal, memo string) (*model.LedgerEntry, error) {
	amt, err := positiveAmount(amount)
	if err != nil {
		return nil, s.reject(model.KindWithdrawal, err)
	}
	return s.apply(ctx, accountID, model.KindWithdrawal, amt.Neg(), memo)
}

// SettleTrade applies the cash effect of a trade: negative for a purchase,
// positive for a sale. A purchase that would leave the balance below zero
// fails with model.ErrInsufficientFunds.
func (s *Service) SettleTrade(ctx context.Context, accountID string, signedAmount decimal.Decimal, memo string) (*model.LedgerEntry, error) {
	amt, err := money(signedAmount)
	if err == nil && amt.IsZero() {
		err = fmt.Errorf("%w: trade amount must be non-zero", model.ErrValidation)
	}
	if err != nil {
		return nil, s.reject(model.KindTrade, err)
	}
	return s.apply(ctx, accountID, model.KindTrade, amt, memo)
}

// Apply dispatches a user-initiated wallet update by kind. Trade
// settlements are reserved for the order engine.
func (s *Service) Apply(ctx context.Context, accountID string, kind model.EntryKind, amount decimal.Decimal, memo string) (*model.LedgerEntry, error) {
	switch kind {
	case model.KindDeposit:
		return s.Deposit(ctx, accountID, amount, memo)
	case model.KindWithdrawal:
		return s.Withdraw(ctx, accountID, amount, memo)
	default:
		return nil, fmt.Errorf("%w: invalid transaction type %q", model.ErrValidation, kind)
	}
}

// Balance returns the committed balance of an account.
func (s *Service) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return acct.Balance, nil
}

// Transactions lists ledger entries newest first. A non-positive limit
// falls back to DefaultListLimit; larger limits are capped at MaxListLimit.
func (s *Service) Transactions(ctx context.Context, accountID string, limit int) ([]model.LedgerEntry, error) {
	return s.store.ListEntries(ctx, accountID, ClampLimit(limit))
}

// ClampLimit normalises a caller-supplied page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return min(limit, MaxListLimit)
}

func (s *Service) apply(ctx context.Context, accountID string, kind model.EntryKind, amount decimal.Decimal, memo string) (*model.LedgerEntry, error) {
	unlock := s.locks.Lock(accountID)
	defer unlock()

	entry, err := s.store.ApplyEntry(ctx, accountID, func(acct *model.Account) (*model.LedgerEntry, error) {
		if !acct.Active {
			return nil, fmt.Errorf("%w: account %s is inactive", model.ErrValidation, acct.ID)
		}
		after := acct.Balance.Add(amount)
		if after.IsNegative() {
			return nil, fmt.Errorf("%w: balance %s, requested %s",
				model.ErrInsufficientFunds, acct.Balance.StringFixed(model.MoneyScale),
				amount.Abs().StringFixed(model.MoneyScale))
		}
		if after.GreaterThan(model.MaxBalance) {
			return nil, fmt.Errorf("%w: balance would exceed %s",
				model.ErrValidation, model.MaxBalance.StringFixed(model.MoneyScale))
		}
		return &model.LedgerEntry{
			Kind:         kind,
			Amount:       amount,
			BalanceAfter: after,
			Memo:         memo,
		}, nil
	})
	if err != nil {
		return nil, s.reject(kind, err)
	}

	metrics.WalletOpsTotal.WithLabelValues(string(kind), "ok").Inc()
	slog.Info("wallet updated",
		"account", accountID,
		"kind", string(kind),
		"amount", entry.Amount.StringFixed(model.MoneyScale),
		"balance_after", entry.BalanceAfter.StringFixed(model.MoneyScale),
	)
	return entry, nil
}

func (s *Service) reject(kind model.EntryKind, err error) error {
	metrics.WalletOpsTotal.WithLabelValues(string(kind), metrics.ErrorLabel(err)).Inc()
	return err
}

// money normalises an amount to two fractional digits, refusing values that
// would lose precision.
func money(amount decimal.Decimal) (decimal.Decimal, error) {
	rounded := amount.Round(model.MoneyScale)
	if !rounded.Equal(amount) {
		return decimal.Zero, fmt.Errorf("%w: amount %s has more than %d decimal places",
			model.ErrValidation, amount, model.MoneyScale)
	}
	if rounded.Abs().GreaterThan(model.MaxBalance) {
		return decimal.Zero, fmt.Errorf("%w: amount %s exceeds the maximum of %s",
			model.ErrValidation, amount, model.MaxBalance.StringFixed(model.MoneyScale))
	}
	return rounded, nil
}

func positiveAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	amt, err := money(amount)
	if err != nil {
		return decimal.Zero, err
	}
	if !amt.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: amount must be greater than zero", model.ErrValidation)
	}
	return amt, nil
}
