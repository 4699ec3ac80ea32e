// Package model defines the core domain types shared across the trading engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits kept for cash amounts.
const MoneyScale int32 = 2

// StartingBalance is credited to every new account on registration.
var StartingBalance = decimal.RequireFromString("10000.00")

// MaxBalance is the largest cash amount the ledger can hold; balances are
// stored as NUMERIC(15,2).
var MaxBalance = decimal.RequireFromString("9999999999999.99")

// EntryKind classifies a balance change.
type EntryKind string

const (
	KindDeposit    EntryKind = "deposit"
	KindWithdrawal EntryKind = "withdrawal"
	KindTrade      EntryKind = "trade"
)

// Valid reports whether k is one of the known entry kinds.
func (k EntryKind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdrawal, KindTrade:
		return true
	}
	return false
}

// Account is a user with a cash wallet. Balance changes only through the
// wallet service; accounts are deactivated, never deleted.
type Account struct {
	ID           string          `json:"id" db:"id"`
	Username     string          `json:"username" db:"username"`
	Email        string          `json:"email" db:"email"`
	PasswordHash string          `json:"-" db:"password_hash"`
	Balance      decimal.Decimal `json:"wallet_balance" db:"balance"`
	Active       bool            `json:"is_active" db:"is_active"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is an immutable record of one balance change.
// BalanceAfter is a snapshot: previous balance + Amount, exactly.
type LedgerEntry struct {
	ID           string          `json:"id" db:"id"`
	AccountID    string          `json:"account_id" db:"account_id"`
	Kind         EntryKind       `json:"transaction_type" db:"kind"`
	Amount       decimal.Decimal `json:"amount" db:"amount"` // signed
	BalanceAfter decimal.Decimal `json:"balance_after" db:"balance_after"`
	Memo         string          `json:"description,omitempty" db:"memo"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// PricingMode selects how the execution price is resolved.
type PricingMode string

const (
	PricingMarket PricingMode = "market"
	PricingLimit  PricingMode = "limit"
)

// OrderStatus is terminal: orders never rest on a book.
type OrderStatus string

const (
	StatusExecuted OrderStatus = "executed"
	StatusRejected OrderStatus = "rejected"
)

// Order is the record of one placed order.
type Order struct {
	ID         string           `json:"id" db:"id"`
	Seq        uint64           `json:"-" db:"seq"`
	AccountID  string           `json:"account_id" db:"account_id"`
	Symbol     string           `json:"symbol" db:"symbol"`
	Quantity   int64            `json:"quantity" db:"quantity"`
	Side       Side             `json:"order_type" db:"side"`
	Pricing    PricingMode      `json:"price_type" db:"pricing"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty" db:"limit_price"`
	Price      decimal.Decimal  `json:"price" db:"price"`
	Total      decimal.Decimal  `json:"total" db:"total"`
	Status     OrderStatus      `json:"status" db:"status"`
	Timestamp  time.Time        `json:"timestamp" db:"created_at"`
}

// PriceTick is the live state of one tradable symbol.
type PriceTick struct {
	Symbol string          `json:"-"`
	Price  decimal.Decimal `json:"price"`
	Change decimal.Decimal `json:"change"`
}
