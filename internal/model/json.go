package model

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Money fields are rendered with exactly MoneyScale fractional digits, so
// 1755 goes out as "1755.00".

func fixed(d decimal.Decimal) string {
	return d.StringFixed(MoneyScale)
}

func (a Account) MarshalJSON() ([]byte, error) {
	type plain Account
	return json.Marshal(struct {
		plain
		Balance string `json:"wallet_balance"`
	}{plain(a), fixed(a.Balance)})
}

func (e LedgerEntry) MarshalJSON() ([]byte, error) {
	type plain LedgerEntry
	return json.Marshal(struct {
		plain
		Amount       string `json:"amount"`
		BalanceAfter string `json:"balance_after"`
	}{plain(e), fixed(e.Amount), fixed(e.BalanceAfter)})
}

func (o Order) MarshalJSON() ([]byte, error) {
	type plain Order
	var limit *string
	if o.LimitPrice != nil {
		s := fixed(*o.LimitPrice)
		limit = &s
	}
	return json.Marshal(struct {
		plain
		LimitPrice *string `json:"limit_price,omitempty"`
		Price      string  `json:"price"`
		Total      string  `json:"total"`
	}{plain(o), limit, fixed(o.Price), fixed(o.Total)})
}
