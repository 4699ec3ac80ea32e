// Package trade resolves orders against the live price feed and settles
// them through the wallet.
package trade

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/events"
	"github.com/papertrade/trading-engine/internal/market"
	"github.com/papertrade/trading-engine/internal/metrics"
	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/store"
	"github.com/papertrade/trading-engine/internal/wallet"
)

// Engine places orders and lists an account's order history. Orders
// resolve synchronously today; an implementation with a real order
// lifecycle can replace InstantEngine without touching callers.
type Engine interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*model.Order, error)
	History(ctx context.Context, accountID string, limit int) ([]model.Order, error)
}

// OrderRequest is a validated-by-engine order submission.
type OrderRequest struct {
	AccountID  string
	Symbol     string
	Quantity   int64
	Side       model.Side
	Pricing    model.PricingMode
	LimitPrice *decimal.Decimal
}

// PriceSource returns the current market price of a symbol.
type PriceSource interface {
	Price(symbol string) (decimal.Decimal, bool)
}

// Settler applies the signed cash effect of a trade to an account.
type Settler interface {
	SettleTrade(ctx context.Context, accountID string, amount decimal.Decimal, memo string) (*model.LedgerEntry, error)
}

// InstantEngine fills every valid order immediately at the market price or
// the caller's limit price. Sells are not checked against holdings.
type InstantEngine struct {
	store  store.Store
	wallet Settler
	prices PriceSource
	limits Limits
	pub    events.Publisher
	seq    atomic.Uint64
}

var _ Engine = (*InstantEngine)(nil)

// NewInstantEngine creates an engine. Pass nil for pub if executed orders
// should not be published.
func NewInstantEngine(st store.Store, w Settler, prices PriceSource, limits Limits, pub events.Publisher) *InstantEngine {
	if pub == nil {
		pub = events.Noop{}
	}
	return &InstantEngine{
		store:  st,
		wallet: w,
		prices: prices,
		limits: limits,
		pub:    pub,
	}
}

// Resume continues the order id sequence from the highest recorded order.
func (e *InstantEngine) Resume(ctx context.Context) error {
	last, err := e.store.LastOrderSeq(ctx)
	if err != nil {
		return err
	}
	for {
		cur := e.seq.Load()
		if last <= cur || e.seq.CompareAndSwap(cur, last) {
			return nil
		}
	}
}

// FormatOrderID renders an order sequence number as a public order id.
func FormatOrderID(seq uint64) string {
	return fmt.Sprintf("TRD_%06d", seq)
}

// PlaceOrder validates, prices and settles one order. On any error the
// wallet is left unchanged and no order id is consumed.
func (e *InstantEngine) PlaceOrder(ctx context.Context, req OrderRequest) (*model.Order, error) {
	start := time.Now()
	side := sideLabel(req.Side)

	order, err := e.place(ctx, req)

	metrics.OrderLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OrdersTotal.WithLabelValues(side, string(model.StatusRejected)).Inc()
		slog.Warn("order rejected",
			"account", req.AccountID,
			"symbol", req.Symbol,
			"side", side,
			"qty", req.Quantity,
			"err", err,
		)
		return nil, err
	}
	metrics.OrdersTotal.WithLabelValues(side, string(model.StatusExecuted)).Inc()
	metrics.OrderNotional.WithLabelValues(order.Symbol, side).Add(order.Total.InexactFloat64())
	return order, nil
}

func (e *InstantEngine) place(ctx context.Context, req OrderRequest) (*model.Order, error) {
	sym, err := market.ParseSymbol(req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidSymbol, err)
	}
	price, ok := e.prices.Price(sym)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not tradable", model.ErrInvalidSymbol, sym)
	}

	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", model.ErrInvalidOrder)
	}
	if req.Side != model.SideBuy && req.Side != model.SideSell {
		return nil, fmt.Errorf("%w: order_type must be buy or sell", model.ErrInvalidOrder)
	}

	var limitPrice *decimal.Decimal
	switch req.Pricing {
	case model.PricingMarket:
	case model.PricingLimit:
		if req.LimitPrice == nil || !req.LimitPrice.IsPositive() {
			return nil, fmt.Errorf("%w: limit orders need a positive limit_price", model.ErrInvalidOrder)
		}
		if !req.LimitPrice.Round(model.MoneyScale).Equal(*req.LimitPrice) {
			return nil, fmt.Errorf("%w: limit_price has more than %d decimal places",
				model.ErrInvalidOrder, model.MoneyScale)
		}
		lp := *req.LimitPrice
		limitPrice = &lp
		price = lp
	default:
		return nil, fmt.Errorf("%w: price_type must be market or limit", model.ErrInvalidOrder)
	}

	total := price.Mul(decimal.NewFromInt(req.Quantity)).Round(model.MoneyScale)
	if total.GreaterThan(model.MaxBalance) {
		return nil, fmt.Errorf("%w: order total %s exceeds the maximum of %s", model.ErrInvalidOrder,
			total.StringFixed(model.MoneyScale), model.MaxBalance.StringFixed(model.MoneyScale))
	}
	if err := e.limits.Check(req.Quantity, total); err != nil {
		return nil, err
	}

	signed := total
	if req.Side == model.SideBuy {
		signed = total.Neg()
	}
	memo := fmt.Sprintf("%s %d %s @ %s", req.Side, req.Quantity, sym, price.StringFixed(model.MoneyScale))
	if _, err := e.wallet.SettleTrade(ctx, req.AccountID, signed, memo); err != nil {
		return nil, err
	}

	seq := e.seq.Add(1)
	order := &model.Order{
		ID:         FormatOrderID(seq),
		Seq:        seq,
		AccountID:  req.AccountID,
		Symbol:     sym,
		Quantity:   req.Quantity,
		Side:       req.Side,
		Pricing:    req.Pricing,
		LimitPrice: limitPrice,
		Price:      price,
		Total:      total,
		Status:     model.StatusExecuted,
		Timestamp:  time.Now().UTC(),
	}

	// The cash has moved; a failed history write is logged, not rolled back.
	if err := e.store.InsertOrder(ctx, order); err != nil {
		slog.Error("executed order not recorded", "order", order.ID, "err", err)
	}
	if err := e.pub.PublishOrder(ctx, order); err != nil {
		slog.Warn("order event not published", "order", order.ID, "err", err)
	}

	slog.Info("order executed",
		"order", order.ID,
		"account", order.AccountID,
		"symbol", sym,
		"side", string(req.Side),
		"qty", req.Quantity,
		"price", price.StringFixed(model.MoneyScale),
		"total", total.StringFixed(model.MoneyScale),
	)
	return order, nil
}

// History lists an account's orders newest first.
func (e *InstantEngine) History(ctx context.Context, accountID string, limit int) ([]model.Order, error) {
	return e.store.ListOrders(ctx, accountID, wallet.ClampLimit(limit))
}

func sideLabel(s model.Side) string {
	if s == model.SideBuy || s == model.SideSell {
		return string(s)
	}
	return "unknown"
}
