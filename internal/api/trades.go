package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/auth"
	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/trade"
)

// PlaceOrderRequest is the JSON body for POST /trades/place-order.
// Field semantics are checked by the engine, not by tags.
type PlaceOrderRequest struct {
	Symbol     string           `json:"symbol"`
	Quantity   int64            `json:"quantity"`
	OrderType  string           `json:"order_type"` // buy | sell
	PriceType  string           `json:"price_type"` // market | limit
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
}

// placeOrder handles POST /api/v1/trades/place-order
func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	id, _ := auth.FromContext(r.Context())
	order, err := s.deps.Engine.PlaceOrder(r.Context(), trade.OrderRequest{
		AccountID:  id.AccountID,
		Symbol:     req.Symbol,
		Quantity:   req.Quantity,
		Side:       model.Side(req.OrderType),
		Pricing:    model.PricingMode(req.PriceType),
		LimitPrice: req.LimitPrice,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// history handles GET /api/v1/trades/history?limit=
func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, _ := auth.FromContext(r.Context())
	orders, err := s.deps.Engine.History(r.Context(), id.AccountID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}
