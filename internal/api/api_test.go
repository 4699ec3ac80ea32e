package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/papertrade/trading-engine/internal/account"
	"github.com/papertrade/trading-engine/internal/auth"
	"github.com/papertrade/trading-engine/internal/hub"
	"github.com/papertrade/trading-engine/internal/market"
	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/store"
	"github.com/papertrade/trading-engine/internal/trade"
	"github.com/papertrade/trading-engine/internal/wallet"
)

func init() {
	auth.BcryptCost = bcrypt.MinCost
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newTestRouter wires the full HTTP surface over an in-memory store and
// an unstepped default price feed.
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	ms := store.NewMemoryStore()
	w := wallet.NewService(ms)
	feed := market.NewFeed(market.DefaultSeeds(), decimal.Zero, rand.NewSource(1))
	tokens, err := auth.NewTokenManager("test-secret", 0)
	if err != nil {
		t.Fatal(err)
	}

	srv := NewServer(Deps{
		Accounts: account.NewService(ms),
		Wallet:   w,
		Engine:   trade.NewInstantEngine(ms, w, feed, trade.Limits{}, nil),
		Prices:   feed,
		Hub:      hub.New(),
		Tokens:   tokens,
	})
	return srv.Router()
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, kind string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, w.Code, w.Body.String())
	}
	if got := decodeBody[ErrorResponse](t, w); got.Error != kind {
		t.Errorf("expected error kind %q, got %q (%s)", kind, got.Error, got.Detail)
	}
}

// signup registers a user and returns a bearer token for it.
func signup(t *testing.T, h http.Handler, username string) string {
	t.Helper()
	w := do(t, h, "POST", "/api/v1/users/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", w.Code, w.Body.String())
	}
	w = do(t, h, "POST", "/api/v1/users/token", "", map[string]string{
		"username": username,
		"password": "password123",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("token: %d %s", w.Code, w.Body.String())
	}
	return decodeBody[TokenResponse](t, w).AccessToken
}

func balanceOf(t *testing.T, h http.Handler, token string) decimal.Decimal {
	t.Helper()
	w := do(t, h, "GET", "/api/v1/users/me", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me: %d %s", w.Code, w.Body.String())
	}
	return decodeBody[model.Account](t, w).Balance
}

func TestRegister(t *testing.T) {
	h := newTestRouter(t)
	w := do(t, h, "POST", "/api/v1/users/register", "", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "password123",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	acct := decodeBody[model.Account](t, w)
	if !acct.Balance.Equal(d("10000")) || !acct.Active || acct.Username != "alice" {
		t.Errorf("unexpected account: %+v", acct)
	}
	if strings.Contains(w.Body.String(), "password") {
		t.Error("response must not expose the password hash")
	}

	w = do(t, h, "POST", "/api/v1/users/register", "", map[string]string{
		"username": "alice", "email": "other@example.com", "password": "password123",
	})
	expectError(t, w, http.StatusConflict, "conflict")

	w = do(t, h, "POST", "/api/v1/users/register", "", map[string]string{
		"username": "bob", "email": "bad", "password": "password123",
	})
	expectError(t, w, http.StatusBadRequest, "validation_error")
}

func TestToken_JSONAndForm(t *testing.T) {
	h := newTestRouter(t)
	signup(t, h, "alice")

	form := url.Values{"username": {"alice"}, "password": {"password123"}}
	req := httptest.NewRequest("POST", "/api/v1/users/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("form login: %d %s", w.Code, w.Body.String())
	}
	tok := decodeBody[TokenResponse](t, w)
	if tok.TokenType != "bearer" || tok.AccessToken == "" || tok.ExpiresIn != 1800 {
		t.Errorf("unexpected token response: %+v", tok)
	}

	w = do(t, h, "POST", "/api/v1/users/token", "", map[string]string{"username": "alice", "password": "nope"})
	expectError(t, w, http.StatusUnauthorized, "unauthorized")
	if w.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Error("401 should carry WWW-Authenticate")
	}

	w = do(t, h, "POST", "/api/v1/users/token", "", map[string]string{"username": "alice"})
	expectError(t, w, http.StatusBadRequest, "validation_error")
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	h := newTestRouter(t)
	for _, path := range []string{"/api/v1/users/me", "/api/v1/users/wallet/transactions", "/api/v1/trades/history"} {
		w := do(t, h, "GET", path, "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, w.Code)
		}
	}
	w := do(t, h, "GET", "/api/v1/users/me", "garbage", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: expected 401, got %d", w.Code)
	}
}

func TestWalletFlow(t *testing.T) {
	h := newTestRouter(t)
	tok := signup(t, h, "alice")

	w := do(t, h, "POST", "/api/v1/users/wallet/update", tok, map[string]any{
		"amount": "500.00", "transaction_type": "deposit", "description": "top up",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("deposit: %d %s", w.Code, w.Body.String())
	}
	entry := decodeBody[model.LedgerEntry](t, w)
	if !entry.BalanceAfter.Equal(d("10500.00")) || entry.Memo != "top up" {
		t.Errorf("unexpected entry: %+v", entry)
	}

	w = do(t, h, "POST", "/api/v1/users/wallet/update", tok, map[string]any{
		"amount": 20000, "transaction_type": "withdrawal",
	})
	expectError(t, w, http.StatusBadRequest, "insufficient_funds")

	w = do(t, h, "POST", "/api/v1/users/wallet/update", tok, map[string]any{
		"amount": 10, "transaction_type": "trade",
	})
	expectError(t, w, http.StatusBadRequest, "validation_error")

	w = do(t, h, "POST", "/api/v1/users/wallet/update", tok, map[string]any{
		"amount": "-5", "transaction_type": "deposit",
	})
	expectError(t, w, http.StatusBadRequest, "validation_error")

	w = do(t, h, "POST", "/api/v1/users/wallet/update", tok, map[string]any{
		"amount": 1755, "transaction_type": "withdrawal",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("withdrawal: %d %s", w.Code, w.Body.String())
	}
	if got := balanceOf(t, h, tok); !got.Equal(d("8745.00")) {
		t.Errorf("expected 8745.00, got %s", got)
	}

	w = do(t, h, "GET", "/api/v1/users/wallet/transactions?limit=2", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("transactions: %d", w.Code)
	}
	entries := decodeBody[[]model.LedgerEntry](t, w)
	if len(entries) != 2 || entries[0].Kind != model.KindWithdrawal || entries[1].Kind != model.KindDeposit {
		t.Errorf("expected newest two entries, got %+v", entries)
	}

	w = do(t, h, "GET", "/api/v1/users/wallet/transactions", tok, nil)
	if got := decodeBody[[]model.LedgerEntry](t, w); len(got) != 3 {
		t.Errorf("expected opening + 2 entries, got %d", len(got))
	}

	w = do(t, h, "GET", "/api/v1/users/wallet/transactions?limit=abc", tok, nil)
	expectError(t, w, http.StatusBadRequest, "validation_error")
}

func TestTradeFlow(t *testing.T) {
	h := newTestRouter(t)
	tok := signup(t, h, "alice")

	w := do(t, h, "POST", "/api/v1/trades/place-order", tok, map[string]any{
		"symbol": "AAPL", "quantity": 10, "order_type": "buy", "price_type": "market",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("place order: %d %s", w.Code, w.Body.String())
	}
	if body := w.Body.String(); !strings.Contains(body, `"total":"1755.00"`) || !strings.Contains(body, `"price":"175.50"`) {
		t.Errorf("money not rendered with two decimals: %s", body)
	}
	order := decodeBody[model.Order](t, w)
	if order.ID != "TRD_000001" || !order.Total.Equal(d("1755.00")) || order.Status != model.StatusExecuted {
		t.Errorf("unexpected order: %+v", order)
	}
	if got := balanceOf(t, h, tok); !got.Equal(d("8245.00")) {
		t.Errorf("expected 8245.00, got %s", got)
	}

	w = do(t, h, "POST", "/api/v1/trades/place-order", tok, map[string]any{
		"symbol": "XYZ", "quantity": 1, "order_type": "buy", "price_type": "market",
	})
	expectError(t, w, http.StatusBadRequest, "invalid_symbol")

	w = do(t, h, "POST", "/api/v1/trades/place-order", tok, map[string]any{
		"symbol": "AMZN", "quantity": int64(9_000_000_000_000_000_000), "order_type": "sell", "price_type": "market",
	})
	expectError(t, w, http.StatusBadRequest, "invalid_order")

	w = do(t, h, "POST", "/api/v1/trades/place-order", tok, map[string]any{
		"symbol": "AAPL", "quantity": 1, "order_type": "buy", "price_type": "limit",
	})
	expectError(t, w, http.StatusBadRequest, "invalid_order")

	w = do(t, h, "POST", "/api/v1/trades/place-order", tok, map[string]any{
		"symbol": "AMZN", "quantity": 3, "order_type": "buy", "price_type": "market",
	})
	expectError(t, w, http.StatusBadRequest, "insufficient_funds")

	w = do(t, h, "POST", "/api/v1/trades/place-order", tok, map[string]any{
		"symbol": "msft", "quantity": 2, "order_type": "sell", "price_type": "limit", "limit_price": "400.00",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("limit sell: %d %s", w.Code, w.Body.String())
	}

	w = do(t, h, "GET", "/api/v1/trades/history", tok, nil)
	history := decodeBody[[]model.Order](t, w)
	if len(history) != 2 || history[0].Symbol != "MSFT" || history[1].ID != "TRD_000001" {
		t.Errorf("unexpected history: %+v", history)
	}

	other := signup(t, h, "bob")
	w = do(t, h, "GET", "/api/v1/trades/history", other, nil)
	if got := decodeBody[[]model.Order](t, w); len(got) != 0 {
		t.Errorf("history should be scoped to the caller, got %d", len(got))
	}
}

func TestDeactivate(t *testing.T) {
	h := newTestRouter(t)
	tok := signup(t, h, "alice")

	w := do(t, h, "POST", "/api/v1/users/me/deactivate", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("deactivate: %d %s", w.Code, w.Body.String())
	}
	if decodeBody[model.Account](t, w).Active {
		t.Error("account should be inactive")
	}

	w = do(t, h, "POST", "/api/v1/users/token", "", map[string]string{"username": "alice", "password": "password123"})
	expectError(t, w, http.StatusForbidden, "inactive_account")

	w = do(t, h, "POST", "/api/v1/users/wallet/update", tok, map[string]any{
		"amount": 10, "transaction_type": "deposit",
	})
	expectError(t, w, http.StatusBadRequest, "validation_error")
}

func TestPricesAndHealth(t *testing.T) {
	h := newTestRouter(t)

	w := do(t, h, "GET", "/api/v1/market/prices", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("prices: %d", w.Code)
	}
	prices := decodeBody[map[string]hub.Quote](t, w)
	if len(prices) != 8 || prices["AAPL"].Price != "175.50" {
		t.Errorf("unexpected prices: %+v", prices)
	}

	w = do(t, h, "GET", "/health", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("unexpected health: %d %s", w.Code, w.Body.String())
	}
}

func TestHealth_Degraded(t *testing.T) {
	tokens, _ := auth.NewTokenManager("s", 0)
	srv := NewServer(Deps{
		Tokens: tokens,
		Health: func(context.Context) error { return model.ErrStorageUnavailable },
	})
	w := do(t, srv.Router(), "GET", "/health", "", nil)
	if !strings.Contains(w.Body.String(), `"degraded"`) {
		t.Errorf("expected degraded status, got %s", w.Body.String())
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{fmt.Errorf("%w: x", model.ErrInsufficientFunds), 400, "insufficient_funds"},
		{fmt.Errorf("%w: x", model.ErrInvalidOrder), 400, "invalid_order"},
		{model.ErrValidation, 400, "validation_error"},
		{model.ErrInvalidSymbol, 400, "invalid_symbol"},
		{account.ErrInactive, 403, "inactive_account"},
		{model.ErrUnauthorized, 401, "unauthorized"},
		{model.ErrNotFound, 404, "not_found"},
		{model.ErrConflict, 409, "conflict"},
		{fmt.Errorf("ledger: %w", model.ErrStorageUnavailable), 503, "storage_unavailable"},
		{errors.New("boom"), 500, "internal_error"},
	}
	for _, tc := range cases {
		status, kind := classify(tc.err)
		if status != tc.status || kind != tc.kind {
			t.Errorf("%v: got %d %s, want %d %s", tc.err, status, kind, tc.status, tc.kind)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestRouter(t)
	do(t, h, "GET", "/health", "", nil)

	w := do(t, h, "GET", "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "papertrade_http_requests_total") {
		t.Error("expected http request counter in exposition")
	}
}
