package api

import (
	"fmt"
	"mime"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/account"
	"github.com/papertrade/trading-engine/internal/auth"
	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/validate"
)

type tokenRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// TokenResponse is returned by POST /users/token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type walletUpdateRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	TransactionType string          `json:"transaction_type" validate:"required,oneof=deposit withdrawal"`
	Description     string          `json:"description" validate:"max=255"`
}

// register handles POST /api/v1/users/register
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req account.Registration
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	acct, err := s.deps.Accounts.Register(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

// token handles POST /api/v1/users/token. Accepts a JSON body or an
// OAuth2-style form (username, password).
func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if isForm(r) {
		if err := r.ParseForm(); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid form: %v", model.ErrValidation, err))
			return
		}
		req.Username = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
		if err := validate.Struct(req); err != nil {
			writeError(w, r, err)
			return
		}
	} else if err := decodeValid(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	acct, err := s.deps.Accounts.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tok, err := s.deps.Tokens.Generate(acct.ID, acct.Username)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: tok,
		TokenType:   "bearer",
		ExpiresIn:   int64(s.deps.Tokens.TTL().Seconds()),
	})
}

// me handles GET /api/v1/users/me
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	acct, err := s.deps.Accounts.Get(r.Context(), id.AccountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// deactivate handles POST /api/v1/users/me/deactivate
func (s *Server) deactivate(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	acct, err := s.deps.Accounts.Deactivate(r.Context(), id.AccountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// updateWallet handles POST /api/v1/users/wallet/update
func (s *Server) updateWallet(w http.ResponseWriter, r *http.Request) {
	var req walletUpdateRequest
	if err := decodeValid(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id, _ := auth.FromContext(r.Context())
	entry, err := s.deps.Wallet.Apply(r.Context(), id.AccountID,
		model.EntryKind(req.TransactionType), req.Amount, req.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// transactions handles GET /api/v1/users/wallet/transactions?limit=
func (s *Server) transactions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, _ := auth.FromContext(r.Context())
	entries, err := s.deps.Wallet.Transactions(r.Context(), id.AccountID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func isForm(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "application/x-www-form-urlencoded" || mt == "multipart/form-data"
}
