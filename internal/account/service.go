// Package account registers users and authenticates them. New accounts
// start with model.StartingBalance, recorded as their first ledger entry.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/papertrade/trading-engine/internal/auth"
	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/store"
	"github.com/papertrade/trading-engine/internal/validate"
)

// ErrInactive is returned by Authenticate for deactivated accounts.
var ErrInactive = fmt.Errorf("%w: account is inactive", model.ErrUnauthorized)

// Registration is the input to Register.
type Registration struct {
	Username string `json:"username" validate:"required,min=3,max=50,alphanum"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// Service manages account lifecycle.
type Service struct {
	store store.Store
}

// NewService creates an account service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// Register validates the input, hashes the password and creates the
// account with the starting balance.
func (s *Service) Register(ctx context.Context, reg Registration) (*model.Account, error) {
	reg.Username = strings.TrimSpace(reg.Username)
	reg.Email = strings.ToLower(strings.TrimSpace(reg.Email))
	if err := validate.Struct(reg); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(reg.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}

	now := time.Now().UTC()
	acct := &model.Account{
		ID:           uuid.New().String(),
		Username:     reg.Username,
		Email:        reg.Email,
		PasswordHash: hash,
		Balance:      model.StartingBalance,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}

	slog.Info("account registered", "account", acct.ID, "username", acct.Username)
	return acct, nil
}

// Authenticate checks credentials. Unknown users and bad passwords are
// indistinguishable to the caller, in both error and bcrypt cost.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*model.Account, error) {
	acct, err := s.store.GetAccountByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, model.ErrNotFound) {
		auth.CheckDecoy(password)
		return nil, fmt.Errorf("%w: incorrect username or password", model.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(acct.PasswordHash, password) {
		return nil, fmt.Errorf("%w: incorrect username or password", model.ErrUnauthorized)
	}
	if !acct.Active {
		return nil, ErrInactive
	}
	return acct, nil
}

// Get returns an account by id.
func (s *Service) Get(ctx context.Context, id string) (*model.Account, error) {
	return s.store.GetAccount(ctx, id)
}

// Deactivate disables an account. Its ledger and orders are kept.
func (s *Service) Deactivate(ctx context.Context, id string) (*model.Account, error) {
	if err := s.store.SetAccountActive(ctx, id, false); err != nil {
		return nil, err
	}
	slog.Info("account deactivated", "account", id)
	return s.store.GetAccount(ctx, id)
}
