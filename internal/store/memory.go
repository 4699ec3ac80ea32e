package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/papertrade/trading-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	accounts   map[string]*model.Account
	byUsername map[string]string
	ledger     map[string][]model.LedgerEntry // account ID → entries, oldest first
	orders     []model.Order
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:   make(map[string]*model.Account),
		byUsername: make(map[string]string),
		ledger:     make(map[string][]model.LedgerEntry),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, acct *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[acct.Username]; ok {
		return fmt.Errorf("%w: username %s", model.ErrConflict, acct.Username)
	}
	for _, existing := range s.accounts {
		if existing.Email == acct.Email {
			return fmt.Errorf("%w: email %s", model.ErrConflict, acct.Email)
		}
	}

	// Store a copy to avoid external mutation.
	copy := *acct
	s.accounts[acct.ID] = &copy
	s.byUsername[acct.Username] = acct.ID
	s.ledger[acct.ID] = append(s.ledger[acct.ID], openingEntry(acct))
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", model.ErrNotFound, id)
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	s.mu.RLock()
	id, ok := s.byUsername[username]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: user %s", model.ErrNotFound, username)
	}
	return s.GetAccount(ctx, id)
}

func (s *MemoryStore) SetAccountActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("%w: account %s", model.ErrNotFound, id)
	}
	a.Active = active
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// ApplyEntry holds the write lock for the whole read-validate-write-append
// sequence, so the balance and the entry become visible together.
func (s *MemoryStore) ApplyEntry(_ context.Context, accountID string, fn Mutation) (*model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", model.ErrNotFound, accountID)
	}

	snapshot := *a
	entry, err := fn(&snapshot)
	if err != nil {
		return nil, err
	}
	if err := finishEntry(a, entry); err != nil {
		return nil, err
	}

	a.Balance = entry.BalanceAfter
	a.UpdatedAt = entry.CreatedAt
	s.ledger[accountID] = append(s.ledger[accountID], *entry)

	out := *entry
	return &out, nil
}

func (s *MemoryStore) ListEntries(_ context.Context, accountID string, limit int) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		return []model.LedgerEntry{}, nil
	}
	entries := s.ledger[accountID]
	result := make([]model.LedgerEntry, 0, min(limit, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, entries[i])
	}
	return result, nil
}

func (s *MemoryStore) InsertOrder(_ context.Context, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orders {
		if o.ID == order.ID {
			return fmt.Errorf("%w: order %s", model.ErrConflict, order.ID)
		}
	}
	s.orders = append(s.orders, *order)
	return nil
}

func (s *MemoryStore) ListOrders(_ context.Context, accountID string, limit int) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []model.Order{}
	for i := len(s.orders) - 1; i >= 0 && len(result) < limit; i-- {
		if s.orders[i].AccountID == accountID {
			result = append(result, s.orders[i])
		}
	}
	return result, nil
}

func (s *MemoryStore) LastOrderSeq(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last uint64
	for _, o := range s.orders {
		if o.Seq > last {
			last = o.Seq
		}
	}
	return last, nil
}
