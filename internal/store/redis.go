package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/papertrade/trading-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for account lookups. Writes go to the primary store and invalidate
// the cache; reads check Redis first then fall back to the primary.
// Ledger and order reads are never cached.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	if err := s.primary.CreateAccount(ctx, a); err != nil {
		return err
	}
	s.cacheAccount(ctx, a)
	return nil
}

func (s *CachedStore) SetAccountActive(ctx context.Context, id string, active bool) error {
	if err := s.primary.SetAccountActive(ctx, id, active); err != nil {
		return err
	}
	s.rdb.Del(context.WithoutCancel(ctx), accountKey(id))
	return nil
}

func (s *CachedStore) ApplyEntry(ctx context.Context, accountID string, fn Mutation) (*model.LedgerEntry, error) {
	entry, err := s.primary.ApplyEntry(ctx, accountID, fn)
	if err != nil {
		return nil, err
	}
	// Balance changed; next read will re-populate. The entry is committed,
	// so the invalidation must outlive a cancelled request.
	s.rdb.Del(context.WithoutCancel(ctx), accountKey(accountID))
	return entry, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(id)).Bytes()
	if err == nil {
		var a cachedAccount
		if json.Unmarshal(data, &a) == nil {
			return a.account(), nil
		}
	}

	// Cache miss: read from primary.
	a, err := s.primary.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheAccount(ctx, a)
	return a, nil
}

func (s *CachedStore) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	// Try cache via username→ID mapping.
	id, err := s.rdb.Get(ctx, usernameKey(username)).Result()
	if err == nil {
		return s.GetAccount(ctx, id)
	}

	a, err := s.primary.GetAccountByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	s.cacheAccount(ctx, a)
	return a, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListEntries(ctx context.Context, accountID string, limit int) ([]model.LedgerEntry, error) {
	return s.primary.ListEntries(ctx, accountID, limit)
}

func (s *CachedStore) InsertOrder(ctx context.Context, o *model.Order) error {
	return s.primary.InsertOrder(ctx, o)
}

func (s *CachedStore) ListOrders(ctx context.Context, accountID string, limit int) ([]model.Order, error) {
	return s.primary.ListOrders(ctx, accountID, limit)
}

func (s *CachedStore) LastOrderSeq(ctx context.Context) (uint64, error) {
	return s.primary.LastOrderSeq(ctx)
}

// --- Cache helpers ---

// cachedAccount carries the password hash, which model.Account hides from JSON.
type cachedAccount struct {
	Account model.Account `json:"account"`
	Hash    string        `json:"password_hash"`
}

func (c cachedAccount) account() *model.Account {
	a := c.Account
	a.PasswordHash = c.Hash
	return &a
}

func (s *CachedStore) cacheAccount(ctx context.Context, a *model.Account) {
	if data, err := json.Marshal(cachedAccount{Account: *a, Hash: a.PasswordHash}); err == nil {
		s.rdb.Set(ctx, accountKey(a.ID), data, s.ttl)
		s.rdb.Set(ctx, usernameKey(a.Username), a.ID, s.ttl)
	}
}

func accountKey(id string) string { return fmt.Sprintf("account:%s", id) }
func usernameKey(name string) string { return fmt.Sprintf("username:%s", name) }
