package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/papertrade/trading-engine/internal/model"
)

// BreakerStore guards a Store with a circuit breaker. Only storage failures
// count against the breaker; domain errors (not found, insufficient funds)
// pass through as successes. While open, every call fails fast with
// model.ErrStorageUnavailable. Nothing is retried.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps next with a breaker that trips once at least
// minRequests calls in the window failed at ratio 0.6 or above, and probes
// again after cooldown.
func NewBreakerStore(next Store, minRequests uint32, cooldown time.Duration) *BreakerStore {
	return &BreakerStore{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "ledger-store",
			MaxRequests: 3,
			Interval:    5 * time.Second,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= minRequests && failureRatio >= 0.6
			},
			IsSuccessful: func(err error) bool {
				if err == nil || errors.Is(err, context.Canceled) {
					return true
				}
				return !errors.Is(err, model.ErrStorageUnavailable)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				slog.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// State reports the breaker state, for health checks.
func (s *BreakerStore) State() gobreaker.State {
	return s.cb.State()
}

func guard[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

func (s *BreakerStore) exec(fn func() error) error {
	_, err := guard(s.cb, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func (s *BreakerStore) CreateAccount(ctx context.Context, a *model.Account) error {
	return s.exec(func() error { return s.next.CreateAccount(ctx, a) })
}

func (s *BreakerStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return guard(s.cb, func() (*model.Account, error) { return s.next.GetAccount(ctx, id) })
}

func (s *BreakerStore) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	return guard(s.cb, func() (*model.Account, error) { return s.next.GetAccountByUsername(ctx, username) })
}

func (s *BreakerStore) SetAccountActive(ctx context.Context, id string, active bool) error {
	return s.exec(func() error { return s.next.SetAccountActive(ctx, id, active) })
}

func (s *BreakerStore) ApplyEntry(ctx context.Context, accountID string, fn Mutation) (*model.LedgerEntry, error) {
	return guard(s.cb, func() (*model.LedgerEntry, error) { return s.next.ApplyEntry(ctx, accountID, fn) })
}

func (s *BreakerStore) ListEntries(ctx context.Context, accountID string, limit int) ([]model.LedgerEntry, error) {
	return guard(s.cb, func() ([]model.LedgerEntry, error) { return s.next.ListEntries(ctx, accountID, limit) })
}

func (s *BreakerStore) InsertOrder(ctx context.Context, o *model.Order) error {
	return s.exec(func() error { return s.next.InsertOrder(ctx, o) })
}

func (s *BreakerStore) ListOrders(ctx context.Context, accountID string, limit int) ([]model.Order, error) {
	return guard(s.cb, func() ([]model.Order, error) { return s.next.ListOrders(ctx, accountID, limit) })
}

func (s *BreakerStore) LastOrderSeq(ctx context.Context) (uint64, error) {
	return guard(s.cb, func() (uint64, error) { return s.next.LastOrderSeq(ctx) })
}
