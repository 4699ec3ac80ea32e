// Package market generates the synthetic price stream. One Feed instance
// holds the process-wide price state: the order engine reads it, the
// broadcast hub advances and publishes it.
package market

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

var (
	// DefaultMaxDelta bounds the per-tick random move in either direction.
	DefaultMaxDelta = decimal.RequireFromString("2.00")

	// PriceFloor keeps every price strictly positive.
	PriceFloor = decimal.RequireFromString("0.01")
)

// Seed is the initial state of one symbol.
type Seed struct {
	Symbol string
	Price  decimal.Decimal
	Change decimal.Decimal
}

// DefaultSeeds returns the built-in tradable universe.
func DefaultSeeds() []Seed {
	return []Seed{
		{"AAPL", decimal.RequireFromString("175.50"), decimal.RequireFromString("2.45")},
		{"GOOGL", decimal.RequireFromString("2845.20"), decimal.RequireFromString("-15.30")},
		{"MSFT", decimal.RequireFromString("378.90"), decimal.RequireFromString("8.75")},
		{"TSLA", decimal.RequireFromString("245.67"), decimal.RequireFromString("-5.23")},
		{"AMZN", decimal.RequireFromString("3456.78"), decimal.RequireFromString("23.45")},
		{"NVDA", decimal.RequireFromString("456.32"), decimal.RequireFromString("12.87")},
		{"META", decimal.RequireFromString("324.15"), decimal.RequireFromString("-7.89")},
		{"NFLX", decimal.RequireFromString("456.78"), decimal.RequireFromString("15.23")},
	}
}

// Feed holds one PriceTick per tradable symbol and advances them on Step.
// Safe for concurrent use.
type Feed struct {
	mu       sync.RWMutex
	ticks    map[string]*model.PriceTick
	symbols  []string
	rng      *rand.Rand
	maxCents int64
}

// NewFeed seeds a feed. A nil src uses a time-seeded source; a non-positive
// maxDelta falls back to DefaultMaxDelta.
func NewFeed(seeds []Seed, maxDelta decimal.Decimal, src rand.Source) *Feed {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	if !maxDelta.IsPositive() {
		maxDelta = DefaultMaxDelta
	}

	f := &Feed{
		ticks:    make(map[string]*model.PriceTick, len(seeds)),
		rng:      rand.New(src),
		maxCents: maxDelta.Shift(int32(model.MoneyScale)).IntPart(),
	}
	for _, s := range seeds {
		if _, dup := f.ticks[s.Symbol]; dup {
			continue
		}
		f.ticks[s.Symbol] = &model.PriceTick{
			Symbol: s.Symbol,
			Price:  s.Price.Round(model.MoneyScale),
			Change: s.Change.Round(model.MoneyScale),
		}
		f.symbols = append(f.symbols, s.Symbol)
	}
	sort.Strings(f.symbols)
	return f
}

// Step advances every symbol by an independent uniform delta in
// [-maxDelta, +maxDelta], clamps at PriceFloor, and returns the new state.
func (f *Feed) Step() map[string]model.PriceTick {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sym := range f.symbols {
		t := f.ticks[sym]
		cents := f.rng.Int63n(2*f.maxCents+1) - f.maxCents
		delta := decimal.New(cents, -model.MoneyScale)

		next := t.Price.Add(delta)
		if next.LessThan(PriceFloor) {
			next = PriceFloor
		}
		t.Price = next
		t.Change = delta
	}
	return f.snapshotLocked()
}

// Price returns the current price of symbol.
func (f *Feed) Price(symbol string) (decimal.Decimal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	t, ok := f.ticks[symbol]
	if !ok {
		return decimal.Zero, false
	}
	return t.Price, true
}

// Has reports whether symbol is tradable.
func (f *Feed) Has(symbol string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.ticks[symbol]
	return ok
}

// Symbols returns the tradable symbols in sorted order.
func (f *Feed) Symbols() []string {
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

// Snapshot returns a copy of the full price map.
func (f *Feed) Snapshot() map[string]model.PriceTick {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snapshotLocked()
}

func (f *Feed) snapshotLocked() map[string]model.PriceTick {
	out := make(map[string]model.PriceTick, len(f.ticks))
	for sym, t := range f.ticks {
		out[sym] = *t
	}
	return out
}
