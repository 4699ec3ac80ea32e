// Package hub fans price updates out to live subscriber connections.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/papertrade/trading-engine/internal/metrics"
	"github.com/papertrade/trading-engine/internal/model"
)

// MessagePriceUpdate is the type tag of periodic price messages.
const MessagePriceUpdate = "price_update"

// Subscriber is one live connection. Send must not block: a connection that
// cannot take the message right now reports an error and is dropped.
type Subscriber interface {
	Send(msg []byte) error
	Close()
}

// Stepper advances the market and returns the full price map.
type Stepper interface {
	Step() map[string]model.PriceTick
}

// Hub manages the subscriber set. The set is only touched under mu, so a
// subscriber being removed is never written to once Unsubscribe returns.
type Hub struct {
	mu   sync.Mutex
	subs map[Subscriber]struct{}
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{subs: make(map[Subscriber]struct{})}
}

// Subscribe adds s to the active set.
func (h *Hub) Subscribe(s Subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	metrics.WebSocketClients.Set(float64(n))
	slog.Info("subscriber added", "total", n)
}

// Unsubscribe removes and closes s. Unknown subscribers are ignored.
func (h *Hub) Unsubscribe(s Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()

	if !ok {
		return
	}
	s.Close()
	metrics.WebSocketClients.Set(float64(n))
	slog.Info("subscriber removed", "total", n)
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Broadcast delivers payload to every subscriber. Subscribers whose send
// fails are removed in the same pass; delivery to the rest continues.
// Returns the number of successful deliveries.
func (h *Hub) Broadcast(payload []byte) int {
	h.mu.Lock()
	var dead []Subscriber
	delivered := 0
	for s := range h.subs {
		if err := s.Send(payload); err != nil {
			delete(h.subs, s)
			dead = append(dead, s)
			continue
		}
		delivered++
	}
	n := len(h.subs)
	h.mu.Unlock()

	for _, s := range dead {
		s.Close()
	}
	if len(dead) > 0 {
		metrics.SubscribersDropped.Add(float64(len(dead)))
		metrics.WebSocketClients.Set(float64(n))
		slog.Info("dropped dead subscribers", "dropped", len(dead), "total", n)
	}
	return delivered
}

// Run is the process-lifetime feed loop: every interval it steps the market
// and broadcasts the full price map. It returns when ctx is cancelled,
// closing all remaining subscribers.
func (h *Hub) Run(ctx context.Context, feed Stepper, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			payload, err := PriceUpdate(feed.Step())
			if err != nil {
				slog.Error("encode price update", "err", err)
				continue
			}
			h.Broadcast(payload)
			metrics.BroadcastTicks.Inc()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[Subscriber]struct{})
	h.mu.Unlock()

	for s := range subs {
		s.Close()
	}
	metrics.WebSocketClients.Set(0)
}

// Quote is the wire form of one PriceTick. Prices go out as JSON numbers
// with exactly two decimals.
type Quote struct {
	Price  json.Number `json:"price"`
	Change json.Number `json:"change"`
}

// NewQuote converts a tick to its wire form.
func NewQuote(t model.PriceTick) Quote {
	return Quote{
		Price:  json.Number(t.Price.StringFixed(model.MoneyScale)),
		Change: json.Number(t.Change.StringFixed(model.MoneyScale)),
	}
}

// Message is the envelope pushed to subscribers.
type Message struct {
	Type string           `json:"type"`
	Data map[string]Quote `json:"data"`
}

// PriceUpdate encodes a full price map as a price_update message.
func PriceUpdate(ticks map[string]model.PriceTick) ([]byte, error) {
	data := make(map[string]Quote, len(ticks))
	for sym, t := range ticks {
		data[sym] = NewQuote(t)
	}
	return json.Marshal(Message{Type: MessagePriceUpdate, Data: data})
}
