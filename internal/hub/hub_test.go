package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

type fakeSub struct {
	mu     sync.Mutex
	msgs   [][]byte
	fail   bool
	closed bool
}

func (f *fakeSub) Send(msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.closed {
		return errors.New("gone")
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeSub) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSub) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.msgs...)
}

func (f *fakeSub) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fixedStepper struct {
	mu    sync.Mutex
	steps int
}

func (s *fixedStepper) Step() map[string]model.PriceTick {
	s.mu.Lock()
	s.steps++
	n := s.steps
	s.mu.Unlock()
	return map[string]model.PriceTick{
		"AAPL": {Symbol: "AAPL", Price: decimal.NewFromInt(int64(100 + n)), Change: decimal.NewFromInt(1)},
	}
}

func TestBroadcast_DeliversToAll(t *testing.T) {
	h := New()
	a, b := &fakeSub{}, &fakeSub{}
	h.Subscribe(a)
	h.Subscribe(b)

	if n := h.Broadcast([]byte("x")); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	if len(a.received()) != 1 || len(b.received()) != 1 {
		t.Error("each subscriber should receive exactly one message")
	}
}

func TestBroadcast_EmptySetIsNoop(t *testing.T) {
	h := New()
	if n := h.Broadcast([]byte("x")); n != 0 {
		t.Errorf("expected 0 deliveries, got %d", n)
	}
}

func TestBroadcast_DropsFailedSubscriber(t *testing.T) {
	h := New()
	good, bad := &fakeSub{}, &fakeSub{fail: true}
	h.Subscribe(good)
	h.Subscribe(bad)

	if n := h.Broadcast([]byte("tick-1")); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if h.Len() != 1 {
		t.Fatalf("failed subscriber should be removed, have %d", h.Len())
	}
	if !bad.isClosed() {
		t.Error("failed subscriber should be closed")
	}

	h.Broadcast([]byte("tick-2"))
	if got := len(good.received()); got != 2 {
		t.Errorf("healthy subscriber missed a tick: got %d messages", got)
	}
}

func TestBroadcast_PreservesOrder(t *testing.T) {
	h := New()
	s := &fakeSub{}
	h.Subscribe(s)

	for i := 0; i < 5; i++ {
		h.Broadcast([]byte{byte('0' + i)})
	}
	msgs := s.received()
	for i, m := range msgs {
		if m[0] != byte('0'+i) {
			t.Fatalf("message %d out of order: %q", i, m)
		}
	}
}

func TestUnsubscribe_ClosesAndIgnoresUnknown(t *testing.T) {
	h := New()
	s := &fakeSub{}
	h.Subscribe(s)
	h.Unsubscribe(s)

	if h.Len() != 0 || !s.isClosed() {
		t.Error("unsubscribe should remove and close")
	}
	h.Unsubscribe(&fakeSub{})
	h.Broadcast([]byte("x"))
	if len(s.received()) != 0 {
		t.Error("removed subscriber must not receive broadcasts")
	}
}

func TestHub_ConcurrentChurnDuringBroadcast(t *testing.T) {
	h := New()
	stable := &fakeSub{}
	h.Subscribe(stable)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s := &fakeSub{}
				h.Subscribe(s)
				h.Unsubscribe(s)
			}
		}()
	}
	for j := 0; j < 100; j++ {
		h.Broadcast([]byte("x"))
	}
	wg.Wait()

	if h.Len() != 1 {
		t.Errorf("expected only the stable subscriber, have %d", h.Len())
	}
	if got := len(stable.received()); got != 100 {
		t.Errorf("stable subscriber got %d of 100 ticks", got)
	}
}

func TestRun_BroadcastsUntilCancelled(t *testing.T) {
	h := New()
	s := &fakeSub{}
	h.Subscribe(s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx, &fixedStepper{}, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(s.received()) < 3 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for ticks")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if !s.isClosed() || h.Len() != 0 {
		t.Error("cancel should close all subscribers")
	}

	var msg Message
	if err := json.Unmarshal(s.received()[0], &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != MessagePriceUpdate {
		t.Errorf("expected type %q, got %q", MessagePriceUpdate, msg.Type)
	}
	if msg.Data["AAPL"].Price != "101.00" {
		t.Errorf("expected first price 101.00, got %s", msg.Data["AAPL"].Price)
	}
}

func TestPriceUpdate_Format(t *testing.T) {
	payload, err := PriceUpdate(map[string]model.PriceTick{
		"MSFT": {Price: decimal.RequireFromString("378.9"), Change: decimal.RequireFromString("-1.5")},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"price_update","data":{"MSFT":{"price":378.90,"change":-1.50}}}`
	if string(payload) != want {
		t.Errorf("got  %s\nwant %s", payload, want)
	}
}
