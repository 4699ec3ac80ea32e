// Package events publishes executed orders to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/papertrade/trading-engine/internal/model"
)

// TypeOrderExecuted tags events emitted after a successful settlement.
const TypeOrderExecuted = "order_executed"

// Publisher receives every executed order. Publish failures never undo an
// order; callers log them and move on.
type Publisher interface {
	PublishOrder(ctx context.Context, order *model.Order) error
	Close() error
}

// Event is the envelope written to the topic.
type Event struct {
	Type  string       `json:"type"`
	Order *model.Order `json:"order"`
	At    time.Time    `json:"at"`
}

// Encode serialises an executed-order event.
func Encode(order *model.Order) ([]byte, error) {
	return json.Marshal(Event{Type: TypeOrderExecuted, Order: order, At: order.Timestamp})
}

// Noop discards events. Used when no broker is configured.
type Noop struct{}

func (Noop) PublishOrder(context.Context, *model.Order) error { return nil }
func (Noop) Close() error { return nil }

// KafkaPublisher writes order events keyed by account id, so one account's
// orders stay on one partition in execution order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for topic on brokers. Writes are
// async; delivery errors are logged from the completion callback.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
			BatchTimeout: 10 * time.Millisecond,
			Completion: func(msgs []kafka.Message, err error) {
				if err != nil {
					slog.Error("order events not delivered", "count", len(msgs), "err", err)
				}
			},
		},
	}
}

func (p *KafkaPublisher) PublishOrder(ctx context.Context, order *model.Order) error {
	value, err := Encode(order)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(order.AccountID),
		Value: value,
	})
}

// Close flushes pending writes.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
