package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/coinarena/ledger-engine/internal/model"
)

// KafkaPublisher writes trade events to a Kafka topic, keyed by account ID
// so one account's trades stay ordered within a partition.
type KafkaPublisher struct {
	w *kafka.Writer
}

// NewKafkaPublisher constructs an asynchronous writer for topic. Delivery
// failures are logged; they never reach the trade path.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Dialer:       dialer,
		BatchTimeout: 200 * time.Millisecond,
		RequiredAcks: int(kafka.RequireOne),
		Async:        true,
	})
	w.Completion = func(messages []kafka.Message, err error) {
		if err != nil {
			slog.Error("kafka delivery failed", "topic", topic, "messages", len(messages), "err", err)
		}
	}
	return &KafkaPublisher{w: w}
}

// Publish enqueues event on the writer.
func (p *KafkaPublisher) Publish(ctx context.Context, event model.TradeEvent) error {
	msg, err := encodeEvent(event)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

func encodeEvent(event model.TradeEvent) (kafka.Message, error) {
	b, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal trade event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.AccountID),
		Value: b,
		Time:  event.ExecutedAt,
	}, nil
}

// Publisher is anything that accepts trade events.
type Publisher interface {
	Publish(ctx context.Context, event model.TradeEvent) error
}

// Multi publishes every event to each of its publishers in order. All are
// attempted; their errors are joined.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event model.TradeEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
