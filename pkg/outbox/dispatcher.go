package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Dispatcher publishes locked outbox rows to their topics. Every publish
// carries a generated event id and production timestamp header for
// correlation, independent of the payload's own fields.
type Dispatcher struct {
	log      *slog.Logger
	producer Producer
}

func NewDispatcher(log *slog.Logger, producer Producer) *Dispatcher {
	return &Dispatcher{log: log, producer: producer}
}

func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	headers := make([]kafka.Header, 0, len(event.Headers)+4)
	for k, v := range event.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	headers = append(headers,
		kafka.Header{Key: "event_id", Value: []byte(uuid.NewString())},
		kafka.Header{Key: "event_ts", Value: []byte(time.Now().UTC().Format(time.RFC3339Nano))},
		kafka.Header{Key: "event_type", Value: []byte(event.Type)},
		kafka.Header{Key: "event_key", Value: []byte(event.Key)},
	)
	if event.Traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(event.Traceparent)})
	}

	msg := kafka.Message{
		Topic:   event.Topic,
		Key:     []byte(event.Key),
		Value:   event.Payload,
		Headers: headers,
	}
	if err := d.producer.WriteMessages(ctx, msg); err != nil {
		d.log.Error("outbox dispatch failed", "event_id", event.ID, "topic", event.Topic, "err", err)
		return err
	}
	d.log.Info("outbox dispatched", "event_id", event.ID, "topic", event.Topic, "type", event.Type)
	return nil
}
