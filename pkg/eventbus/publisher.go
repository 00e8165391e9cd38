// Package eventbus is the durable event channel of the fulfillment saga: a
// thin layer over Kafka giving key-affine publishing, consumer groups with
// configurable worker concurrency, delivery dedup, and per-topic dead-letter
// routing. Delivery is at-least-once; handlers must tolerate redelivery.
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/tracing"
)

// Publisher writes messages keyed for partition affinity: messages sharing a
// key land on the same partition and are observed in publish order.
type Publisher struct {
	log    *slog.Logger
	writer *kafka.Writer
}

func NewPublisher(log *slog.Logger, brokers []string) *Publisher {
	return &Publisher{
		log: log,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish JSON-encodes payload and writes it with generated event_id and
// event_ts headers plus the current trace context.
func (p *Publisher) Publish(ctx context.Context, topic, key, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	headers := []kafka.Header{
		{Key: "event_id", Value: []byte(uuid.NewString())},
		{Key: "event_ts", Value: []byte(time.Now().UTC().Format(time.RFC3339Nano))},
		{Key: "event_type", Value: []byte(eventType)},
		{Key: "event_key", Value: []byte(key)},
	}
	headers = tracing.InjectKafkaHeaders(ctx, headers)

	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   data,
		Headers: headers,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("publish failed", "topic", topic, "key", key, "err", err)
		return err
	}
	return nil
}

// WriteMessages exposes the underlying writer so the outbox dispatcher can
// reuse the same keyed producer.
func (p *Publisher) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *Publisher) Close() error { return p.writer.Close() }
