package eventbus

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/metrics"
	"github.com/erenzirekbilek/ecommerce-order-saga/pkg/tracing"
)

// Message is a delivered event. Handlers receive the raw payload and decide
// how to decode it.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
}

// Handler processes one message. A nil return acknowledges the message; a
// non-nil return means processing can never succeed here (in-handler retries
// are already spent) and routes the message to the dead-letter topic.
type Handler func(ctx context.Context, msg Message) error

// Deduper suppresses redeliveries the handler already completed. Seen is a
// read-only check; Mark records completion and must only be called after the
// handler succeeds or the message is dead-lettered, otherwise a crash between
// mark and commit would make the redelivery look like a duplicate.
type Deduper interface {
	Key(topic string, partition int, offset int64) string
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type deadLetterWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type SubscriberConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	Concurrency int
}

// Subscriber runs a pool of consumer workers over one topic. Partitions are
// balanced across workers by the consumer group, so processing is parallel
// across partitions and in-order within one.
type Subscriber struct {
	log       *slog.Logger
	cfg       SubscriberConfig
	handler   Handler
	dedup     Deduper
	dlt       deadLetterWriter
	metrics   *metrics.ConsumerMetrics
	newReader func() fetcher
}

func NewSubscriber(log *slog.Logger, cfg SubscriberConfig, handler Handler, dedup Deduper, m *metrics.ConsumerMetrics) *Subscriber {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	return &Subscriber{
		log:     log,
		cfg:     cfg,
		handler: handler,
		dedup:   dedup,
		dlt: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		metrics: m,
		newReader: func() fetcher {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers: cfg.Brokers,
				Topic:   cfg.Topic,
				GroupID: cfg.GroupID,
			})
		},
	}
}

func (s *Subscriber) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Concurrency; i++ {
		g.Go(func() error { return s.consume(ctx, s.newReader()) })
	}
	return g.Wait()
}

func (s *Subscriber) consume(ctx context.Context, r fetcher) error {
	defer r.Close()
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := s.process(ctx, r, msg); err != nil {
			// A message is not consumed until committed; crashing out here
			// causes redelivery.
			return err
		}
	}
}

func (s *Subscriber) process(ctx context.Context, r fetcher, msg kafka.Message) error {
	var dedupKey string
	if s.dedup != nil {
		dedupKey = s.dedup.Key(msg.Topic, msg.Partition, msg.Offset)
		seen, err := s.dedup.Seen(ctx, dedupKey)
		if err != nil {
			s.log.Error("dedup check failed", "topic", msg.Topic, "err", err)
		} else if seen {
			s.log.Info("duplicate delivery skipped", "topic", msg.Topic, "offset", msg.Offset)
			s.count(msg.Topic, "duplicate")
			return r.CommitMessages(ctx, msg)
		}
	}

	mctx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	start := time.Now()
	err := s.handler(mctx, fromKafka(msg))
	if s.metrics != nil {
		s.metrics.HandleSeconds.WithLabelValues(msg.Topic).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		s.count(msg.Topic, "error")
		if dltErr := s.deadLetter(ctx, msg, err); dltErr != nil {
			s.log.Error("dead-letter publish failed", "topic", msg.Topic, "err", dltErr)
			return dltErr
		}
	} else {
		s.count(msg.Topic, "ok")
	}

	// Marked only once the outcome is settled. A crash before this point
	// leaves the key unset, so the redelivery runs the handler again.
	if s.dedup != nil {
		if err := s.dedup.Mark(ctx, dedupKey); err != nil {
			s.log.Error("dedup mark failed", "topic", msg.Topic, "err", err)
		}
	}
	return r.CommitMessages(ctx, msg)
}

// deadLetter routes a poisoned message to <topic>.DLT with the original
// payload, the failure description, and a correlation id, after which it is
// never redelivered on the primary topic.
func (s *Subscriber) deadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	correlation := headerValue(msg.Headers, "event_id")
	if correlation == "" {
		correlation = uuid.NewString()
	}
	headers := append([]kafka.Header{}, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "dlt_reason", Value: []byte(cause.Error())},
		kafka.Header{Key: "dlt_origin_topic", Value: []byte(msg.Topic)},
		kafka.Header{Key: "dlt_correlation_id", Value: []byte(correlation)},
	)
	err := s.dlt.WriteMessages(ctx, kafka.Message{
		Topic:   msg.Topic + ".DLT",
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
	if err != nil {
		return err
	}
	s.log.Warn("message dead-lettered", "topic", msg.Topic, "correlation_id", correlation, "reason", cause.Error())
	if s.metrics != nil {
		s.metrics.DeadLettered.WithLabelValues(msg.Topic).Inc()
	}
	return nil
}

func (s *Subscriber) count(topic, result string) {
	if s.metrics != nil {
		s.metrics.Consumed.WithLabelValues(topic, result).Inc()
	}
}

func fromKafka(msg kafka.Message) Message {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Message{
		Topic:     msg.Topic,
		Key:       string(msg.Key),
		Value:     msg.Value,
		Headers:   headers,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	}
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
