package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store deduplicates message deliveries by (topic, partition, offset) using a
// TTL-bounded marker. At-least-once delivery means the same offset can be
// fetched again after a crash; a set marker tells the consumer the handler
// already completed for it. The marker is written by the subscriber only
// after the handler finishes, so a crash mid-handler leaves the offset
// unmarked and the redelivery is processed normally.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) Key(topic string, partition int, offset int64) string {
	return fmt.Sprintf("idem:%s:%d:%d", topic, partition, offset)
}

// Seen reports whether the key has been marked, without marking it.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark records that processing for the key completed.
func (s *Store) Mark(ctx context.Context, key string) error {
	return s.rdb.Set(ctx, key, "1", s.ttl).Err()
}
