package outbox

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Event is a persisted, not-yet-published message row. Rows are written in
// the same transaction as the state change they announce.
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	Topic         string
	Key           string
	Type          string
	Payload       []byte
	Headers       map[string]string
	Traceparent   string
	CreatedAt     time.Time
	Status        Status
	RetryCount    int
	LastError     *string
}

// Pending describes an event to enqueue alongside an aggregate write.
type Pending struct {
	AggregateType string
	AggregateID   string
	Topic         string
	Key           string
	Type          string
	Payload       []byte
	Headers       map[string]string
	Traceparent   string
}
