package queue

import (
	"context"
	"errors"
	"time"
)

const (
	// Rfc3339Milli is like time.RFC3339Nano, but with millisecond precision
	Rfc3339Milli = "2006-01-02T15:04:05.000Z07:00"
)

// Message status values.
const (
	StatusWaiting   = "waiting"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrNoMessage is returned by Dequeue when nothing is visible.
var ErrNoMessage = errors.New("no visible message")

// EnqueueOptions control a message's visibility and retry behavior.
type EnqueueOptions struct {
	// Delay defers the message's first visibility.
	Delay time.Duration

	// MaxAttempts is how many times the message may be attempted
	// before it is marked failed. Zero means one attempt.
	MaxAttempts int

	// RetryDelay defers the message's visibility again after a
	// failed attempt.
	RetryDelay time.Duration
}

// Store is the durable collaborator: a crash-safe queue that owns
// persistence and retry. The worker-pool core consumes it as a plain
// execution backend and never reimplements it.
type Store interface {
	// Enqueue puts a message on a queue and returns its id.
	Enqueue(ctx context.Context, queueName string, payload []byte, opts EnqueueOptions) (string, error)

	// Dequeue fetches the oldest visible waiting message across all
	// queues, marks it active and counts the attempt. It returns
	// ErrNoMessage when nothing is visible.
	Dequeue(ctx context.Context) (Message, error)

	// Lookup returns the message with the given id, or nil.
	Lookup(ctx context.Context, id string) (*Message, error)

	// Complete marks an active message completed.
	Complete(ctx context.Context, id string) error

	// Fail records a failed attempt: the message becomes visible
	// again after its retry delay, or is marked failed once its
	// attempts are exhausted.
	Fail(ctx context.Context, id string) error

	// Metrics returns aggregate message counts by status.
	Metrics(ctx context.Context) (Metrics, error)

	CreateQueue(ctx context.Context, queueName string) error

	QueueExists(ctx context.Context, queueName string) bool
}

type Message struct {
	Id           string `json:"id" db:"id"`
	QueueId      string `json:"queue_id" db:"queue_id"`
	Status       string `json:"status" db:"status"`
	Payload      []byte `json:"payload" db:"payload"`
	Attempts     int    `json:"attempts" db:"attempts"`
	MaxAttempts  int    `json:"max_attempts" db:"max_attempts"`
	RetryDelayMs int64  `json:"retry_delay_ms" db:"retry_delay_ms"`
	VisibleAt    string `json:"visible_at" db:"visible_at"`
	CreatedAt    string `json:"created_at" db:"created_at"`
	UpdatedAt    string `json:"updated_at" db:"updated_at"`
}

func (m *Message) VisibleTime() time.Time {
	t, err := time.Parse(Rfc3339Milli, m.VisibleAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Metrics are aggregate counts over every queue in the store.
type Metrics struct {
	Waiting   int64 `db:"waiting"`
	Active    int64 `db:"active"`
	Completed int64 `db:"completed"`
	Failed    int64 `db:"failed"`
}

// QueueRecord is a row in the queues table.
type QueueRecord struct {
	Id        string `db:"id"`
	Name      string `db:"name"`
	CreatedAt string `db:"created_at"`
}
