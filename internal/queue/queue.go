// Package queue moves paywall side effects off the request path.
//
// Two queues exist at runtime:
//
//	decision ──► audit queue  ──► AuditQueueWorker  ──► Postgres / S3   (retry, DLQ)
//	granted  ──► charge queue ──► ChargeQueueWorker ──► credit ledger   (retry, DLQ)
//
// Each queue has an in-memory backend (single process, lost on restart) and
// a Redis list backend (persistent, shared between replicas).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Queue is a FIFO of JSON-serialisable items.
type Queue interface {
	// Enqueue adds an item to the tail of the queue.
	Enqueue(ctx context.Context, item interface{}) error

	// Dequeue blocks until at least one item is available, then returns up
	// to maxItems.
	Dequeue(ctx context.Context, maxItems int) ([]interface{}, error)

	// DequeueWithTimeout is Dequeue bounded by timeout; it returns an empty
	// slice when nothing arrives in time.
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]interface{}, error)

	Length(ctx context.Context) (int, error)

	Close() error
}

// DeadLetterQueue holds items that exhausted their retries.
type DeadLetterQueue interface {
	Add(ctx context.Context, item interface{}, err error) error
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)
	Remove(ctx context.Context, id string) error
	Close() error
}

// DeadLetterItem is a failed item plus the error that sent it here.
type DeadLetterItem struct {
	ID        string      `json:"id"`
	Item      interface{} `json:"item"`
	Error     string      `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
	Retries   int         `json:"retries"`
}

// Config holds per-queue worker settings.
type Config struct {
	// Name is the queue name; Redis keys are derived from it.
	Name string

	// BatchSize is the maximum number of items processed together.
	BatchSize int

	// BatchTimeout is how long a worker waits for a partial batch.
	BatchTimeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// RetryBackoff is the first retry delay; it doubles per attempt.
	RetryBackoff time.Duration
}

// DefaultConfig returns the default settings for a named queue.
func DefaultConfig(name string) *Config {
	return &Config{
		Name:         name,
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: time.Second,
	}
}

// Backoff returns the delay before the given retry attempt (1-based).
func (c *Config) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return c.RetryBackoff * time.Duration(1<<uint(attempt-1))
}

// Decode converts a dequeued item into target. Memory queues hand back the
// original value; Redis queues hand back json.RawMessage.
func Decode(item interface{}, target interface{}) error {
	var data []byte
	switch v := item.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		var err error
		data, err = json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal item: %w", err)
		}
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to decode item: %w", err)
	}
	return nil
}
