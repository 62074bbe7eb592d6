// Package queue buffers work that must not block the request path.
//
// Two backends share one interface:
//
//   - MemoryQueue: a buffered channel. Nothing survives a restart. Suited to
//     single-instance and development deployments.
//   - RedisQueue: a Redis list. Survives restarts and can be drained by
//     workers on several instances.
//
// Items are stored as JSON so both backends hand the consumer the same bytes.
// Items a consumer gives up on go to a DeadLetterQueue.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Queue defines the interface for message queuing
type Queue interface {
	// Enqueue JSON-encodes item and appends it to the queue
	Enqueue(ctx context.Context, item any) error

	// DequeueWithTimeout waits up to timeout for the first item, then takes
	// whatever else is immediately available up to maxItems. An empty result
	// with a nil error means the timeout elapsed.
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]json.RawMessage, error)

	// Length returns the current queue length
	Length(ctx context.Context) (int, error)

	// Close shuts down the queue
	Close() error
}

// DeadLetterQueue holds items that exhausted their retries
type DeadLetterQueue interface {
	Add(ctx context.Context, payload json.RawMessage, cause error) error
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)
	Remove(ctx context.Context, id string) error
	Close() error
}

// DeadLetterItem represents an item in the dead letter queue
type DeadLetterItem struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Timestamp time.Time       `json:"timestamp"`
}

// Config holds queue configuration
type Config struct {
	// Name identifies the queue; Redis keys derive from it
	Name string

	// BatchSize is the maximum number of items to process in a batch
	BatchSize int

	// BatchTimeout is how long to wait before processing a partial batch
	BatchTimeout time.Duration

	// MaxRetries is the maximum number of retry attempts per item
	MaxRetries int

	// RetryBackoff is the initial backoff; it doubles on each retry
	RetryBackoff time.Duration
}

// DefaultConfig returns default queue configuration
func DefaultConfig(name string) *Config {
	return &Config{
		Name:         name,
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
	}
}
