// Package fallback holds bookings that could not reach the upstream provider.
// Items are stored in Redis; a drain worker outside this module claims them
// with Dequeue and settles them with MarkProcessed or MarkAbandoned.
package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusAbandoned  Status = "abandoned"
)

var (
	ErrItemNotFound      = errors.New("fallback item not found")
	ErrQueueEmpty        = errors.New("fallback queue empty")
	ErrInvalidTransition = errors.New("fallback item not in an eligible status")
)

type Item struct {
	ID         string          `json:"queueId"`
	Payload    json.RawMessage `json:"payload"`
	Reason     string          `json:"reason,omitempty"`
	Status     Status          `json:"status"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"lastError,omitempty"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

type Queue interface {
	// Enqueue stores payload verbatim. reason is the last upstream error.
	Enqueue(ctx context.Context, payload []byte, reason string) (*Item, error)
	Get(ctx context.Context, id string) (*Item, error)

	// Dequeue claims the oldest queued item and moves it to processing.
	Dequeue(ctx context.Context) (*Item, error)
	MarkProcessed(ctx context.Context, id string) error
	MarkAbandoned(ctx context.Context, id, reason string) error
}

// Notifier announces new items. Failures never fail an enqueue.
type Notifier interface {
	Notify(ctx context.Context, item Item) error
}
