// Package outbox describes messages written in the same transaction as the
// state change they announce and delivered later by a runner.
package outbox

import (
	"context"
	"time"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDelivered  Status = "DELIVERED"
	// StatusFailed is terminal: the message is kept for inspection and
	// never picked again.
	StatusFailed Status = "FAILED"
)

// Kind names the payload type and selects the handler.
type Kind string

const KindRevocation Kind = "revocation"

func (k Kind) String() string { return string(k) }

type Message struct {
	IdempotencyKey string
	Kind           Kind
	Data           []byte
	Status         Status
	// Attempts counts failed deliveries.
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	// Trace is the propagated trace context of the enqueuing request.
	Trace     map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Repository interface {
	// Enqueue must join the caller's transaction when ctx carries one. A
	// second Enqueue with the same key is a no-op.
	Enqueue(ctx context.Context, key string, kind Kind, data []byte) error

	// PickBatch claims up to batch pending messages that are due, plus
	// in-progress ones whose claim is older than inProgressTTL. Messages due
	// earliest come first.
	PickBatch(ctx context.Context, batch int, inProgressTTL time.Duration) ([]Message, error)

	MarkDelivered(ctx context.Context, keys []string) error

	// MarkFailed returns the message to pending, records the error and
	// holds it back for retryIn.
	MarkFailed(ctx context.Context, key string, cause string, retryIn time.Duration) error

	// MarkDead moves the message to StatusFailed.
	MarkDead(ctx context.Context, key string, cause string) error

	// PurgeDelivered deletes delivered messages last touched before
	// cutoff.
	PurgeDelivered(ctx context.Context, cutoff time.Time) (int64, error)
}

type KindHandler func(ctx context.Context, data []byte) error

type GlobalHandler func(kind Kind) (KindHandler, error)
