package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/outbox"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var _ outbox.Repository = (*OutboxRepo)(nil)

type OutboxRepo struct{ db *DB }

func NewOutboxRepo(db *DB) *OutboxRepo { return &OutboxRepo{db: db} }

const (
	qOutboxEnqueue = `
INSERT INTO outbox (idempotency_key, kind, payload, trace)
VALUES ($1, $2, $3, $4)
ON CONFLICT (idempotency_key) DO NOTHING`

	// Claims rows with SKIP LOCKED so concurrent runners never share one.
	qOutboxPick = `
UPDATE outbox o
SET status = 'IN_PROGRESS', updated_at = now()
WHERE o.idempotency_key IN (
    SELECT idempotency_key
    FROM outbox
    WHERE (status = 'PENDING' AND next_attempt_at <= now())
       OR (status = 'IN_PROGRESS' AND updated_at < now() - make_interval(secs => $2))
    ORDER BY next_attempt_at, created_at
    LIMIT $1
    FOR UPDATE SKIP LOCKED
)
RETURNING o.idempotency_key, o.kind, o.payload, o.status, o.attempts, o.last_error, o.next_attempt_at, o.trace, o.created_at, o.updated_at`

	qOutboxDelivered = `
UPDATE outbox SET status = 'DELIVERED', last_error = '', updated_at = now()
WHERE idempotency_key = ANY($1)`

	qOutboxFailed = `
UPDATE outbox
SET status = 'PENDING', attempts = attempts + 1, last_error = $2,
    next_attempt_at = now() + make_interval(secs => $3), updated_at = now()
WHERE idempotency_key = $1`

	qOutboxDead = `
UPDATE outbox SET status = 'FAILED', attempts = attempts + 1, last_error = $2, updated_at = now()
WHERE idempotency_key = $1`

	qOutboxPurge = `DELETE FROM outbox WHERE status = 'DELIVERED' AND updated_at < $1`
)

// Enqueue stores the caller's trace context next to the payload so the
// runner can continue the trace when it delivers.
func (r *OutboxRepo) Enqueue(ctx context.Context, key string, kind outbox.Kind, data []byte) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	trace, err := json.Marshal(carrier)
	if err != nil {
		return fmt.Errorf("outbox trace: %w", err)
	}

	if _, err := r.db.execQueryer(ctx).Exec(ctx, qOutboxEnqueue, key, string(kind), data, trace); err != nil {
		return fmt.Errorf("outbox enqueue: %w", err)
	}
	return nil
}

func (r *OutboxRepo) PickBatch(ctx context.Context, batch int, inProgressTTL time.Duration) ([]outbox.Message, error) {
	if batch <= 0 {
		return nil, errors.New("outbox: batch must be > 0")
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qOutboxPick, batch, inProgressTTL.Seconds())
	if err != nil {
		return nil, fmt.Errorf("outbox pick: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, scanOutboxMessage)
	if err != nil {
		return nil, fmt.Errorf("outbox pick: %w", err)
	}
	return msgs, nil
}

func scanOutboxMessage(row pgx.CollectableRow) (outbox.Message, error) {
	var (
		m      outbox.Message
		kind   string
		status string
		trace  []byte
	)
	err := row.Scan(&m.IdempotencyKey, &kind, &m.Data, &status, &m.Attempts, &m.LastError, &m.NextAttemptAt, &trace, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return m, err
	}
	m.Kind, m.Status = outbox.Kind(kind), outbox.Status(status)
	if len(trace) > 0 {
		if err := json.Unmarshal(trace, &m.Trace); err != nil {
			return m, fmt.Errorf("trace of %s: %w", m.IdempotencyKey, err)
		}
	}
	return m, nil
}

func (r *OutboxRepo) MarkDelivered(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	if _, err := r.db.Pool.Exec(ctx, qOutboxDelivered, keys); err != nil {
		return fmt.Errorf("outbox mark delivered: %w", err)
	}
	return nil
}

func (r *OutboxRepo) MarkFailed(ctx context.Context, key string, cause string, retryIn time.Duration) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	if _, err := r.db.Pool.Exec(ctx, qOutboxFailed, key, cause, retryIn.Seconds()); err != nil {
		return fmt.Errorf("outbox mark failed: %w", err)
	}
	return nil
}

func (r *OutboxRepo) MarkDead(ctx context.Context, key string, cause string) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	if _, err := r.db.Pool.Exec(ctx, qOutboxDead, key, cause); err != nil {
		return fmt.Errorf("outbox mark dead: %w", err)
	}
	return nil
}

func (r *OutboxRepo) PurgeDelivered(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	tag, err := r.db.Pool.Exec(ctx, qOutboxPurge, cutoff)
	if err != nil {
		return 0, fmt.Errorf("outbox purge: %w", err)
	}
	return tag.RowsAffected(), nil
}
