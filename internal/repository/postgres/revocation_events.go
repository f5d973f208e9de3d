package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/NordCoder/Sentinel/internal/domain/outbox"
	"github.com/NordCoder/Sentinel/internal/domain/token"
)

var _ token.Events = (*OutboxEvents)(nil)

// OutboxEvents turns revocations into outbox rows written in the same
// transaction as the revocation itself.
type OutboxEvents struct {
	repo outbox.Repository
}

func NewOutboxEvents(repo outbox.Repository) *OutboxEvents {
	return &OutboxEvents{repo: repo}
}

func (e *OutboxEvents) TokenRevoked(ctx context.Context, rec token.RevocationRecord) error {
	return e.enqueue(ctx, token.TokenRevokedEvent(rec))
}

func (e *OutboxEvents) SubjectRevoked(ctx context.Context, rev token.SubjectRevocation) error {
	return e.enqueue(ctx, token.SubjectRevokedEvent(rev))
}

func (e *OutboxEvents) enqueue(ctx context.Context, ev token.RevocationEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	return e.repo.Enqueue(ctx, ev.Key(), outbox.KindRevocation, data)
}
