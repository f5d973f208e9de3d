package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	domainkafka "github.com/NordCoder/Sentinel/internal/domain/kafka"
	"github.com/NordCoder/Sentinel/internal/domain/token"
)

// DefaultRevocationsTopic carries token.RevocationEvent as JSON, keyed by
// subject so one subject's events stay ordered.
const DefaultRevocationsTopic = "sentinel.auth.revocations"

var _ domainkafka.RevocationPublisher = (*RevocationEventsKafka)(nil)

type RevocationEventsKafka struct {
	p *Producer
}

func NewRevocationEventsKafka(p *Producer) *RevocationEventsKafka {
	return &RevocationEventsKafka{p: p}
}

func (e *RevocationEventsKafka) PublishRevocation(ctx context.Context, ev token.RevocationEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal revocation event: %w", err)
	}
	return e.p.Publish(ctx, []byte(ev.SubjectID), value)
}

// RevocationHandler decodes revocation events and hands them to apply.
func RevocationHandler(apply func(ctx context.Context, ev token.RevocationEvent) error) Handler {
	return func(ctx context.Context, _, value []byte) error {
		var ev token.RevocationEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			return fmt.Errorf("unmarshal revocation event: %w", err)
		}
		return apply(ctx, ev)
	}
}
