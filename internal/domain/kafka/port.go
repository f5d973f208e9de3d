package kafka

import (
	"context"

	"github.com/NordCoder/Sentinel/internal/domain/token"
)

type RevocationPublisher interface {
	PublishRevocation(ctx context.Context, ev token.RevocationEvent) error
}
