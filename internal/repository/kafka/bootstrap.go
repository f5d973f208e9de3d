package kafka

import (
	"context"

	"go.uber.org/zap"
)

// BootstrapConsumer ensures the topic before building the reader. A topic
// that cannot be confirmed is logged and consumed regardless: the reader
// keeps retrying on its own.
func BootstrapConsumer(ctx context.Context, cfg *ConsumerConfig, spec TopicSpec, logger *zap.Logger) *Consumer {
	if spec.Name == "" {
		spec.Name = cfg.Topic
	}
	if err := EnsureTopic(ctx, cfg.Brokers, spec, logger); err != nil {
		logger.Warn("topic not ensured", zap.String("topic", spec.Name), zap.Error(err))
	}
	return NewConsumer(cfg)
}
