package gateway

import (
	"github.com/NordCoder/Sentinel/internal/repository/kafka"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FeedConsumerConfig builds the reader config for the denylist feed. The
// denylist only lives in memory, so offsets committed by an earlier process
// are useless to a new one: every call yields a fresh consumer group that
// starts at the first offset of each partition.
func FeedConsumerConfig(brokers []string, topic, groupPrefix string, log *zap.Logger) *kafka.ConsumerConfig {
	return &kafka.ConsumerConfig{
		Brokers:       brokers,
		GroupID:       groupPrefix + "-" + uuid.NewString(),
		Topic:         topic,
		FromBeginning: true,
		Logger:        log,
	}
}
