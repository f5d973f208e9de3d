package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/NordCoder/Sentinel/internal/obs/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Handler func(ctx context.Context, key, value []byte) error

var consumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kafka_consumer_messages_total",
	Help: "Messages handled by topic and result.",
}, []string{"topic", "result"})

type Consumer struct {
	reader *kafka.Reader
	log    *zap.Logger
	topic  string
}

type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topic   string
	// FromBeginning applies when the group has no committed offset yet. A
	// reader that must replay the topic on every start needs a fresh GroupID.
	FromBeginning bool
	Logger        *zap.Logger
}

func NewConsumer(cfg *ConsumerConfig) *Consumer {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	start := kafka.LastOffset
	if cfg.FromBeginning {
		start = kafka.FirstOffset
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: start,
		MinBytes:    1,
		MaxBytes:    1 << 20,
		MaxWait:     250 * time.Millisecond,

		WatchPartitionChanges: true,
		SessionTimeout:        10 * time.Second,
		HeartbeatInterval:     3 * time.Second,
	})
	return &Consumer{
		reader: r,
		topic:  cfg.Topic,
		log:    log.With(zap.String("component", "kafka.consumer"), zap.String("topic", cfg.Topic), zap.String("group", cfg.GroupID)),
	}
}

var fetchBackoff = retry.ExpoJitter{Base: 200 * time.Millisecond, Max: 5 * time.Second, Jitter: 0.2}

// Consume feeds every message to h until ctx ends. Handler failures are
// logged and the offset is still committed: revocation events are either
// applicable or never will be, and blocking the partition on one would
// hide every later revocation.
func (c *Consumer) Consume(ctx context.Context, h Handler) error {
	c.log.Info("consumer started")
	defer c.log.Info("consumer stopped")

	failures := 0
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := fetchBackoff.Next(failures)
			failures++
			c.log.Warn("fetch failed", zap.Error(err), zap.Duration("retry_in", wait))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		failures = 0

		c.handle(ctx, msg, h)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message, h Handler) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier{headers: &msg.Headers})
	ctx, span := otel.Tracer("kafka.consumer").Start(ctx, "consume "+c.topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(semconv.MessagingSystemKafka, semconv.MessagingDestinationName(c.topic)),
	)
	defer span.End()

	if err := h(ctx, msg.Key, msg.Value); err != nil {
		span.RecordError(err)
		consumedTotal.WithLabelValues(c.topic, "error").Inc()
		c.log.Error("dropping message",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return
	}
	consumedTotal.WithLabelValues(c.topic, "ok").Inc()
}

func (c *Consumer) Close() error { return c.reader.Close() }
