package kafka

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var producedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kafka_producer_messages_total",
	Help: "Messages written by topic and result.",
}, []string{"topic", "result"})

// Producer writes keyed messages to one topic. Messages with the same key
// (the revoked subject) land on the same partition and stay ordered.
type Producer struct {
	w   *kafka.Writer
	log *zap.Logger
}

func NewProducer(brokers []string, topic string) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 5 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}
	return &Producer{w: w, log: zap.NewNop()}
}

func (p *Producer) WithLogger(l *zap.Logger) *Producer {
	if l != nil {
		p.log = l.With(zap.String("component", "kafka.producer"), zap.String("topic", p.w.Topic))
	}
	return p
}

// Publish writes one message with the caller's trace context in its
// headers.
func (p *Producer) Publish(ctx context.Context, key, value []byte) error {
	topic := p.w.Topic
	ctx, span := otel.Tracer("kafka.producer").Start(ctx, "publish "+topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(topic),
			semconv.MessagingOperationPublish,
		),
	)
	defer span.End()

	msg := kafka.Message{Key: key, Value: value}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{headers: &msg.Headers})

	if err := p.w.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		producedTotal.WithLabelValues(topic, "error").Inc()
		p.log.Warn("kafka write failed", zap.ByteString("key", key), zap.Error(err))
		return err
	}
	producedTotal.WithLabelValues(topic, "ok").Inc()
	p.log.Debug("published", zap.ByteString("key", key), zap.Int("bytes", len(value)))
	return nil
}

func (p *Producer) Close() error { return p.w.Close() }
