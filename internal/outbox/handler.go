package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/kafka"
	"github.com/NordCoder/Sentinel/internal/domain/outbox"
	"github.com/NordCoder/Sentinel/internal/domain/token"
	"github.com/NordCoder/Sentinel/internal/obs/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var handlerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "outbox_handler_duration_seconds",
	Help:    "Handler time per message kind, retries included.",
	Buckets: prometheus.DefBuckets,
}, []string{"kind", "result"})

// permanentError marks a payload no retry can fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// withRetry runs h under pol and records the outcome. Permanent errors are
// never retried.
func withRetry(kind outbox.Kind, h outbox.KindHandler, pol retry.Policy) outbox.KindHandler {
	if pol.Name == "" {
		pol.Name = "outbox_" + kind.String()
	}
	retryable := pol.Retryable
	pol.Retryable = func(err error) bool {
		var perm permanentError
		if errors.As(err, &perm) {
			return false
		}
		return retryable == nil || retryable(err)
	}
	tr := otel.Tracer("outbox.handler")
	return func(ctx context.Context, data []byte) error {
		ctx, span := tr.Start(ctx, "outbox.handle "+kind.String(),
			trace.WithAttributes(attribute.Int("outbox.payload_bytes", len(data))))
		defer span.End()

		start := time.Now()
		err := retry.Do(ctx, func() error { return h(ctx, data) }, pol)
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
		}
		handlerLatency.WithLabelValues(kind.String(), result).Observe(time.Since(start).Seconds())
		return err
	}
}

// revocationHandler decodes a token.RevocationEvent and publishes it.
func revocationHandler(pub kafka.RevocationPublisher) outbox.KindHandler {
	return func(ctx context.Context, data []byte) error {
		var ev token.RevocationEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return permanentError{fmt.Errorf("decode revocation payload: %w", err)}
		}
		return pub.PublishRevocation(ctx, ev)
	}
}

// MakeGlobalOutboxHandler routes outbox kinds to their publishers.
func MakeGlobalOutboxHandler(pub kafka.RevocationPublisher, pol retry.Policy) outbox.GlobalHandler {
	handlers := map[outbox.Kind]outbox.KindHandler{
		outbox.KindRevocation: withRetry(outbox.KindRevocation, revocationHandler(pub), pol),
	}
	return func(kind outbox.Kind) (outbox.KindHandler, error) {
		h, ok := handlers[kind]
		if !ok {
			return nil, permanentError{fmt.Errorf("unsupported outbox kind %q", kind)}
		}
		return h, nil
	}
}
