// Package outbox delivers messages from the transactional outbox table to
// their handlers.
package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/outbox"
	"github.com/NordCoder/Sentinel/internal/obs"
	"github.com/NordCoder/Sentinel/internal/obs/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	deliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_messages_total",
		Help: "Outbox messages handled by result.",
	}, []string{"result"})
	pickErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_pick_errors_total",
		Help: "Failed attempts to claim a batch.",
	})
	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_batch_size",
		Help:    "Messages claimed per tick.",
		Buckets: []float64{0, 1, 5, 10, 50, 100, 500},
	})
	purgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_purged_total",
		Help: "Delivered messages deleted after retention.",
	})
)

type Config struct {
	Workers   int           `mapstructure:"workers"`
	BatchSize int           `mapstructure:"batch_size"`
	WaitTime  time.Duration `mapstructure:"wait_time"`
	// InProgressTTL releases claims of a runner that died mid-batch.
	InProgressTTL time.Duration `mapstructure:"in_progress_ttl"`
	// Retention keeps delivered messages around for inspection.
	Retention time.Duration `mapstructure:"retention"`
	// MaxAttempts failed deliveries move a message to FAILED.
	MaxAttempts int `mapstructure:"max_attempts"`
	// MaxRetryDelay caps the backoff between deliveries of one message.
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay"`
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.WaitTime <= 0 {
		c.WaitTime = time.Second
	}
	if c.InProgressTTL <= 0 {
		c.InProgressTTL = time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 20
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 5 * time.Minute
	}
	return c
}

type Runner struct {
	log      *zap.Logger
	repo     outbox.Repository
	dispatch outbox.GlobalHandler
	cfg      Config
	backoff  retry.ExpoJitter
}

func NewOutboxRunner(log *zap.Logger, repo outbox.Repository, dispatch outbox.GlobalHandler, cfg Config) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Runner{
		log:      log,
		repo:     repo,
		dispatch: dispatch,
		cfg:      cfg,
		backoff:  retry.ExpoJitter{Base: cfg.WaitTime, Max: cfg.MaxRetryDelay, Jitter: 0.2},
	}
}

// Run starts the workers and blocks until ctx is done and all of them exit.
func (r *Runner) Run(ctx context.Context) {
	r.log.Info("outbox runner started",
		zap.Int("workers", r.cfg.Workers),
		zap.Duration("wait", r.cfg.WaitTime),
	)
	var wg sync.WaitGroup
	for range r.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.loop(ctx)
		}()
	}
	wg.Wait()
	r.log.Info("outbox runner stopped")
}

func (r *Runner) loop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.WaitTime)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// tick claims one batch and delivers it. It returns how many messages were
// delivered.
func (r *Runner) tick(ctx context.Context) int {
	tr := otel.Tracer("outbox.runner")
	ctx, span := tr.Start(ctx, "outbox.tick", trace.WithAttributes(attribute.Int("outbox.batch_limit", r.cfg.BatchSize)))
	defer span.End()

	msgs, err := r.repo.PickBatch(ctx, r.cfg.BatchSize, r.cfg.InProgressTTL)
	if err != nil {
		span.RecordError(err)
		pickErrors.Inc()
		obs.WithTrace(ctx, r.log).Error("outbox pick", zap.Error(err))
		return 0
	}
	batchSize.Observe(float64(len(msgs)))
	if len(msgs) == 0 {
		return 0
	}

	delivered := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if r.deliver(ctx, tr, m) {
			delivered = append(delivered, m.IdempotencyKey)
		}
	}
	if err := r.repo.MarkDelivered(ctx, delivered); err != nil {
		span.RecordError(err)
		obs.WithTrace(ctx, r.log).Error("outbox mark delivered", zap.Int("count", len(delivered)), zap.Error(err))
	}
	return len(delivered)
}

func (r *Runner) deliver(ctx context.Context, tr trace.Tracer, m outbox.Message) bool {
	// The message span links to the request that enqueued it.
	parent := trace.SpanContextFromContext(otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(m.Trace)))
	ctx, span := tr.Start(ctx, "outbox.deliver",
		trace.WithLinks(trace.Link{SpanContext: parent}),
		trace.WithAttributes(
			attribute.String("outbox.key", m.IdempotencyKey),
			attribute.String("outbox.kind", m.Kind.String()),
			attribute.Int("outbox.attempts", m.Attempts),
		),
	)
	defer span.End()

	err := r.handle(ctx, m)
	if err == nil {
		deliveredTotal.WithLabelValues("ok").Inc()
		return true
	}

	span.RecordError(err)
	log := obs.WithTrace(ctx, r.log).With(
		zap.String("key", m.IdempotencyKey),
		zap.String("kind", m.Kind.String()),
		zap.Int("attempts", m.Attempts+1),
		zap.Error(err),
	)

	var perm permanentError
	if errors.As(err, &perm) || m.Attempts+1 >= r.cfg.MaxAttempts {
		deliveredTotal.WithLabelValues("dead").Inc()
		log.Error("outbox message given up")
		if merr := r.repo.MarkDead(ctx, m.IdempotencyKey, err.Error()); merr != nil {
			r.log.Warn("outbox mark dead", zap.String("key", m.IdempotencyKey), zap.Error(merr))
		}
		return false
	}

	deliveredTotal.WithLabelValues("error").Inc()
	retryIn := r.backoff.Next(m.Attempts)
	log.Error("outbox delivery failed", zap.Duration("retry_in", retryIn))
	if merr := r.repo.MarkFailed(ctx, m.IdempotencyKey, err.Error(), retryIn); merr != nil {
		r.log.Warn("outbox mark failed", zap.String("key", m.IdempotencyKey), zap.Error(merr))
	}
	return false
}

func (r *Runner) handle(ctx context.Context, m outbox.Message) error {
	h, err := r.dispatch(m.Kind)
	if err != nil {
		return err
	}
	return h(ctx, m.Data)
}

// SweepExpired purges messages delivered more than Retention before now.
// It lets an authority.Sweeper drive outbox cleanup.
func (r *Runner) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := r.repo.PurgeDelivered(ctx, now.Add(-r.cfg.Retention))
	if n > 0 {
		purgedTotal.Add(float64(n))
	}
	return n, err
}
