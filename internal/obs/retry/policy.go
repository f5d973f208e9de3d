package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// PublishPolicy retries event publication from the outbox. The message
// stays pending after the last attempt and is picked up again later.
func PublishPolicy(log *zap.Logger) Policy {
	return Policy{
		Name:     "outbox_publish",
		Attempts: 6,
		Backoff:  ExpoJitter{Base: 200 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2},
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Warn("publish retry", zap.Int("attempt", i+1), zap.Error(err))
			}
		},
		OnExhaust: func(err error) {
			if log != nil && !errors.Is(err, context.Canceled) {
				log.Error("publish retries exhausted", zap.Error(err))
			}
		},
	}
}

// StartupPolicy waits for a dependency (database, redis) while the
// service boots.
func StartupPolicy(name string, log *zap.Logger) Policy {
	return Policy{
		Name:     "startup_" + name,
		Attempts: 10,
		Backoff:  ExpoJitter{Base: 250 * time.Millisecond, Max: 5 * time.Second, Jitter: 0.1},
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Info("waiting for dependency", zap.String("dep", name), zap.Int("attempt", i+1), zap.Error(err))
			}
		},
	}
}
