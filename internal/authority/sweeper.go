package authority

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweepable is anything holding revocation records that outlive their use.
// Both Authority and the bare stores satisfy it.
type Sweepable interface {
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

type Sweeper struct {
	Log    *zap.Logger
	Target Sweepable
	Every  time.Duration
	Now    func() time.Time
}

func NewSweeper(log *zap.Logger, target Sweepable, every time.Duration) *Sweeper {
	return &Sweeper{
		Log:    log,
		Target: target,
		Every:  every,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	start := time.Now()
	n, err := s.Target.SweepExpired(ctx, s.Now())
	if err != nil {
		sweepErrors.Inc()
		s.Log.Warn("sweep error", zap.Error(err))
	}
	if n > 0 {
		sweptTotal.Add(float64(n))
		s.Log.Debug("swept expired revocations", zap.Int64("removed", n))
	}
	sweepDuration.Observe(time.Since(start).Seconds())
}

// Run sweeps once immediately and then every s.Every until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Every)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}
