package gateway

import (
	"context"
	"fmt"

	"github.com/NordCoder/Sentinel/internal/domain/token"
	"github.com/NordCoder/Sentinel/internal/repository/memory"
	"go.uber.org/zap"
)

// Denylist is a local copy of revocations replayed from the revocation
// event stream. It only ever says "revoked"; a miss is not authoritative.
type Denylist struct {
	*memory.RevocationStore
	log *zap.Logger
}

func NewDenylist(log *zap.Logger) *Denylist {
	if log == nil {
		log = zap.NewNop()
	}
	return &Denylist{RevocationStore: memory.NewRevocationStore(), log: log}
}

// Apply is the kafka.RevocationHandler callback.
func (d *Denylist) Apply(ctx context.Context, ev token.RevocationEvent) error {
	switch ev.Type {
	case token.EventTokenRevoked:
		if ev.TokenID == "" {
			return fmt.Errorf("token event without jti for subject %q", ev.SubjectID)
		}
		_, created, err := d.Revoke(ctx, ev.Record())
		if err == nil && created {
			d.log.Debug("denylist: token", zap.String("jti", ev.TokenID), zap.String("reason", string(ev.Reason)))
		}
		return err
	case token.EventSubjectRevoked:
		if ev.SubjectID == "" || ev.NotBefore.IsZero() {
			return fmt.Errorf("subject event without subject or cutoff")
		}
		d.log.Debug("denylist: subject", zap.String("sub", ev.SubjectID), zap.Time("not_before", ev.NotBefore))
		return d.RevokeSubject(ctx, ev.SubjectRevocation())
	default:
		return fmt.Errorf("unknown revocation event type %q", ev.Type)
	}
}
