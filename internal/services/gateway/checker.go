package gateway

import (
	"context"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var revocationLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gateway_revocation_lookups_total",
	Help: "Revocation lookups by the layer that answered.",
}, []string{"layer"})

var _ token.RevocationChecker = LayeredChecker{}

// LayeredChecker answers from the local denylist when it has a hit and
// falls through to Remote otherwise. With Remote nil the denylist alone
// decides, which trades event lag for not depending on auth-service.
type LayeredChecker struct {
	Local  token.RevocationChecker
	Remote token.RevocationChecker
}

func (c LayeredChecker) IsRevoked(ctx context.Context, tokenID, subjectID string, issuedAt time.Time) (bool, error) {
	if c.Local != nil {
		revoked, err := c.Local.IsRevoked(ctx, tokenID, subjectID, issuedAt)
		if err == nil && revoked {
			revocationLookups.WithLabelValues("local").Inc()
			return true, nil
		}
	}
	if c.Remote == nil {
		revocationLookups.WithLabelValues("local").Inc()
		return false, nil
	}
	revocationLookups.WithLabelValues("remote").Inc()
	return c.Remote.IsRevoked(ctx, tokenID, subjectID, issuedAt)
}
