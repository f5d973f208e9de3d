package authority

import (
	"github.com/NordCoder/Sentinel/internal/domain/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	verifyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authority_verify_total",
		Help: "Token verifications by result.",
	}, []string{"result"})
	issuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authority_tokens_issued_total",
		Help: "Tokens minted by kind.",
	}, []string{"kind"})
	revocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authority_revocations_total",
		Help: "Newly created revocations by scope and reason.",
	}, []string{"scope", "reason"})
	revocationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authority_revocations_failed_total",
		Help: "Revocations that could not be written.",
	})
	sweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authority_swept_records_total",
		Help: "Expired revocation records removed.",
	})
	sweepErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authority_sweep_errors_total",
		Help: "Failed sweep runs.",
	})
	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "authority_sweep_duration_seconds",
		Help:    "Sweep tick duration.",
		Buckets: prometheus.DefBuckets,
	})
)

func verifyResult(err error) string {
	if err == nil {
		return "ok"
	}
	if code := token.Code(err); code != "" {
		return code
	}
	return "error"
}
