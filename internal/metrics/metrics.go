// Package metrics holds the Prometheus collectors for the API server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// HashBuckets covers argon2id latencies from a few milliseconds up to 2s.
var HashBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2}

var (
	// AuthAttemptsTotal counts register and login calls by outcome.
	AuthAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tryhardly_auth_attempts_total",
			Help: "Authentication attempts",
		},
		[]string{"operation", "outcome"},
	)

	// TokenRejectionsTotal counts bearer tokens rejected by the middleware,
	// by internal reason. The reason is never sent to clients.
	TokenRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tryhardly_auth_token_rejections_total",
			Help: "Rejected bearer tokens",
		},
		[]string{"reason"},
	)

	// LegacyCredentialLoginsTotal counts successful logins against records
	// that still use a legacy hash scheme.
	LegacyCredentialLoginsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tryhardly_auth_legacy_credential_logins_total",
			Help: "Logins verified against legacy password hashes",
		},
	)

	// HashDuration records time spent hashing or verifying passwords,
	// including the wait for a hashing slot.
	HashDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tryhardly_password_hash_duration_seconds",
			Help:    "Password hash and verify duration",
			Buckets: HashBuckets,
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(
		AuthAttemptsTotal,
		TokenRejectionsTotal,
		LegacyCredentialLoginsTotal,
		HashDuration,
	)
}
