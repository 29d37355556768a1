// Package metrics holds the Prometheus collectors of the auth core and the
// optional listener that exposes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_tokens_issued_total", Help: "Signed tokens issued, by kind",
	}, []string{"kind"})

	TokensRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_tokens_rejected_total", Help: "Tokens that failed verification, by kind and reason",
	}, []string{"kind", "reason"})

	Revocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_revocations_total", Help: "Tokens revoked, by reason",
	}, []string{"reason"})

	RevocationStoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_revocation_store_errors_total", Help: "Revocation store failures, by operation",
	}, []string{"op"})

	VerificationIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_verification_tokens_issued_total", Help: "Emailed tokens issued, by purpose",
	}, []string{"purpose"})

	VerificationRedeemed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_verification_redemptions_total", Help: "Redemption attempts, by purpose and outcome",
	}, []string{"purpose", "outcome"})

	MailSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_mail_sent_total", Help: "Outgoing mail, by template and outcome",
	}, []string{"template", "outcome"})

	HousekeepingDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_housekeeping_deleted_total", Help: "Expired rows removed by housekeeping, by table",
	}, []string{"table"})

	HousekeepingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "auth_housekeeping_duration_seconds", Help: "Housekeeping sweep duration",
		Buckets: prometheus.DefBuckets,
	})
)
