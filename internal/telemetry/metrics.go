package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	MissionTransitions  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "gigline_mission_transitions_total", Help: "Mission status transitions applied"}, []string{"to"})
	ClaimConflicts      = prometheus.NewCounter(prometheus.CounterOpts{Name: "gigline_claim_conflicts_total", Help: "Claims that lost the race"})
	ReservationsExpired = prometheus.NewCounter(prometheus.CounterOpts{Name: "gigline_reservations_expired_total", Help: "Reservations returned to OPEN by the sweeper"})
	ContractSignatures  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "gigline_contract_signatures_total", Help: "Contract signatures by role"}, []string{"role"})
	PaymentTransitions  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "gigline_payment_transitions_total", Help: "Payment status transitions applied"}, []string{"to"})
	IdempotentReplays   = prometheus.NewCounter(prometheus.CounterOpts{Name: "gigline_payment_idempotent_replays_total", Help: "Payment intents served from an existing idempotency key"})
	ProviderErrors      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "gigline_provider_errors_total", Help: "Payment provider failures"}, []string{"op"})
	WebhookOutcomes     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "gigline_webhook_outcomes_total", Help: "Provider webhook deliveries by outcome"}, []string{"outcome"})
	RateLimitRejects    = prometheus.NewCounter(prometheus.CounterOpts{Name: "gigline_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	NotifyFailures      = prometheus.NewCounter(prometheus.CounterOpts{Name: "gigline_notification_failures_total", Help: "Outbound notification deliveries that failed"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			MissionTransitions,
			ClaimConflicts,
			ReservationsExpired,
			ContractSignatures,
			PaymentTransitions,
			IdempotentReplays,
			ProviderErrors,
			WebhookOutcomes,
			RateLimitRejects,
			NotifyFailures,
		)
	})
	return promhttp.Handler()
}
