package metrics

import "github.com/prometheus/client_golang/prometheus"

// Operator-visible counters: webhook processing never fails toward the
// provider, so these (plus the kafka failure topic) are where internal
// outcomes surface.
var (
	WebhookSignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_signals_total",
			Help: "Payment webhook deliveries by processing outcome",
		},
		[]string{"outcome"}, // applied | ignored | unmatched | failed
	)

	ReconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_total",
			Help: "Provider pull reconciliations by outcome",
		},
		[]string{"outcome"}, // applied | pending | unavailable
	)

	CheckoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkouts_total",
			Help: "Checkout requests by result",
		},
		[]string{"result"}, // created | reused | already_entitled | error
	)

	GrantsIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "grants_issued_total",
			Help: "Signed download URLs issued",
		},
	)
)

func Register() {
	prometheus.MustRegister(
		WebhookSignalsTotal,
		ReconcileTotal,
		CheckoutsTotal,
		GrantsIssuedTotal,
	)
}
