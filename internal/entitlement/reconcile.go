package entitlement

import (
	"context"
	"fmt"
	"log"

	"github.com/octoaxis/ebook-orders/internal/mercadopago"
	"github.com/octoaxis/ebook-orders/internal/metrics"
	"github.com/octoaxis/ebook-orders/internal/orders"
)

type ReconcileOutcome string

const (
	// ReconcileApplied: the provider had at least one payment attempt and
	// its status went through the state machine.
	ReconcileApplied ReconcileOutcome = "applied"
	// ReconcileNoPayments: the provider has no record yet; not an error.
	ReconcileNoPayments ReconcileOutcome = "no_payments"
	// ReconcileUnavailable: the provider lookup failed; the order is left
	// untouched and this is never treated as a rejection.
	ReconcileUnavailable ReconcileOutcome = "unavailable"
)

// Reconcile pulls the freshest payment truth for an order that has not seen
// a webhook yet. Idempotent: any number of concurrent or repeated runs
// converge to the same state.
func (s *Service) Reconcile(ctx context.Context, o orders.Order, trace string) (orders.Order, ReconcileOutcome, error) {
	payments, err := s.Provider.SearchPayments(ctx, o.ID)
	if err != nil {
		metrics.ReconcileTotal.WithLabelValues("unavailable").Inc()
		log.Printf("reconcile order=%s: provider search: %v", o.ID, err)
		return o, ReconcileUnavailable, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if len(payments) == 0 {
		metrics.ReconcileTotal.WithLabelValues("pending").Inc()
		return o, ReconcileNoPayments, nil
	}

	// The search is requested newest-first; the head is the most recent
	// attempt and therefore the authoritative one.
	p := payments[0]
	sig := orders.Signal{
		ProviderStatus: mercadopago.NormalizeStatus(p.Status),
		PaymentID:      p.ID.String(),
		Raw:            p.Raw,
	}
	updated, _, err := s.ApplyPaymentSignal(ctx, o.ID, sig, "reconcile", trace)
	if err != nil {
		metrics.ReconcileTotal.WithLabelValues("unavailable").Inc()
		return o, ReconcileUnavailable, err
	}
	metrics.ReconcileTotal.WithLabelValues("applied").Inc()
	return updated, ReconcileApplied, nil
}
