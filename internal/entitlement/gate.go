package entitlement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/octoaxis/ebook-orders/internal/assets"
	"github.com/octoaxis/ebook-orders/internal/metrics"
	"github.com/octoaxis/ebook-orders/internal/orders"
)

type DownloadResult struct {
	Order   orders.Order
	Allowed bool
	// Pending settlement: payment not confirmed yet. Not an error; Order
	// carries the current statuses for display.
	Pending bool
	Grant   assets.Grant // set only when Allowed
}

// Download is the entitlement gate. Both identity and order id are
// required, and the lookup matches them together so one buyer cannot probe
// another buyer's order ids.
func (s *Service) Download(ctx context.Context, email, orderID, trace string) (DownloadResult, error) {
	email = strings.TrimSpace(email)
	orderID = strings.TrimSpace(orderID)
	if email == "" || orderID == "" {
		return DownloadResult{}, fmt.Errorf("%w: email and order id are required", ErrValidation)
	}

	o, err := s.Store.FindForBuyer(ctx, orderID, email)
	if errors.Is(err, orders.ErrNotFound) {
		return DownloadResult{}, ErrNotFound
	}
	if err != nil {
		return DownloadResult{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if !o.EntitlementGranted {
		// Webhook may simply not have arrived yet; pull once. A failed
		// pull degrades to "still pending", never to a hard error.
		if updated, outcome, _ := s.Reconcile(ctx, o, trace); outcome == ReconcileApplied {
			o = updated
		}
		if !o.EntitlementGranted {
			return DownloadResult{Order: o, Pending: true}, nil
		}
	}
	if o.Status != orders.LifecycleApproved {
		return DownloadResult{}, fmt.Errorf("%w: order %s granted with status %s", ErrInconsistency, o.ID, o.Status)
	}

	grant, err := s.Assets.CreateGrant(ctx)
	if err != nil {
		// Entitlement is confirmed at this point; this failure class is
		// retryable and distinct from settlement.
		return DownloadResult{}, fmt.Errorf("%w: %v", ErrGrantUnavailable, err)
	}
	metrics.GrantsIssuedTotal.Inc()
	return DownloadResult{Order: o, Allowed: true, Grant: grant}, nil
}

type StatusResult struct {
	Found bool
	Order orders.Order
}

// Status is the shallow read behind the thank-you page poll: no
// reconciliation, no grant, just the newest matching order.
func (s *Service) Status(ctx context.Context, email, orderID string) (StatusResult, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return StatusResult{}, fmt.Errorf("%w: email is required", ErrValidation)
	}
	o, err := s.Store.LatestForBuyer(ctx, email, strings.TrimSpace(orderID))
	if errors.Is(err, orders.ErrNotFound) {
		return StatusResult{Found: false}, nil
	}
	if err != nil {
		return StatusResult{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return StatusResult{Found: true, Order: o}, nil
}
