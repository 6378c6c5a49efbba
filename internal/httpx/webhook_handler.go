package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/octoaxis/ebook-orders/internal/entitlement"
	"github.com/octoaxis/ebook-orders/internal/mercadopago"
	"github.com/octoaxis/ebook-orders/internal/metrics"
	"github.com/octoaxis/ebook-orders/internal/orders"
	"github.com/octoaxis/ebook-orders/internal/redisx"
)

// WebhookHandler is the push-notification receiver. The contract with the
// provider is strict: respond 200 no matter what happened internally,
// otherwise it retries in a storm. Internal outcomes go to the operational
// channel instead.
type WebhookHandler struct {
	Service  *entitlement.Service
	Provider entitlement.PaymentProvider
	Redis    *redis.Client
}

func (h *WebhookHandler) Register(r *chi.Mux) {
	r.Get("/api/webhooks/mercadopago", h.receive)
	r.Post("/api/webhooks/mercadopago", h.receive)
}

func (h *WebhookHandler) receive(w http.ResponseWriter, r *http.Request) {
	defer writeJSON(w, http.StatusOK, map[string]bool{"ok": true})

	n := mercadopago.ParseNotification(r)
	if !n.IsPayment() {
		metrics.WebhookSignalsTotal.WithLabelValues("ignored").Inc()
		return
	}
	trace := r.Header.Get("X-Request-Id")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The notification only carries the payment id; the authoritative
	// status comes from the provider itself.
	payment, err := h.Provider.GetPayment(ctx, n.PaymentID)
	if err != nil {
		metrics.WebhookSignalsTotal.WithLabelValues("failed").Inc()
		h.Service.ReportSignalFailure("", n.PaymentID, "webhook", "PROVIDER_ERROR", err.Error(), trace)
		return
	}

	status := mercadopago.NormalizeStatus(payment.Status)
	if payment.ExternalReference == "" {
		metrics.WebhookSignalsTotal.WithLabelValues("unmatched").Inc()
		h.Service.ReportSignalFailure("", n.PaymentID, "webhook", "NO_REFERENCE", "payment without external_reference", trace)
		return
	}

	// Duplicate deliveries of the same (payment, status) pair are the
	// common case with this provider; short-circuit before the store.
	dkey := fmt.Sprintf(redisx.KeyWebhookDedup, n.PaymentID, status)
	if seen, _ := redisx.Exists(ctx, h.Redis, dkey); seen {
		metrics.WebhookSignalsTotal.WithLabelValues("ignored").Inc()
		return
	}

	sig := orders.Signal{ProviderStatus: status, PaymentID: payment.ID.String(), Raw: payment.Raw}
	o, _, err := h.Service.ApplyPaymentSignal(ctx, payment.ExternalReference, sig, "webhook", trace)
	switch {
	case errors.Is(err, entitlement.ErrNotFound):
		metrics.WebhookSignalsTotal.WithLabelValues("unmatched").Inc()
		return
	case err != nil:
		metrics.WebhookSignalsTotal.WithLabelValues("failed").Inc()
		return
	}
	metrics.WebhookSignalsTotal.WithLabelValues("applied").Inc()

	_ = h.Redis.Set(ctx, dkey, "1", redisx.TTLWebhookDedup).Err()
	// Drop the cached shallow status so the thank-you page poll sees the
	// transition immediately.
	_ = h.Redis.Del(ctx,
		fmt.Sprintf(redisx.KeyEntitlementStatus, o.BuyerEmail, o.ID),
		fmt.Sprintf(redisx.KeyEntitlementStatus, o.BuyerEmail, ""),
	).Err()
}
