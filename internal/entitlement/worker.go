package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/octoaxis/ebook-orders/internal/kafka"
	"github.com/octoaxis/ebook-orders/internal/mercadopago"
	"github.com/octoaxis/ebook-orders/internal/orders"
	"github.com/octoaxis/ebook-orders/internal/redisx"
)

// Worker retries payment signals whose in-band processing failed. It
// consumes the failure topic and converges the order through the same
// idempotent state machine, so replays and races are harmless.
type Worker struct {
	Service     *Service
	Redis       *redis.Client
	ServiceName string
}

// HandleSignalFailed is the kafka consumer handler. Returning an error
// leaves the offset uncommitted so the message is redelivered.
func (w *Worker) HandleSignalFailed(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventSignalFailed {
		return nil
	}

	// Dedup by event id so a redelivered-but-processed event is a no-op.
	dkey := fmt.Sprintf(redisx.KeyDedup, w.ServiceName, env.EventID)
	if exists, _ := redisx.Exists(ctx, w.Redis, dkey); exists {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.SignalFailedPayload](env.Payload)
	if err != nil {
		return err
	}

	if err := w.retry(ctx, p, env.TraceID); err != nil {
		return err
	}
	_ = w.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	return nil
}

func (w *Worker) retry(ctx context.Context, p orders.SignalFailedPayload, trace string) error {
	switch p.Reason {
	case "ORDER_NOT_FOUND":
		// Unmatched correlation key: retrying cannot help. Acknowledged.
		return nil
	case "PROVIDER_ERROR":
		if p.OrderID == "" && p.PaymentID != "" {
			return w.retryByPayment(ctx, p.PaymentID, trace)
		}
	}
	if p.OrderID == "" {
		return nil
	}

	o, err := w.Service.Store.FindByID(ctx, p.OrderID)
	if errors.Is(err, orders.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if o.EntitlementGranted {
		// Converged in the meantime; nothing left to do.
		return nil
	}

	_, outcome, err := w.Service.Reconcile(ctx, o, trace)
	if outcome == ReconcileUnavailable {
		return err
	}
	return nil
}

// retryByPayment handles failures where only the provider payment id is
// known (the webhook could not fetch the payment, so the order reference
// was never resolved).
func (w *Worker) retryByPayment(ctx context.Context, paymentID, trace string) error {
	payment, err := w.Service.Provider.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if payment.ExternalReference == "" {
		return nil
	}
	sig := orders.Signal{
		ProviderStatus: mercadopago.NormalizeStatus(payment.Status),
		PaymentID:      payment.ID.String(),
		Raw:            payment.Raw,
	}
	_, _, err = w.Service.ApplyPaymentSignal(ctx, payment.ExternalReference, sig, "reconcile", trace)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
