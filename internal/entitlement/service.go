package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/octoaxis/ebook-orders/internal/assets"
	kafkax "github.com/octoaxis/ebook-orders/internal/kafka"
	"github.com/octoaxis/ebook-orders/internal/mercadopago"
	"github.com/octoaxis/ebook-orders/internal/metrics"
	"github.com/octoaxis/ebook-orders/internal/orders"
)

// OrderStore is the persistence contract the engine needs. *orders.Repo is
// the production implementation.
type OrderStore interface {
	Create(ctx context.Context, name, email string) (orders.Order, bool, error)
	FindByID(ctx context.Context, id string) (orders.Order, error)
	FindForBuyer(ctx context.Context, id, email string) (orders.Order, error)
	LatestEntitled(ctx context.Context, email string) (orders.Order, error)
	LatestPending(ctx context.Context, email string) (orders.Order, error)
	LatestForBuyer(ctx context.Context, email, orderID string) (orders.Order, error)
	ApplySignal(ctx context.Context, id string, sig orders.Signal) (orders.Order, bool, error)
	SetCheckout(ctx context.Context, id, preferenceID, checkoutURL string, raw []byte) error
}

// PaymentProvider is the slice of the Mercado Pago client the engine uses.
type PaymentProvider interface {
	CreatePreference(ctx context.Context, pref mercadopago.Preference) (mercadopago.CreatedPreference, error)
	SearchPayments(ctx context.Context, externalRef string) ([]mercadopago.Payment, error)
	GetPayment(ctx context.Context, id string) (mercadopago.Payment, error)
}

// AssetStore mints time-limited download grants.
type AssetStore interface {
	CreateGrant(ctx context.Context) (assets.Grant, error)
}

// Publisher matches *kafkax.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// CheckoutConfig describes the single product this shop sells and where the
// provider should send the buyer back to.
type CheckoutConfig struct {
	NotificationURL string
	DownloadPageURL string // buyer-facing page; email+orderId appended as query
	ItemID          string
	ItemTitle       string
	ItemDescription string
	UnitPrice       float64
	Currency        string
}

type Service struct {
	Store    OrderStore
	Provider PaymentProvider
	Assets   AssetStore
	Checkout CheckoutConfig

	// Operational channel producers; any of them may be nil.
	PubApplied Publisher
	PubFailed  Publisher
	PubGranted Publisher

	ServiceName string
}

type CheckoutResult struct {
	OrderID         string
	CheckoutURL     string
	AlreadyEntitled bool // buyer already owns the asset; no checkout created
	Reused          bool // an existing pending order was reused
}

// BeginCheckout is the intent deduplicator plus provider checkout creation.
func (s *Service) BeginCheckout(ctx context.Context, name, email, paymentMethod string) (CheckoutResult, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" {
		return CheckoutResult{}, fmt.Errorf("%w: name and email are required", ErrValidation)
	}

	// Already entitled: send the buyer straight to the download gate.
	if o, err := s.Store.LatestEntitled(ctx, email); err == nil {
		metrics.CheckoutsTotal.WithLabelValues("already_entitled").Inc()
		return CheckoutResult{OrderID: o.ID, AlreadyEntitled: true}, nil
	} else if !errors.Is(err, orders.ErrNotFound) {
		metrics.CheckoutsTotal.WithLabelValues("error").Inc()
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	// An open pending order is reused instead of growing the table with
	// every click of the buy button.
	o, reused, err := s.openOrder(ctx, name, email)
	if err != nil {
		metrics.CheckoutsTotal.WithLabelValues("error").Inc()
		return CheckoutResult{}, err
	}
	if reused && o.CheckoutURL != "" {
		metrics.CheckoutsTotal.WithLabelValues("reused").Inc()
		return CheckoutResult{OrderID: o.ID, CheckoutURL: o.CheckoutURL, Reused: true}, nil
	}

	pref, err := s.Provider.CreatePreference(ctx, s.buildPreference(o, paymentMethod))
	if err != nil {
		metrics.CheckoutsTotal.WithLabelValues("error").Inc()
		return CheckoutResult{}, fmt.Errorf("%w: create checkout: %v", ErrUpstream, err)
	}
	if err := s.Store.SetCheckout(ctx, o.ID, pref.ID, pref.InitPoint, pref.Raw); err != nil {
		metrics.CheckoutsTotal.WithLabelValues("error").Inc()
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if reused {
		metrics.CheckoutsTotal.WithLabelValues("reused").Inc()
	} else {
		metrics.CheckoutsTotal.WithLabelValues("created").Inc()
	}
	return CheckoutResult{OrderID: o.ID, CheckoutURL: pref.InitPoint, Reused: reused}, nil
}

func (s *Service) openOrder(ctx context.Context, name, email string) (orders.Order, bool, error) {
	if o, err := s.Store.LatestPending(ctx, email); err == nil {
		return o, true, nil
	} else if !errors.Is(err, orders.ErrNotFound) {
		return orders.Order{}, false, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	o, existed, err := s.Store.Create(ctx, name, email)
	if err != nil {
		return orders.Order{}, false, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return o, existed, nil
}

func (s *Service) buildPreference(o orders.Order, paymentMethod string) mercadopago.Preference {
	back := s.Checkout.DownloadPageURL +
		"?email=" + url.QueryEscape(o.BuyerEmail) +
		"&orderId=" + url.QueryEscape(o.ID)

	var methods *mercadopago.PaymentMethods
	if paymentMethod == "pix" {
		methods = &mercadopago.PaymentMethods{
			DefaultPaymentMethodID: "pix",
			ExcludedPaymentTypes:   []map[string]string{{"id": "ticket"}},
		}
	} else {
		methods = &mercadopago.PaymentMethods{
			ExcludedPaymentTypes:   []map[string]string{{"id": "ticket"}},
			ExcludedPaymentMethods: []map[string]string{{"id": "pix"}},
		}
	}

	return mercadopago.Preference{
		ExternalReference: o.ID,
		NotificationURL:   s.Checkout.NotificationURL,
		BackURLs:          &mercadopago.BackURLs{Success: back, Pending: back, Failure: back},
		AutoReturn:        "approved",
		Items: []mercadopago.PreferenceItem{{
			ID:          s.Checkout.ItemID,
			Title:       s.Checkout.ItemTitle,
			Description: s.Checkout.ItemDescription,
			Quantity:    1,
			UnitPrice:   s.Checkout.UnitPrice,
			CurrencyID:  s.Checkout.Currency,
		}},
		Payer:          &mercadopago.PreferencePayer{Name: o.BuyerName, Email: o.BuyerEmail},
		PaymentMethods: methods,
	}
}

// ApplyPaymentSignal feeds one normalized status observation through the
// state machine and reports the outcome on the operational channel. Source
// is "webhook" or "reconcile".
func (s *Service) ApplyPaymentSignal(ctx context.Context, orderID string, sig orders.Signal, source, trace string) (orders.Order, bool, error) {
	o, moved, err := s.Store.ApplySignal(ctx, orderID, sig)
	if errors.Is(err, orders.ErrNotFound) {
		// Unmatched correlation key: reported, acknowledged, never retried.
		s.ReportSignalFailure(orderID, sig.PaymentID, source, "ORDER_NOT_FOUND", "", trace)
		return orders.Order{}, false, ErrNotFound
	}
	if err != nil {
		s.ReportSignalFailure(orderID, sig.PaymentID, source, "STORE_ERROR", err.Error(), trace)
		return orders.Order{}, false, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if o.EntitlementGranted && o.Status != orders.LifecycleApproved {
		return o, moved, fmt.Errorf("%w: order %s granted with status %s", ErrInconsistency, o.ID, o.Status)
	}

	s.publish(s.PubApplied, o.ID, orders.EventSignalApplied, trace, orders.SignalAppliedPayload{
		OrderID:        o.ID,
		ProviderStatus: sig.ProviderStatus,
		PaymentID:      sig.PaymentID,
		Lifecycle:      string(o.Status),
		Transitioned:   moved,
		Source:         source,
	})
	if moved && o.EntitlementGranted {
		s.publish(s.PubGranted, o.ID, orders.EventEntitlementGranted, trace, orders.EntitlementGrantedPayload{
			OrderID:    o.ID,
			BuyerEmail: o.BuyerEmail,
			PaymentID:  o.ProviderPaymentID,
		})
	}
	return o, moved, nil
}

// ReportSignalFailure puts an internal processing failure on the operational
// channel. The retry worker picks these up; the webhook sender never sees them.
func (s *Service) ReportSignalFailure(orderID, paymentID, source, reason, detail, trace string) {
	log.Printf("payment signal failed: order=%q payment=%q source=%s reason=%s detail=%s",
		orderID, paymentID, source, reason, detail)
	s.publish(s.PubFailed, orderID, orders.EventSignalFailed, trace, orders.SignalFailedPayload{
		OrderID:   orderID,
		PaymentID: paymentID,
		Source:    source,
		Reason:    reason,
		Detail:    detail,
	})
}

func (s *Service) publish(p Publisher, orderID, eventType, trace string, payload any) {
	if p == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       trace,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	key := orders.PartitionKey(orderID)
	if orderID == "" {
		key = []byte(ev.EventID)
	}
	p.Publish(key, kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
