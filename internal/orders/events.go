package orders

import (
	"encoding/json"
	"time"
)

const (
	EventSignalApplied      = "PaymentSignalApplied"
	EventSignalFailed       = "PaymentSignalFailed"
	EventEntitlementGranted = "EntitlementGranted"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "ebook-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id when known
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload types per event ----

type SignalAppliedPayload struct {
	OrderID        string `json:"order_id"`
	ProviderStatus string `json:"provider_status"`
	PaymentID      string `json:"payment_id,omitempty"`
	Lifecycle      string `json:"lifecycle"`
	Transitioned   bool   `json:"transitioned"`
	Source         string `json:"source"` // webhook | reconcile
}

type SignalFailedPayload struct {
	OrderID   string `json:"order_id,omitempty"` // empty when the reference never matched
	PaymentID string `json:"payment_id,omitempty"`
	Source    string `json:"source"`
	Reason    string `json:"reason"` // e.g., ORDER_NOT_FOUND, STORE_ERROR, PROVIDER_ERROR
	Detail    string `json:"detail,omitempty"`
}

type EntitlementGrantedPayload struct {
	OrderID    string `json:"order_id"`
	BuyerEmail string `json:"buyer_email"`
	PaymentID  string `json:"payment_id,omitempty"`
}
