package orders

import "time"

type Lifecycle string

const (
	LifecyclePending  Lifecycle = "pending"
	LifecycleApproved Lifecycle = "approved"
	LifecycleCanceled Lifecycle = "canceled"
)

// Provider status vocabulary after boundary normalization. Unknown values
// pass through verbatim and map to pending (see status.go).
const (
	ProviderInit        = "init"
	ProviderApproved    = "approved"
	ProviderPending     = "pending"
	ProviderInProcess   = "in_process"
	ProviderRejected    = "rejected"
	ProviderCancelled   = "cancelled"
	ProviderRefunded    = "refunded"
	ProviderChargedBack = "charged_back"
)

type Order struct {
	ID                 string
	BuyerName          string
	BuyerEmail         string // stored lowercase, matched case-insensitively
	Status             Lifecycle
	ProviderStatus     string
	EntitlementGranted bool
	ProviderPaymentID  string
	PreferenceID       string
	CheckoutURL        string
	ProviderRaw        []byte
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Signal is one normalized payment-status observation, from either the
// webhook push path or a provider pull.
type Signal struct {
	ProviderStatus string
	PaymentID      string
	Raw            []byte
}
