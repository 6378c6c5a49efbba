package orders

var terminalFailures = map[string]bool{
	ProviderCancelled:   true,
	ProviderRejected:    true,
	ProviderRefunded:    true,
	ProviderChargedBack: true,
}

// LifecycleFor maps a normalized provider status to the internal lifecycle.
// Anything unrecognized is treated as still-pending, never as a failure.
func LifecycleFor(providerStatus string) (Lifecycle, bool) {
	switch {
	case providerStatus == ProviderApproved:
		return LifecycleApproved, true
	case terminalFailures[providerStatus]:
		return LifecycleCanceled, false
	default:
		return LifecyclePending, false
	}
}

// Apply merges one payment-status signal into an order and reports whether
// the lifecycle actually moved. Rules:
//   - applying the same provider status twice is a no-op for the lifecycle,
//     but audit fields (raw payload, payment id) still take the fresh values;
//   - once entitlement is granted the lifecycle is pinned: a late or
//     out-of-order pending/cancelled signal can never revoke access.
func Apply(o Order, sig Signal) (Order, bool) {
	o.ProviderStatus = sig.ProviderStatus
	if sig.PaymentID != "" {
		o.ProviderPaymentID = sig.PaymentID
	}
	if len(sig.Raw) > 0 {
		o.ProviderRaw = sig.Raw
	}

	if o.EntitlementGranted {
		o.Status = LifecycleApproved // pinned
		return o, false
	}

	next, granted := LifecycleFor(sig.ProviderStatus)
	moved := next != o.Status || granted != o.EntitlementGranted
	o.Status = next
	o.EntitlementGranted = granted
	return o, moved
}
