package entitlement

import (
	"errors"

	"github.com/octoaxis/ebook-orders/internal/orders"
)

// Error taxonomy. PendingSettlement is deliberately absent: an unconfirmed
// payment is a normal result carried by DownloadResult, never an error.
var (
	// ErrValidation: missing or malformed identity / order id. 4xx-equivalent.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound: no order matches, including buyer-identity mismatch on a
	// real order id.
	ErrNotFound = orders.ErrNotFound

	// ErrUpstream: order store or payment provider failed. Retryable.
	ErrUpstream = errors.New("upstream unavailable")

	// ErrGrantUnavailable: entitlement is confirmed but the asset store
	// could not mint a grant. Retryable, distinct from settlement problems.
	ErrGrantUnavailable = errors.New("download grant unavailable")

	// ErrInconsistency: the granted flag and lifecycle disagree. Surfaced
	// for operator attention, never silently proceeded past.
	ErrInconsistency = errors.New("entitlement state inconsistent")
)
