package redisx

import "time"

const (
	// Cache of the shallow status read: entitlement:{email}:{order_id} -> JSON
	KeyEntitlementStatus = "entitlement:%s:%s"

	// Webhook replay dedup: dedup:webhook:{payment_id}:{status}
	KeyWebhookDedup = "dedup:webhook:%s:%s"

	// Dedup event processing in workers: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache  = 30 * time.Second
	TTLWebhookDedup = 48 * time.Hour
	TTLDedup        = 48 * time.Hour
)
