package orders

const (
	TopicSignalApplied      = "payment.signal.applied"
	TopicSignalFailed       = "payment.signal.failed"
	TopicEntitlementGranted = "entitlement.granted"
)

// Partition key = order_id, so every event for one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
