package orders

const (
	TopicOrderEvents   = "order.events"
	TopicPaymentEvents = "order.payment.events"
	TopicGatewayEvents = "payment.gateway.events"
)

// Partition key = order_id, supaya semua event 1 order maintain urutan.
// Gateway events pakai intent ref sebagai key.
func PartitionKey(id string) []byte { return []byte(id) }

// TopicFor routes an event type to its topic.
func TopicFor(eventType string) string {
	switch eventType {
	case EventChargeIntentOpened, EventPaymentSucceeded, EventPaymentFailed, EventPaymentConflict:
		return TopicPaymentEvents
	default:
		return TopicOrderEvents
	}
}
