package orders

const (
	TopicOrderCreated   = "order.created"
	TopicOrderConfirmed = "order.confirmed"
	TopicOrderCancelled = "order.cancelled"
	TopicOrderRefunded  = "order.refunded"
	TopicSubOrderStatus = "order.suborder.status"

	TopicPaymentCompleted = "payment.completed"
	TopicPaymentFailed    = "payment.failed"

	// Refund task queue (at-least-once, consumed by the refund worker) and
	// its outcome topics.
	TopicRefundRequested = "payment.refund.requested"
	TopicRefundCompleted = "payment.refund.completed"
	TopicRefundFailed    = "payment.refund.failed"

	// Operator alerts: invariant violations that must never auto-resolve.
	TopicOpsAlert = "ops.alert"
)

// Partition key = order_id, supaya semua event 1 order maintain urutan.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
