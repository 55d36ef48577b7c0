package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/owlsmarket/order-core/internal/kafka"
)

const (
	EventOrderCreated     = "OrderCreated"
	EventOrderConfirmed   = "OrderConfirmed"
	EventOrderCancelled   = "OrderCancelled"
	EventOrderRefunded    = "OrderRefunded"
	EventSubOrderStatus   = "SubOrderStatusChanged"
	EventPaymentCompleted = "PaymentCompleted"
	EventPaymentFailed    = "PaymentFailed"
	EventRefundRequested  = "RefundRequested"
	EventRefundCompleted  = "RefundCompleted"
	EventRefundFailed     = "RefundFailed"
	EventOperatorAlert    = "OperatorAlert"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // biasanya order_id
	Payload       json.RawMessage `json:"payload"`
}

func NewEnvelope(eventType, producer, traceID, correlationID string, payload any) Envelope {
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: correlationID,
		Payload:       kafkax.MustMarshal(payload),
	}
}

// Publisher is satisfied by kafka.Producer; events are fire-and-forget and
// are emitted after the owning transaction commits, never inside it.
type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

func Emit(p Publisher, topic string, ev Envelope) {
	p.Publish(topic, PartitionKey(ev.CorrelationID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(ev.EventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

// ---- Payload tipe per event ----

type OrderCreatedPayload struct {
	OrderID    string `json:"order_id"`
	Number     string `json:"number"`
	UserID     string `json:"user_id,omitempty"`
	GuestEmail string `json:"guest_email,omitempty"`
	Total      int64  `json:"total"`
	SubOrders  int    `json:"sub_orders"`
}

type OrderStatusPayload struct {
	OrderID string `json:"order_id"`
	Number  string `json:"number"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

type SubOrderStatusPayload struct {
	OrderID    string `json:"order_id"`
	SubOrderID string `json:"sub_order_id"`
	VendorID   string `json:"vendor_id"`
	Status     string `json:"status"`
}

type PaymentResultPayload struct {
	OrderID       string `json:"order_id"`
	PaymentID     string `json:"payment_id"`
	GatewayTxnID  string `json:"gateway_txn_id,omitempty"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason,omitempty"`
}

type RefundTaskPayload struct {
	TicketID  string `json:"ticket_id"`
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason,omitempty"`
}

type OperatorAlertPayload struct {
	Kind      string `json:"kind"` // e.g. "payment_for_cancelled_order"
	OrderID   string `json:"order_id,omitempty"`
	PaymentID string `json:"payment_id,omitempty"`
	TicketID  string `json:"ticket_id,omitempty"`
	Detail    string `json:"detail"`
}
