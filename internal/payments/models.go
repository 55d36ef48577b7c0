// Package payments owns payment rows, the gateway signature scheme and the
// confirmation webhook. Confirmation is the only place an order moves from
// pending to confirmed.
package payments

import "time"

type Status string

const (
	StatusPending       Status = "pending"
	StatusProcessing    Status = "processing"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusRefundPending Status = "refund_pending"
	StatusRefunded      Status = "refunded"
)

// Pending and processing can jump straight to refund_pending: a capture that
// lands after the order was cancelled is booked for refund without ever
// passing through completed.
var validNext = map[Status]map[Status]bool{
	StatusPending:       {StatusProcessing: true, StatusCompleted: true, StatusFailed: true, StatusRefundPending: true},
	StatusProcessing:    {StatusCompleted: true, StatusFailed: true, StatusRefundPending: true},
	StatusCompleted:     {StatusRefundPending: true, StatusRefunded: true},
	StatusRefundPending: {StatusRefunded: true, StatusCompleted: true},
	StatusFailed:        {},
	StatusRefunded:      {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Payment is one attempt to settle an order. TransactionRef is the id the
// gateway echoes back in notifications; GatewayTxnID is the gateway's own id,
// set once the notification arrives.
type Payment struct {
	ID             string
	OrderID        string
	TransactionRef string
	Amount         int64 // minor currency units
	RefundedAmount int64
	Currency       string
	Method         string
	Status         Status
	GatewayTxnID   string
	FailureReason  string

	PaidAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Remaining is the amount still refundable.
func (p Payment) Remaining() int64 {
	return p.Amount - p.RefundedAmount
}

// WebhookEvent is the processed-notification record behind the DB-side
// idempotency check. (source, gateway_txn_id) is unique.
type WebhookEvent struct {
	ID           string
	Source       string
	GatewayTxnID string
	PaymentID    string
	ResponseCode string
	Outcome      string
	ReceivedAt   time.Time
}
