// Package refunds coordinates refund tickets: accepted synchronously, settled
// asynchronously through an at-least-once task queue against the external
// gateway.
package refunds

import "time"

type TicketStatus string

const (
	TicketPending    TicketStatus = "pending"
	TicketProcessing TicketStatus = "processing"
	TicketCompleted  TicketStatus = "completed"
	TicketFailed     TicketStatus = "failed"
)

// Ticket is one refund request against a payment. Amount is fixed at request
// time; Attempts counts gateway calls across redeliveries.
type Ticket struct {
	ID        string
	PaymentID string
	OrderID   string
	Amount    int64 // minor currency units
	Reason    string
	Status    TicketStatus

	Attempts    int
	LastError   string
	RequestedBy string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// MaxRefundable is what can still be refunded off a payment: the captured
// amount minus everything already refunded. Partial refunds stack.
func MaxRefundable(captured, alreadyRefunded int64) int64 {
	rem := captured - alreadyRefunded
	if rem < 0 {
		return 0
	}
	return rem
}
