package refunds

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/owlsmarket/order-core/internal/apperr"
	"github.com/owlsmarket/order-core/internal/orders"
	"github.com/owlsmarket/order-core/internal/payments"
	"github.com/owlsmarket/order-core/internal/postgres"
)

// Coordinator accepts refund requests. Validation and the ticket row are
// synchronous; the actual gateway settlement happens in the queue worker.
type Coordinator struct {
	DB       *pgxpool.Pool
	Payments *payments.Repo
	Tickets  *Repo
	Events   orders.Publisher
	Log      *logrus.Logger

	ServiceName string
}

// Request opens a refund ticket against a payment. Amount 0 means everything
// still refundable. Open tickets count against the remaining amount so two
// concurrent partial refunds cannot over-commit the payment.
func (c *Coordinator) Request(ctx context.Context, paymentID string, amount int64, reason, requestedBy string) (Ticket, error) {
	if amount < 0 {
		return Ticket{}, apperr.Validationf("refund amount must not be negative")
	}

	var t Ticket
	err := postgres.WithTx(ctx, c.DB, func(tx pgx.Tx) error {
		pay, err := c.Payments.Lock(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if pay.Status != payments.StatusCompleted && pay.Status != payments.StatusRefundPending {
			return apperr.Conflictf("payment %s is %s, nothing to refund", pay.ID, pay.Status)
		}

		open, err := c.Tickets.OpenAmountFor(ctx, tx, pay.ID)
		if err != nil {
			return err
		}
		avail := MaxRefundable(pay.Amount, pay.RefundedAmount) - open
		if avail <= 0 {
			return apperr.Conflictf("payment %s has no refundable amount left", pay.ID)
		}
		if amount == 0 {
			amount = avail
		}
		if amount > avail {
			return apperr.Conflictf("refund %d exceeds refundable %d", amount, avail)
		}

		t = Ticket{
			ID:          uuid.NewString(),
			PaymentID:   pay.ID,
			OrderID:     pay.OrderID,
			Amount:      amount,
			Reason:      reason,
			Status:      TicketPending,
			RequestedBy: requestedBy,
		}
		if err := c.Tickets.Insert(ctx, tx, t); err != nil {
			return err
		}
		if pay.Status == payments.StatusCompleted {
			if err := c.Payments.SetStatus(ctx, tx, pay.ID, payments.StatusRefundPending); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Ticket{}, err
	}

	orders.Emit(c.Events, orders.TopicRefundRequested,
		orders.NewEnvelope(orders.EventRefundRequested, c.ServiceName, "", t.OrderID,
			orders.RefundTaskPayload{
				TicketID:  t.ID,
				PaymentID: t.PaymentID,
				OrderID:   t.OrderID,
				Amount:    t.Amount,
				Reason:    t.Reason,
			}))

	c.Log.WithFields(logrus.Fields{
		"ticket_id":  t.ID,
		"payment_id": t.PaymentID,
		"amount":     t.Amount,
	}).Info("refund ticket opened")
	return t, nil
}
