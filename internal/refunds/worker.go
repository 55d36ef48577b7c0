package refunds

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/owlsmarket/order-core/internal/inventory"
	kafkax "github.com/owlsmarket/order-core/internal/kafka"
	"github.com/owlsmarket/order-core/internal/orders"
	"github.com/owlsmarket/order-core/internal/payments"
	"github.com/owlsmarket/order-core/internal/postgres"
)

// Worker settles refund tickets off the queue. The handler is idempotent:
// redelivered tasks for settled tickets are acked without effect, so
// at-least-once delivery is safe.
type Worker struct {
	DB       *pgxpool.Pool
	Payments *payments.Repo
	Orders   *orders.Repo
	Tickets  *Repo
	Ledger   *inventory.Ledger
	Gateway  Gateway
	Events   orders.Publisher
	Log      *logrus.Logger

	ServiceName string
	Retry       Policy
}

// HandleTask processes one queued refund. A returned error means the message
// stays uncommitted and comes back; nil acks it.
func (w *Worker) HandleTask(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		w.Log.WithError(err).Warn("refund task with undecodable envelope dropped")
		return nil
	}
	task, err := kafkax.UnwrapPayload[orders.RefundTaskPayload](env.Payload)
	if err != nil {
		w.Log.WithError(err).Warn("refund task with undecodable payload dropped")
		return nil
	}

	log := w.Log.WithFields(logrus.Fields{
		"ticket_id":  task.TicketID,
		"payment_id": task.PaymentID,
		"order_id":   task.OrderID,
	})

	// Phase 1: claim the ticket.
	var (
		ticket Ticket
		pay    payments.Payment
		skip   bool
	)
	err = postgres.WithTx(ctx, w.DB, func(tx pgx.Tx) error {
		var err error
		ticket, err = w.Tickets.Lock(ctx, tx, task.TicketID)
		if err != nil {
			return err
		}
		if ticket.Status == TicketCompleted || ticket.Status == TicketFailed {
			skip = true
			return nil
		}
		pay, err = w.Payments.Lock(ctx, tx, ticket.PaymentID)
		if err != nil {
			return err
		}
		if ticket.Amount > MaxRefundable(pay.Amount, pay.RefundedAmount) {
			skip = true
			if err := w.Tickets.MarkFailed(ctx, tx, ticket.ID, "amount exceeds refundable"); err != nil {
				return err
			}
			return nil
		}
		return w.Tickets.MarkProcessing(ctx, tx, ticket.ID)
	})
	if err != nil {
		return err
	}
	if skip {
		if ticket.Status == TicketCompleted || ticket.Status == TicketFailed {
			log.Info("refund task redelivered for settled ticket, acked")
			return nil
		}
		w.alert(task, "refund ticket amount exceeds refundable, marked failed")
		return nil
	}

	// Phase 2: gateway call, outside any transaction.
	result, gwErr := w.callGateway(ctx, log, GatewayRequest{
		TicketID:       ticket.ID,
		GatewayTxnID:   pay.GatewayTxnID,
		TransactionRef: pay.TransactionRef,
		Amount:         ticket.Amount,
		Reason:         ticket.Reason,
	})
	if gwErr != nil {
		if Transient(gwErr) {
			log.WithError(gwErr).Warn("refund gateway unreachable, task requeued")
			return gwErr
		}
		log.WithError(gwErr).Error("refund rejected by gateway")
		if err := postgres.WithTx(ctx, w.DB, func(tx pgx.Tx) error {
			return w.Tickets.MarkFailed(ctx, tx, ticket.ID, gwErr.Error())
		}); err != nil {
			return err
		}
		w.alert(task, "gateway rejected refund: "+gwErr.Error())
		orders.Emit(w.Events, orders.TopicRefundFailed,
			orders.NewEnvelope(orders.EventRefundFailed, w.ServiceName, env.TraceID, task.OrderID,
				orders.RefundTaskPayload{TicketID: ticket.ID, PaymentID: pay.ID, OrderID: task.OrderID, Amount: ticket.Amount, Reason: gwErr.Error()}))
		return nil
	}

	// Phase 3: book the settled refund.
	var fullyRefunded bool
	err = postgres.WithTx(ctx, w.DB, func(tx pgx.Tx) error {
		t, err := w.Tickets.Lock(ctx, tx, ticket.ID)
		if err != nil {
			return err
		}
		if t.Status == TicketCompleted {
			return nil
		}
		p, err := w.Payments.Lock(ctx, tx, ticket.PaymentID)
		if err != nil {
			return err
		}
		ord, err := w.Orders.LockOrder(ctx, tx, p.OrderID)
		if err != nil {
			return err
		}

		if err := w.Payments.AddRefunded(ctx, tx, p.ID, ticket.Amount); err != nil {
			return err
		}
		fullyRefunded = p.RefundedAmount+ticket.Amount >= p.Amount

		if fullyRefunded {
			if err := w.Payments.SetStatus(ctx, tx, p.ID, payments.StatusRefunded); err != nil {
				return err
			}
			if err := w.Orders.SetPaymentStatus(ctx, tx, ord.ID, orders.PaymentRefunded); err != nil {
				return err
			}
			if err := w.returnStock(ctx, tx, &ord); err != nil {
				return err
			}
			if orders.CanTransition(ord.Status, orders.StatusRefunded) {
				now := time.Now().UTC()
				if err := w.Orders.SetOrderStatus(ctx, tx, ord.ID, orders.StatusRefunded, now); err != nil {
					return err
				}
				if err := w.Orders.InsertHistory(ctx, tx, orders.StatusHistory{
					OrderID:   ord.ID,
					Status:    string(orders.StatusRefunded),
					Note:      fmt.Sprintf("refund %s settled", ticket.ID),
					CreatedBy: "system",
				}); err != nil {
					return err
				}
			}
		}
		return w.Tickets.MarkCompleted(ctx, tx, ticket.ID)
	})
	if err != nil {
		// The gateway refund went through; redelivery re-enters here and the
		// completed-ticket check keeps the booking single-shot.
		return err
	}

	orders.Emit(w.Events, orders.TopicRefundCompleted,
		orders.NewEnvelope(orders.EventRefundCompleted, w.ServiceName, env.TraceID, task.OrderID,
			orders.RefundTaskPayload{TicketID: ticket.ID, PaymentID: pay.ID, OrderID: task.OrderID, Amount: ticket.Amount}))
	if fullyRefunded {
		orders.Emit(w.Events, orders.TopicOrderRefunded,
			orders.NewEnvelope(orders.EventOrderRefunded, w.ServiceName, env.TraceID, task.OrderID,
				orders.OrderStatusPayload{OrderID: task.OrderID, Status: string(orders.StatusRefunded)}))
	}
	log.WithFields(logrus.Fields{"amount": ticket.Amount, "refund_txn": result.RefundTxnID}).
		Info("refund settled")
	return nil
}

// callGateway runs the bounded in-process retry loop. Transient failures back
// off per the policy; the last error is returned when attempts run out.
func (w *Worker) callGateway(ctx context.Context, log *logrus.Entry, req GatewayRequest) (GatewayResult, error) {
	var lastErr error
	for attempt := 0; attempt < w.Retry.MaxAttempts; attempt++ {
		res, err := w.Gateway.Refund(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !Transient(err) {
			return GatewayResult{}, err
		}
		delay := w.Retry.NextDelay(attempt)
		log.WithError(err).WithFields(logrus.Fields{"attempt": attempt + 1, "delay": delay}).
			Warn("refund gateway call failed, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return GatewayResult{}, ctx.Err()
		}
	}
	return GatewayResult{}, lastErr
}

// returnStock puts the goods back when a payment is fully refunded. Items
// whose reservation is still held are released; shipped or delivered items
// come back as returned stock. Cancelled items were already handled.
func (w *Worker) returnStock(ctx context.Context, tx pgx.Tx, ord *orders.Order) error {
	items, err := w.Orders.ItemsForOrder(ctx, tx, ord.ID)
	if err != nil {
		return err
	}
	release := map[string]int64{}
	restock := map[string]int64{}
	var invIDs []string
	for _, it := range items {
		switch it.Status {
		case orders.StatusPending, orders.StatusConfirmed, orders.StatusProcessing:
			release[it.InventoryID] += it.Quantity
		case orders.StatusShipped, orders.StatusDelivered:
			restock[it.InventoryID] += it.Quantity
		default:
			continue
		}
		invIDs = append(invIDs, it.InventoryID)
	}
	if len(invIDs) == 0 {
		return nil
	}
	if _, err := w.Ledger.LockRows(ctx, tx, invIDs); err != nil {
		return err
	}
	for _, invID := range inventory.LockOrder(invIDs) {
		if q := release[invID]; q > 0 {
			if err := w.Ledger.Release(ctx, tx, invID, q, "order", ord.ID, "refund"); err != nil {
				return err
			}
		}
		if q := restock[invID]; q > 0 {
			if err := w.Ledger.Restock(ctx, tx, invID, q, "order", ord.ID, "refund"); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Worker) alert(task orders.RefundTaskPayload, detail string) {
	orders.Emit(w.Events, orders.TopicOpsAlert,
		orders.NewEnvelope(orders.EventOperatorAlert, w.ServiceName, "", task.OrderID,
			orders.OperatorAlertPayload{
				Kind:      "refund_needs_operator",
				OrderID:   task.OrderID,
				PaymentID: task.PaymentID,
				TicketID:  task.TicketID,
				Detail:    detail,
			}))
}
