package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/owlsmarket/order-core/internal/apperr"
	"github.com/owlsmarket/order-core/internal/orders"
	"github.com/owlsmarket/order-core/internal/postgres"
	"github.com/owlsmarket/order-core/internal/redisx"
)

// Ack is the response body the gateway expects. Always HTTP 200; the code
// tells the gateway whether to stop retrying.
type Ack struct {
	Code    string `json:"RspCode"`
	Message string `json:"Message"`
}

const (
	AckOK            = "00"
	AckNotFound      = "01"
	AckInvalidAmount = "04"
	AckReplay        = "94"
	AckBadSignature  = "97"
)

// Notification is a parsed gateway callback.
type Notification struct {
	TransactionRef string
	GatewayTxnID   string
	Amount         int64 // minor currency units
	ResponseCode   string
	PayDate        time.Time
}

const payDateLayout = "20060102150405"

// ParseNotification validates the signature and the field shapes. The
// secure_hash param is excluded from the signed set.
func ParseNotification(q url.Values, secret string) (Notification, error) {
	params := make(map[string]string, len(q))
	for k := range q {
		if k == "secure_hash" {
			continue
		}
		params[k] = q.Get(k)
	}
	if !Verify(params, secret, q.Get("secure_hash")) {
		return Notification{}, fmt.Errorf("%w: bad signature", apperr.ErrValidation)
	}

	amount, err := strconv.ParseInt(q.Get("amount"), 10, 64)
	if err != nil || amount <= 0 {
		return Notification{}, apperr.Validationf("bad amount %q", q.Get("amount"))
	}
	payDate, err := time.ParseInLocation(payDateLayout, q.Get("pay_date"), time.UTC)
	if err != nil {
		return Notification{}, apperr.Validationf("bad pay_date %q", q.Get("pay_date"))
	}
	n := Notification{
		TransactionRef: q.Get("txn_ref"),
		GatewayTxnID:   q.Get("gateway_txn_id"),
		Amount:         amount,
		ResponseCode:   q.Get("response_code"),
		PayDate:        payDate,
	}
	if n.TransactionRef == "" || n.GatewayTxnID == "" {
		return Notification{}, apperr.Validationf("missing txn_ref or gateway_txn_id")
	}
	return n, nil
}

// Outcome is the pure decision for one authenticated, fresh, first-seen
// notification.
type Outcome string

const (
	// OutcomeConfirmed: payment completed, order confirmed.
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeDuplicate: the payment already settled, prior outcome stands.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeAmountMismatch: notified amount differs from the order total.
	// Payment fails, order stays pending for the sweeper.
	OutcomeAmountMismatch Outcome = "amount_mismatch"
	// OutcomeGatewayFailed: gateway reported a non-success code.
	OutcomeGatewayFailed Outcome = "gateway_failed"
	// OutcomeCancelledRace: money captured for an order that was cancelled in
	// the meantime. Never auto-refunded, always an operator alert.
	OutcomeCancelledRace Outcome = "cancelled_race"
)

// Decide maps the locked order/payment state plus the notification onto the
// single mutation to apply.
func Decide(orderStatus orders.Status, payStatus Status, notified, expected int64, responseCode string) Outcome {
	switch payStatus {
	case StatusCompleted, StatusRefundPending, StatusRefunded:
		return OutcomeDuplicate
	}
	if responseCode != AckOK {
		return OutcomeGatewayFailed
	}
	if notified != expected {
		return OutcomeAmountMismatch
	}
	if orderStatus == orders.StatusCancelled {
		return OutcomeCancelledRace
	}
	return OutcomeConfirmed
}

// Processor handles gateway confirmation callbacks end to end.
type Processor struct {
	DB       *pgxpool.Pool
	Payments *Repo
	Orders   *orders.Repo
	Redis    *redis.Client
	Events   orders.Publisher
	Log      *logrus.Logger

	ServiceName string
	Source      string
	Secret      string
	Tolerance   time.Duration // max notification age before it counts as replay
}

// CreateForOrder opens a pending payment for a freshly created order and
// returns it with its gateway transaction ref.
func (p *Processor) CreateForOrder(ctx context.Context, ord *orders.Order, currency, method string) (Payment, error) {
	pay := Payment{
		ID:             uuid.NewString(),
		OrderID:        ord.ID,
		TransactionRef: ord.Number + "-" + uuid.NewString()[:8],
		Amount:         ord.Total,
		Currency:       currency,
		Method:         method,
		Status:         StatusPending,
	}
	err := postgres.WithTx(ctx, p.DB, func(tx pgx.Tx) error {
		return p.Payments.Insert(ctx, tx, pay)
	})
	if err != nil {
		return Payment{}, err
	}
	return pay, nil
}

// Confirm processes one gateway notification. Every path returns an Ack; the
// HTTP layer always answers 200 so the gateway's retry loop terminates on
// anything we have conclusively handled.
func (p *Processor) Confirm(ctx context.Context, q url.Values) Ack {
	now := time.Now().UTC()

	n, err := ParseNotification(q, p.Secret)
	if err != nil {
		p.Log.WithError(err).Warn("gateway notification rejected")
		return Ack{Code: AckBadSignature, Message: "invalid signature"}
	}
	if p.Tolerance > 0 && now.Sub(n.PayDate) > p.Tolerance {
		p.Log.WithFields(logrus.Fields{
			"txn_ref": n.TransactionRef, "pay_date": n.PayDate,
		}).Warn("stale gateway notification dropped")
		return Ack{Code: AckReplay, Message: "notification too old"}
	}

	// Redis fast path; the webhook_events row is the source of truth.
	seenKey := fmt.Sprintf(redisx.KeyWebhookSeen, p.Source, n.GatewayTxnID)
	if seen, err := redisx.Exists(ctx, p.Redis, seenKey); err == nil && seen {
		return Ack{Code: AckOK, Message: "already processed"}
	}

	var (
		outcome Outcome
		pay     Payment
		ord     orders.Order
	)
	err = postgres.WithTx(ctx, p.DB, func(tx pgx.Tx) error {
		var err error
		pay, err = p.Payments.LockByRef(ctx, tx, n.TransactionRef)
		if err != nil {
			return err
		}
		ord, err = p.Orders.LockOrder(ctx, tx, pay.OrderID)
		if err != nil {
			return err
		}

		outcome = Decide(ord.Status, pay.Status, n.Amount, ord.Total, n.ResponseCode)

		if err := p.Payments.InsertWebhookEvent(ctx, tx, WebhookEvent{
			Source:       p.Source,
			GatewayTxnID: n.GatewayTxnID,
			PaymentID:    pay.ID,
			ResponseCode: n.ResponseCode,
			Outcome:      string(outcome),
		}); err != nil {
			return err
		}

		switch outcome {
		case OutcomeDuplicate:
			return nil
		case OutcomeGatewayFailed:
			return p.Payments.MarkFailed(ctx, tx, pay.ID, "gateway code "+n.ResponseCode)
		case OutcomeAmountMismatch:
			return p.Payments.MarkFailed(ctx, tx, pay.ID,
				fmt.Sprintf("amount mismatch: notified %d, expected %d", n.Amount, ord.Total))
		case OutcomeCancelledRace:
			// Money moved but the order is gone. Park the payment for a
			// human decision; stock and coupon were already released by the
			// cancel.
			if !CanTransition(pay.Status, StatusRefundPending) {
				return apperr.Conflictf("payment %s cannot move from %s to %s", pay.ID, pay.Status, StatusRefundPending)
			}
			if _, err := tx.Exec(ctx, `
				UPDATE payments SET status=$2, gateway_txn_id=$3, paid_at=now(), updated_at=now()
				WHERE id=$1`, pay.ID, string(StatusRefundPending), n.GatewayTxnID); err != nil {
				return err
			}
			return nil
		case OutcomeConfirmed:
			if err := p.Payments.MarkCompleted(ctx, tx, pay.ID, n.GatewayTxnID); err != nil {
				return err
			}
			if err := p.Orders.SetOrderStatus(ctx, tx, ord.ID, orders.StatusConfirmed, now); err != nil {
				return err
			}
			if err := p.Orders.SetPaymentStatus(ctx, tx, ord.ID, orders.PaymentPaid); err != nil {
				return err
			}
			if err := p.Orders.SetSubOrderStatusForOrder(ctx, tx, ord.ID, orders.StatusConfirmed, now); err != nil {
				return err
			}
			if err := p.Orders.SetItemStatusForOrder(ctx, tx, ord.ID, orders.StatusConfirmed); err != nil {
				return err
			}
			return p.Orders.InsertHistory(ctx, tx, orders.StatusHistory{
				OrderID:   ord.ID,
				Status:    string(orders.StatusConfirmed),
				Note:      "payment confirmed by gateway",
				CreatedBy: "gateway:" + p.Source,
			})
		}
		return nil
	})

	switch {
	case errors.Is(err, apperr.ErrIdempotentNoop):
		p.markSeen(ctx, seenKey)
		return Ack{Code: AckOK, Message: "already processed"}
	case errors.Is(err, apperr.ErrNotFound):
		return Ack{Code: AckNotFound, Message: "order not found"}
	case err != nil:
		p.Log.WithError(err).WithField("txn_ref", n.TransactionRef).Error("gateway confirmation failed")
		// No ack code for internal errors: a retry may succeed.
		return Ack{Code: "99", Message: "internal error"}
	}

	p.markSeen(ctx, seenKey)
	p.afterConfirm(ctx, outcome, &pay, &ord, &n)

	return AckFor(outcome)
}

// AckFor maps a settled outcome onto the wire ack. Everything except an
// amount mismatch acks 00 so the gateway stops resending; the message tells
// the operator log what actually happened.
func AckFor(outcome Outcome) Ack {
	switch outcome {
	case OutcomeAmountMismatch:
		return Ack{Code: AckInvalidAmount, Message: "invalid amount"}
	case OutcomeDuplicate:
		return Ack{Code: AckOK, Message: "already processed"}
	case OutcomeGatewayFailed:
		return Ack{Code: AckOK, Message: "failure recorded"}
	case OutcomeCancelledRace:
		return Ack{Code: AckOK, Message: "recorded"}
	default:
		return Ack{Code: AckOK, Message: "confirmed"}
	}
}

func (p *Processor) afterConfirm(ctx context.Context, outcome Outcome, pay *Payment, ord *orders.Order, n *Notification) {
	switch outcome {
	case OutcomeConfirmed:
		p.cacheStatus(ctx, ord.ID, orders.StatusConfirmed)
		orders.Emit(p.Events, orders.TopicPaymentCompleted,
			orders.NewEnvelope(orders.EventPaymentCompleted, p.ServiceName, "", ord.ID,
				orders.PaymentResultPayload{OrderID: ord.ID, PaymentID: pay.ID, GatewayTxnID: n.GatewayTxnID, Amount: n.Amount}))
		orders.Emit(p.Events, orders.TopicOrderConfirmed,
			orders.NewEnvelope(orders.EventOrderConfirmed, p.ServiceName, "", ord.ID,
				orders.OrderStatusPayload{OrderID: ord.ID, Number: ord.Number, Status: string(orders.StatusConfirmed)}))
		p.Log.WithFields(logrus.Fields{"order_id": ord.ID, "payment_id": pay.ID, "amount": n.Amount}).
			Info("payment confirmed")

	case OutcomeGatewayFailed, OutcomeAmountMismatch:
		orders.Emit(p.Events, orders.TopicPaymentFailed,
			orders.NewEnvelope(orders.EventPaymentFailed, p.ServiceName, "", ord.ID,
				orders.PaymentResultPayload{OrderID: ord.ID, PaymentID: pay.ID, Amount: n.Amount, Reason: string(outcome)}))

	case OutcomeCancelledRace:
		orders.Emit(p.Events, orders.TopicOpsAlert,
			orders.NewEnvelope(orders.EventOperatorAlert, p.ServiceName, "", ord.ID,
				orders.OperatorAlertPayload{
					Kind:      "payment_for_cancelled_order",
					OrderID:   ord.ID,
					PaymentID: pay.ID,
					Detail:    fmt.Sprintf("gateway captured %d for cancelled order %s, payment parked as refund_pending", n.Amount, ord.Number),
				}))
		p.Log.WithFields(logrus.Fields{"order_id": ord.ID, "payment_id": pay.ID}).
			Error("payment arrived for cancelled order, parked as refund_pending")
	}
}

func (p *Processor) markSeen(ctx context.Context, key string) {
	if err := p.Redis.Set(ctx, key, "1", redisx.TTLWebhookSeen).Err(); err != nil {
		p.Log.WithError(err).Warn("webhook dedup cache write failed")
	}
}

func (p *Processor) cacheStatus(ctx context.Context, orderID string, s orders.Status) {
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if err := p.Redis.Set(ctx, key, string(s), redisx.TTLStatusCache).Err(); err != nil {
		p.Log.WithError(err).Warn("status cache write failed")
	}
}
