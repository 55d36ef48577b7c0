package payments

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/owlsmarket/order-core/internal/apperr"
	"github.com/owlsmarket/order-core/internal/orders"
)

func TestDecide(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		orderStatus  orders.Status
		payStatus    Status
		notified     int64
		expected     int64
		responseCode string
		want         Outcome
	}{
		{"happy path", orders.StatusPending, StatusPending, 150_000, 150_000, "00", OutcomeConfirmed},
		{"redelivery after completion", orders.StatusConfirmed, StatusCompleted, 150_000, 150_000, "00", OutcomeDuplicate},
		{"already refund pending", orders.StatusCancelled, StatusRefundPending, 150_000, 150_000, "00", OutcomeDuplicate},
		{"off by one minor unit", orders.StatusPending, StatusPending, 150_001, 150_000, "00", OutcomeAmountMismatch},
		{"gateway declined", orders.StatusPending, StatusPending, 150_000, 150_000, "24", OutcomeGatewayFailed},
		{"declined beats amount check", orders.StatusPending, StatusPending, 1, 150_000, "24", OutcomeGatewayFailed},
		{"paid after cancellation", orders.StatusCancelled, StatusPending, 150_000, 150_000, "00", OutcomeCancelledRace},
		{"cancelled and declined is just a failure", orders.StatusCancelled, StatusPending, 150_000, 150_000, "24", OutcomeGatewayFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Decide(tc.orderStatus, tc.payStatus, tc.notified, tc.expected, tc.responseCode)
			if got != tc.want {
				t.Errorf("Decide = %s, want %s", got, tc.want)
			}
		})
	}
}

func signedQuery(t *testing.T, secret string, override map[string]string) url.Values {
	t.Helper()
	params := map[string]string{
		"txn_ref":        "OWLABC12DEF-1a2b3c4d",
		"gateway_txn_id": "GW-1",
		"amount":         "250000",
		"response_code":  "00",
		"pay_date":       time.Now().UTC().Format(payDateLayout),
	}
	for k, v := range override {
		params[k] = v
	}
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set("secure_hash", Sign(params, secret))
	return q
}

func TestParseNotification(t *testing.T) {
	const secret = "s3cret"

	t.Run("valid", func(t *testing.T) {
		n, err := ParseNotification(signedQuery(t, secret, nil), secret)
		if err != nil {
			t.Fatalf("ParseNotification: %v", err)
		}
		if n.Amount != 250_000 || n.TransactionRef != "OWLABC12DEF-1a2b3c4d" {
			t.Errorf("parsed %+v", n)
		}
	})

	t.Run("tampered amount", func(t *testing.T) {
		q := signedQuery(t, secret, nil)
		q.Set("amount", "1")
		if _, err := ParseNotification(q, secret); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("want validation error, got %v", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		q := signedQuery(t, "other", nil)
		if _, err := ParseNotification(q, secret); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("want validation error, got %v", err)
		}
	})

	t.Run("bad pay_date", func(t *testing.T) {
		q := signedQuery(t, secret, map[string]string{"pay_date": "yesterday"})
		if _, err := ParseNotification(q, secret); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("want validation error, got %v", err)
		}
	})

	t.Run("missing refs", func(t *testing.T) {
		q := signedQuery(t, secret, map[string]string{"gateway_txn_id": ""})
		if _, err := ParseNotification(q, secret); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("want validation error, got %v", err)
		}
	})
}

func TestPaymentCanTransition(t *testing.T) {
	t.Parallel()

	allowed := []struct{ from, to Status }{
		{StatusPending, StatusCompleted},
		{StatusPending, StatusFailed},
		// Capture landing after the order was cancelled parks the payment
		// for refund straight from pending or processing.
		{StatusPending, StatusRefundPending},
		{StatusProcessing, StatusRefundPending},
		{StatusCompleted, StatusRefundPending},
		{StatusRefundPending, StatusRefunded},
		{StatusCompleted, StatusRefunded},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}
	denied := []struct{ from, to Status }{
		{StatusFailed, StatusCompleted},
		{StatusRefunded, StatusCompleted},
		{StatusPending, StatusRefunded},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s must be rejected", tc.from, tc.to)
		}
	}
}

// A payment captured for a cancelled order is parked, not confirmed; the ack
// must say so instead of claiming the order went through.
func TestAckFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		outcome  Outcome
		wantCode string
		wantMsg  string
	}{
		{OutcomeConfirmed, AckOK, "confirmed"},
		{OutcomeDuplicate, AckOK, "already processed"},
		{OutcomeGatewayFailed, AckOK, "failure recorded"},
		{OutcomeCancelledRace, AckOK, "recorded"},
		{OutcomeAmountMismatch, AckInvalidAmount, "invalid amount"},
	}
	for _, tc := range cases {
		ack := AckFor(tc.outcome)
		if ack.Code != tc.wantCode || ack.Message != tc.wantMsg {
			t.Errorf("AckFor(%s) = {%s %q}, want {%s %q}", tc.outcome, ack.Code, ack.Message, tc.wantCode, tc.wantMsg)
		}
	}
	if ack := AckFor(OutcomeCancelledRace); ack.Message == "confirmed" {
		t.Error("cancelled race must not ack as confirmed")
	}
}

func TestPaymentRemaining(t *testing.T) {
	t.Parallel()

	p := Payment{Amount: 100_000, RefundedAmount: 25_000}
	if p.Remaining() != 75_000 {
		t.Errorf("Remaining = %d, want 75000", p.Remaining())
	}
}
