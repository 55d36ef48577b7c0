package refunds

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/owlsmarket/order-core/internal/apperr"
	"github.com/owlsmarket/order-core/internal/payments"
)

func refundServer(t *testing.T, handler http.HandlerFunc) *HTTPGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g := NewHTTPGateway(srv.URL, "owl", "s3cret")
	return g
}

func TestHTTPGatewayRefund(t *testing.T) {
	req := GatewayRequest{
		TicketID:       "tic-1",
		GatewayTxnID:   "GW-9",
		TransactionRef: "OWLXX-1",
		Amount:         50_000,
		Reason:         "customer request",
	}

	t.Run("success carries a valid signature", func(t *testing.T) {
		g := refundServer(t, func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				t.Fatal(err)
			}
			params := map[string]string{}
			for k := range r.PostForm {
				if k == "secure_hash" {
					continue
				}
				params[k] = r.PostForm.Get(k)
			}
			if !payments.Verify(params, "s3cret", r.PostForm.Get("secure_hash")) {
				t.Error("refund request signature must verify")
			}
			if r.PostForm.Get("request_id") != "tic-1" {
				t.Errorf("request_id = %q", r.PostForm.Get("request_id"))
			}
			json.NewEncoder(w).Encode(refundResponse{Code: "00", RefundTxnID: "RF-1"})
		})

		res, err := g.Refund(context.Background(), req)
		if err != nil {
			t.Fatalf("Refund: %v", err)
		}
		if res.RefundTxnID != "RF-1" {
			t.Errorf("RefundTxnID = %q", res.RefundTxnID)
		}
	})

	t.Run("5xx is transient", func(t *testing.T) {
		g := refundServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		_, err := g.Refund(context.Background(), req)
		if !errors.Is(err, apperr.ErrTransientGateway) {
			t.Fatalf("want transient, got %v", err)
		}
		if !Transient(err) {
			t.Error("5xx must classify as retryable")
		}
	})

	t.Run("business rejection is permanent", func(t *testing.T) {
		g := refundServer(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(refundResponse{Code: "91", Message: "txn not found"})
		})
		_, err := g.Refund(context.Background(), req)
		if !errors.Is(err, apperr.ErrPermanentGateway) {
			t.Fatalf("want permanent, got %v", err)
		}
		if Transient(err) {
			t.Error("business rejection must not be retried")
		}
	})
}
