package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/owlsmarket/order-core/internal/payments"
	"github.com/owlsmarket/order-core/internal/refunds"
)

type PaymentsHandler struct {
	Processor *payments.Processor
	Refunds   *refunds.Coordinator
}

type RefundReq struct {
	Amount      int64  `json:"amount"` // 0 = everything still refundable
	Reason      string `json:"reason"`
	RequestedBy string `json:"requested_by"`
}

type RefundResp struct {
	TicketID string `json:"ticket_id"`
	Amount   int64  `json:"amount"`
	Status   string `json:"status"`
}

func (h *PaymentsHandler) Register(r *chi.Mux) {
	r.Get("/payments/ipn", h.confirm)
	r.Post("/payments/ipn", h.confirm)
	r.Post("/payments/{id}/refunds", h.requestRefund)
}

// confirm is the gateway's server-to-server callback. Always HTTP 200; the
// ack code in the body drives the gateway's retry loop.
func (h *PaymentsHandler) confirm(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	params := r.URL.Query()
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil && len(r.PostForm) > 0 {
			params = r.PostForm
		}
	}
	ack := h.Processor.Confirm(ctx, params)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ack)
}

func (h *PaymentsHandler) requestRefund(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "id")

	var req RefundReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.RequestedBy == "" {
		req.RequestedBy = "admin"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	t, err := h.Refunds.Request(ctx, paymentID, req.Amount, req.Reason, req.RequestedBy)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, RefundResp{
		TicketID: t.ID,
		Amount:   t.Amount,
		Status:   string(t.Status),
	})
}
