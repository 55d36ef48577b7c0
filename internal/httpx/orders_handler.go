package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/owlsmarket/order-core/internal/apperr"
	"github.com/owlsmarket/order-core/internal/orders"
	"github.com/owlsmarket/order-core/internal/payments"
)

type OrdersHandler struct {
	Orchestrator *orders.Orchestrator
	Payments     *payments.Processor
	HoldDays     int
}

type ShippingReq struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	Province   string `json:"province"`
	Ward       string `json:"ward"`
	Country    string `json:"country"`
	PostalCode string `json:"postal_code"`
}

type CreateOrderReq struct {
	CartRef       string      `json:"cart_ref"`
	UserID        string      `json:"user_id"`
	GuestEmail    string      `json:"guest_email"`
	Shipping      ShippingReq `json:"shipping"`
	CouponCode    string      `json:"coupon_code"`
	PaymentMethod string      `json:"payment_method"`
	CustomerNote  string      `json:"customer_note"`
}

type CreateOrderResp struct {
	OrderID        string `json:"order_id"`
	Number         string `json:"number"`
	Total          int64  `json:"total"`
	PaymentID      string `json:"payment_id"`
	TransactionRef string `json:"transaction_ref"`
}

type CancelOrderReq struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

type VendorStatusReq struct {
	VendorID string `json:"vendor_id"`
	Status   string `json:"status"`
	Note     string `json:"note"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Post("/vendor/sub-orders/{id}/status", h.updateSubOrderStatus)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	ord, err := h.Orchestrator.CreateOrder(ctx, orders.CreateOrderRequest{
		CartRef:    req.CartRef,
		UserID:     req.UserID,
		GuestEmail: req.GuestEmail,
		ClientIP:   clientIP(r),
		Shipping: orders.ShippingInfo{
			Name:       req.Shipping.Name,
			Phone:      req.Shipping.Phone,
			Address:    req.Shipping.Address,
			Province:   req.Shipping.Province,
			Ward:       req.Shipping.Ward,
			Country:    req.Shipping.Country,
			PostalCode: req.Shipping.PostalCode,
		},
		CouponCode:    req.CouponCode,
		PaymentMethod: req.PaymentMethod,
		CustomerNote:  req.CustomerNote,
	})
	if err != nil {
		var drift *orders.PriceDriftError
		if errors.As(err, &drift) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": "prices changed, review your cart",
				"kind":  apperr.Kind(err),
				"items": drift.Items,
			})
			return
		}
		writeErr(w, err)
		return
	}

	pay, err := h.Payments.CreateForOrder(ctx, ord, "VND", req.PaymentMethod)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateOrderResp{
		OrderID:        ord.ID,
		Number:         ord.Number,
		Total:          ord.Total,
		PaymentID:      pay.ID,
		TransactionRef: pay.TransactionRef,
	})
}

// clientIP strips the ephemeral port from RemoteAddr so every request from
// one host lands on the same rate-limit key. The RealIP middleware may have
// already rewritten RemoteAddr to a bare IP; keep that as is.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// Status-only requests ride the cache.
	if r.URL.Query().Get("fields") == "status" {
		st, err := h.Orchestrator.CachedStatus(ctx, orderID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": string(st)})
		return
	}

	ord, err := h.Orchestrator.GetOrder(ctx, orderID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderView(&ord))
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	var req CancelOrderReq
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Actor == "" {
		req.Actor = "customer"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.Orchestrator.CancelOrder(ctx, orderID, req.Actor, req.Reason); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(orders.StatusCancelled)})
}

func (h *OrdersHandler) updateSubOrderStatus(w http.ResponseWriter, r *http.Request) {
	subOrderID := chi.URLParam(r, "id")

	var req VendorStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.VendorID == "" || req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "vendor_id and status are required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	err := h.Orchestrator.UpdateSubOrderStatus(ctx, orders.FulfillmentUpdate{
		SubOrderID: subOrderID,
		VendorID:   req.VendorID,
		Next:       orders.Status(req.Status),
		Note:       req.Note,
	}, h.HoldDays)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

type orderViewResp struct {
	ID            string `json:"id"`
	Number        string `json:"number"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	Subtotal      int64  `json:"subtotal"`
	ShippingCost  int64  `json:"shipping_cost"`
	Discount      int64  `json:"discount"`
	Tax           int64  `json:"tax"`
	Total         int64  `json:"total"`
	CouponCode    string `json:"coupon_code,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func orderView(o *orders.Order) orderViewResp {
	return orderViewResp{
		ID:            o.ID,
		Number:        o.Number,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		Subtotal:      o.Subtotal,
		ShippingCost:  o.ShippingCost,
		Discount:      o.Discount,
		Tax:           o.Tax,
		Total:         o.Total,
		CouponCode:    o.CouponCode,
		CreatedAt:     o.CreatedAt.UTC().Format(time.RFC3339),
	}
}
