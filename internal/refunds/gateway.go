package refunds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/owlsmarket/order-core/internal/apperr"
	"github.com/owlsmarket/order-core/internal/payments"
)

// GatewayRequest instructs the payment gateway to return money.
type GatewayRequest struct {
	TicketID       string
	GatewayTxnID   string
	TransactionRef string
	Amount         int64
	Reason         string
}

type GatewayResult struct {
	RefundTxnID string
}

// Gateway is the outbound refund call. Implementations must be safe to call
// repeatedly with the same TicketID; the ticket id doubles as the gateway-side
// idempotency key.
type Gateway interface {
	Refund(ctx context.Context, req GatewayRequest) (GatewayResult, error)
}

// HTTPGateway signs refund requests the same way notifications are signed and
// posts them to the gateway's refund endpoint.
type HTTPGateway struct {
	URL    string
	Source string
	Secret string
	Client *http.Client
}

func NewHTTPGateway(rawURL, source, secret string) *HTTPGateway {
	return &HTTPGateway{
		URL:    rawURL,
		Source: source,
		Secret: secret,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

type refundResponse struct {
	Code        string `json:"RspCode"`
	Message     string `json:"Message"`
	RefundTxnID string `json:"RefundTxnId"`
}

func (g *HTTPGateway) Refund(ctx context.Context, req GatewayRequest) (GatewayResult, error) {
	params := map[string]string{
		"request_id":     req.TicketID,
		"source":         g.Source,
		"txn_ref":        req.TransactionRef,
		"gateway_txn_id": req.GatewayTxnID,
		"amount":         strconv.FormatInt(req.Amount, 10),
		"reason":         req.Reason,
		"create_date":    time.Now().UTC().Format("20060102150405"),
	}
	params["secure_hash"] = payments.Sign(map[string]string{
		"request_id":     params["request_id"],
		"source":         params["source"],
		"txn_ref":        params["txn_ref"],
		"gateway_txn_id": params["gateway_txn_id"],
		"amount":         params["amount"],
		"reason":         params["reason"],
		"create_date":    params["create_date"],
	}, g.Secret)

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return GatewayResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.Client.Do(httpReq)
	if err != nil {
		return GatewayResult{}, fmt.Errorf("%w: %v", apperr.ErrTransientGateway, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return GatewayResult{}, fmt.Errorf("%w: http %d", apperr.ErrTransientGateway, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return GatewayResult{}, fmt.Errorf("%w: http %d", apperr.ErrPermanentGateway, resp.StatusCode)
	}

	var body refundResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return GatewayResult{}, fmt.Errorf("%w: bad response body: %v", apperr.ErrTransientGateway, err)
	}
	if body.Code != "00" {
		return GatewayResult{}, fmt.Errorf("%w: code %s: %s", apperr.ErrPermanentGateway, body.Code, body.Message)
	}
	return GatewayResult{RefundTxnID: body.RefundTxnID}, nil
}
