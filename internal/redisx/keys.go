package redisx

import "time"

const (
	// Checkout abuse counters. Guest window 24h, IP window 1h.
	KeyGuestOrders = "abuse:guest:%s" // normalized guest email
	KeyIPOrders    = "abuse:ip:%s"

	// Webhook dedup fast path: dedup:webhook:{source}:{gateway_txn_id}.
	// DB webhook_events row tetap jadi kebenaran; ini cuma shortcut.
	KeyWebhookSeen = "dedup:webhook:%s:%s"

	// Cache status order: order_status:{order_id}
	KeyOrderStatus = "order_status:%s"

	// Keranjang belanja: cart:{ref}
	KeyCart = "cart:%s"
)

var (
	TTLGuestWindow = 24 * time.Hour
	TTLIPWindow    = time.Hour
	TTLWebhookSeen = 48 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLCart        = 7 * 24 * time.Hour
)
