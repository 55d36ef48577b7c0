package payments

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Sign computes the HMAC-SHA512 signature the gateway and we both derive:
// params sorted by key, joined as k=v& with url-escaped values, keyed by the
// shared secret. The signature param itself must not be in the map.
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares in constant time.
func Verify(params map[string]string, secret, signature string) bool {
	want := Sign(params, secret)
	return hmac.Equal([]byte(want), []byte(strings.ToLower(signature)))
}
