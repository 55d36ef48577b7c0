package httpx

import (
	"net/http/httptest"
	"testing"
)

// Two requests from the same host must map to the same per-IP key no matter
// which ephemeral port they arrive on.
func TestClientIP(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		remoteAddr string
		want       string
	}{
		{"ipv4 with port", "1.2.3.4:54321", "1.2.3.4"},
		{"ipv4 different port same host", "1.2.3.4:60001", "1.2.3.4"},
		{"bare ipv4 from realip middleware", "1.2.3.4", "1.2.3.4"},
		{"ipv6 with port", "[2001:db8::1]:443", "2001:db8::1"},
		{"bare ipv6", "2001:db8::1", "2001:db8::1"},
		{"loopback with port", "[::1]:80", "::1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/orders", nil)
			r.RemoteAddr = tc.remoteAddr
			if got := clientIP(r); got != tc.want {
				t.Errorf("clientIP(%q) = %q, want %q", tc.remoteAddr, got, tc.want)
			}
		})
	}
}
