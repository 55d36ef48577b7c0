package sweeper

import (
	"testing"
	"time"
)

func TestIsExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ttl := 30 * time.Minute

	cases := []struct {
		name      string
		createdAt time.Time
		want      bool
	}{
		{"fresh order", now.Add(-5 * time.Minute), false},
		{"exactly at the boundary", now.Add(-30 * time.Minute), false},
		{"just past the window", now.Add(-30*time.Minute - time.Second), true},
		{"long dead", now.Add(-24 * time.Hour), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsExpired(tc.createdAt, now, ttl); got != tc.want {
				t.Errorf("IsExpired = %v, want %v", got, tc.want)
			}
		})
	}
}
