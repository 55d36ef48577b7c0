package orders

import "testing"

// The counters track created orders, so a count equal to the cap means the
// quota is already spent.
func TestOverCap(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		count, cap int64
		want       bool
	}{
		{"under the cap", 3, 5, false},
		{"one below", 4, 5, false},
		{"exactly at the cap", 5, 5, true},
		{"over the cap", 6, 5, true},
		{"zero cap means unlimited", 1_000, 0, false},
		{"negative cap means unlimited", 1_000, -1, false},
		{"no orders yet", 0, 5, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := OverCap(tc.count, tc.cap); got != tc.want {
				t.Errorf("OverCap(%d, %d) = %v, want %v", tc.count, tc.cap, got, tc.want)
			}
		})
	}
}
