package orders

import (
	"strings"
	"testing"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	allowed := []struct{ from, to Status }{
		{StatusPending, StatusConfirmed},
		{StatusPending, StatusCancelled},
		{StatusConfirmed, StatusProcessing},
		{StatusConfirmed, StatusCancelled},
		{StatusProcessing, StatusShipped},
		{StatusShipped, StatusDelivered},
		{StatusDelivered, StatusRefunded},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusPending, StatusShipped},
		{StatusShipped, StatusCancelled},
		{StatusDelivered, StatusPending},
		{StatusCancelled, StatusConfirmed},
		{StatusRefunded, StatusDelivered},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s must be rejected", tc.from, tc.to)
		}
	}
}

func TestCancellable(t *testing.T) {
	t.Parallel()

	if !Cancellable(StatusPending) || !Cancellable(StatusConfirmed) {
		t.Error("pending and confirmed orders must be cancellable")
	}
	for _, s := range []Status{StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled, StatusRefunded} {
		if Cancellable(s) {
			t.Errorf("%s must not be cancellable", s)
		}
	}
}

func TestRollupStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		current Status
		subs    []Status
		want    Status
	}{
		{"no sub-orders keeps current", StatusConfirmed, nil, StatusConfirmed},
		{"all delivered", StatusShipped, []Status{StatusDelivered, StatusDelivered}, StatusDelivered},
		{"all cancelled", StatusConfirmed, []Status{StatusCancelled, StatusCancelled}, StatusCancelled},
		{"one shipped bumps to shipped", StatusProcessing, []Status{StatusShipped, StatusProcessing}, StatusShipped},
		{"shipped not demoted by lagging vendor", StatusShipped, []Status{StatusShipped, StatusProcessing}, StatusShipped},
		{"processing bumps confirmed", StatusConfirmed, []Status{StatusProcessing, StatusConfirmed}, StatusProcessing},
		{"partial delivery keeps shipped", StatusShipped, []Status{StatusDelivered, StatusShipped}, StatusShipped},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RollupStatus(tc.current, tc.subs); got != tc.want {
				t.Errorf("RollupStatus(%s, %v) = %s, want %s", tc.current, tc.subs, got, tc.want)
			}
		})
	}
}

func TestNewOrderNumber(t *testing.T) {
	n := NewOrderNumber()
	if !strings.HasPrefix(n, "OWL") || len(n) != 11 {
		t.Fatalf("order number %q, want OWL + 8 chars", n)
	}
	for _, r := range n[3:] {
		if !strings.ContainsRune(string(numberAlphabet), r) {
			t.Errorf("unexpected char %q in %q", r, n)
		}
	}
}

func TestSubOrderNumber(t *testing.T) {
	t.Parallel()

	if got := SubOrderNumber("OWLABC12DEF", "vend-a"); got != "OWLABC12DEF-VEND" {
		t.Errorf("SubOrderNumber = %q", got)
	}
	if got := SubOrderNumber("OWLABC12DEF", "v1"); got != "OWLABC12DEF-V1" {
		t.Errorf("short vendor id: %q", got)
	}
}
