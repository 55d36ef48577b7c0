package orders

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:  {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:    {StatusDelivered: true},
	StatusDelivered:  {StatusRefunded: true},
	StatusCancelled:  {},
	StatusRefunded:   {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Cancellable reports whether a customer/admin cancel is still allowed.
// Anything past confirmation goes through the refund coordinator instead.
func Cancellable(s Status) bool {
	return s == StatusPending || s == StatusConfirmed
}

// RollupStatus derives the parent order status from its sub-order statuses:
// all delivered -> delivered, all cancelled -> cancelled, any shipped ->
// shipped, any processing bumps a confirmed order to processing. Returns the
// current status unchanged when no rule matches.
func RollupStatus(current Status, subs []Status) Status {
	if len(subs) == 0 {
		return current
	}
	all := func(want Status) bool {
		for _, s := range subs {
			if s != want {
				return false
			}
		}
		return true
	}
	any := func(want Status) bool {
		for _, s := range subs {
			if s == want {
				return true
			}
		}
		return false
	}

	switch {
	case all(StatusDelivered):
		return StatusDelivered
	case all(StatusCancelled):
		return StatusCancelled
	case any(StatusShipped):
		if current != StatusShipped && current != StatusDelivered {
			return StatusShipped
		}
	case any(StatusProcessing):
		if current == StatusConfirmed {
			return StatusProcessing
		}
	}
	return current
}
