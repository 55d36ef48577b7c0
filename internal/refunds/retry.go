package refunds

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	"github.com/owlsmarket/order-core/internal/apperr"
)

// Policy bounds the in-process retry loop around one gateway call. Exhausting
// it returns the message to the queue for redelivery.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

// NextDelay doubles per attempt from Base, capped at Max, with up to 25%
// jitter so a burst of failed refunds does not hammer the gateway in step.
func (p Policy) NextDelay(attempt int) time.Duration {
	d := p.Base
	for i := 0; i < attempt && d < p.Max; i++ {
		d *= 2
	}
	if d > p.Max {
		d = p.Max
	}
	if d > 0 {
		d += time.Duration(rand.Int63n(int64(d)/4 + 1))
	}
	return d
}

// Transient reports whether the error is worth retrying: network trouble and
// gateway 5xx yes, business rejections no.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, apperr.ErrPermanentGateway) {
		return false
	}
	if errors.Is(err, apperr.ErrTransientGateway) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return false
}
