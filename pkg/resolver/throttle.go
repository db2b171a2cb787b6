package resolver

import (
	"context"

	"golang.org/x/time/rate"
)

// RateThrottle adapts golang.org/x/time/rate.Limiter to the Throttle
// interface, bounding the one place this engine performs I/O: external
// reference resolution.
type RateThrottle struct {
	limiter *rate.Limiter
}

// NewRateThrottle creates a throttle allowing burst external fetches up
// to burst, refilling at r fetches per second thereafter.
func NewRateThrottle(r rate.Limit, burst int) *RateThrottle {
	return &RateThrottle{limiter: rate.NewLimiter(r, burst)}
}

// Wait blocks until a fetch may proceed or ctx is canceled.
func (t *RateThrottle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}
