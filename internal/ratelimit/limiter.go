package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetIn is the time until the current window expires and the
	// budget refills.
	ResetIn time.Duration
}

// Limiter counts requests per key inside a rolling window anchored to
// the first request of the current count. Check consumes budget; Peek
// inspects the window without consuming anything.
type Limiter interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
	Peek(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}
