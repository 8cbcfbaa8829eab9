// SPDX-License-Identifier: GPL-3.0-or-later
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Budget is the process-wide quota against the remote API: at most `tokens`
// operations per refill window, shared by all concurrent batch runs. It wraps
// a token bucket so the issued-token ceiling holds for any window position.
type Budget struct {
	limiter *rate.Limiter
	tokens  int
	window  time.Duration
}

// NewBudget splits the ceiling between burst and refill. A bucket with burst
// B and refill rate r admits up to B + r*window tokens inside a single
// window, so half the ceiling is granted up front and the other half refills
// across the window; the sum never exceeds tokens no matter where the window
// starts.
func NewBudget(tokens int, window time.Duration) (*Budget, error) {
	if tokens <= 0 {
		return nil, fmt.Errorf("token count must be positive, got %d", tokens)
	}
	if window <= 0 {
		return nil, fmt.Errorf("refill window must be positive, got %v", window)
	}

	refill := tokens / 2
	burst := tokens - refill
	return &Budget{
		limiter: rate.NewLimiter(rate.Limit(float64(refill)/window.Seconds()), burst),
		tokens:  tokens,
		window:  window,
	}, nil
}

// Acquire blocks until one token is available or ctx is done. Callers are
// parked rather than rejected; an id waiting for quota is never dropped.
func (b *Budget) Acquire(ctx context.Context) error {
	err := b.limiter.Wait(ctx)
	if err != nil {
		return fmt.Errorf("could not acquire rate token: %w", err)
	}
	return nil
}

// AcquireAt issues a token against an explicit clock reading and reports
// whether one was available. The explicit timestamp keeps the ceiling
// invariant testable with a simulated clock.
func (b *Budget) AcquireAt(now time.Time) bool {
	return b.limiter.AllowN(now, 1)
}

func (b *Budget) Tokens() int { return b.tokens }

func (b *Budget) Window() time.Duration { return b.window }
