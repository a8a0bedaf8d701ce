package geo

import (
	"context"
	"fmt"
	"time"

	"traefiklens/internal/clock"

	"golang.org/x/time/rate"
)

// Limiter spaces calls evenly so that no window ever sees more than budget of
// them. Time comes from the injected clock so tests never really sleep.
type Limiter struct {
	limiter *rate.Limiter
	clock   clock.Clock
}

// NewLimiter returns a limiter for budget calls per window. A non-positive
// budget or window disables limiting.
func NewLimiter(budget int, window time.Duration, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.Real()
	}
	limit := rate.Inf
	if budget > 0 && window > 0 {
		limit = rate.Every(spacing(budget, window))
	}
	return &Limiter{
		limiter: rate.NewLimiter(limit, 1),
		clock:   clk,
	}
}

// spacing is window/budget rounded up to the next millisecond. The bucket
// converts through float64, and the extra slack keeps its rounding from
// squeezing budget+1 calls into one window.
func spacing(budget int, window time.Duration) time.Duration {
	return (window / time.Duration(budget)).Truncate(time.Millisecond) + time.Millisecond
}

// Wait blocks until one call is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	now := l.clock.Now()
	r := l.limiter.ReserveN(now, 1)
	if !r.OK() {
		return fmt.Errorf("rate limiter cannot grant a token")
	}
	if err := l.clock.Sleep(ctx, r.DelayFrom(now)); err != nil {
		r.CancelAt(l.clock.Now())
		return err
	}
	return nil
}
