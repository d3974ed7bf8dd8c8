package booking

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Backoff doubles Base after every failed attempt. Jitter spreads each delay
// by up to +/- that fraction.
type Backoff struct {
	Base   time.Duration
	Jitter float64
}

// Delay returns the wait after failed attempt n (1-based). r is a uniform
// sample in [0, 1).
func (b Backoff) Delay(n int, r float64) time.Duration {
	d := b.Base << (n - 1)
	if b.Jitter <= 0 {
		return d
	}
	spread := b.Jitter * (2*r - 1)
	return time.Duration(float64(d) * (1 + spread))
}

func sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}
