// Package limiter provides optional engine-wide bandwidth shaping: a
// token-bucket pair (upload/download) that relay components wrap around
// their connections' write side. With no limits configured everything
// here is a no-op passthrough.
package limiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// ByteLimiter is a per-connection byte budget: bps bytes per second,
// carrying unused budget forward within the current second. A nil
// ByteLimiter never waits.
type ByteLimiter struct {
	bps int64

	last time.Time
	acc  int64
}

// NewByteLimiter returns nil when bps <= 0 (unlimited).
func NewByteLimiter(bps int64) *ByteLimiter {
	if bps <= 0 {
		return nil
	}
	return &ByteLimiter{bps: bps}
}

// NeedWait reports how long the caller must wait before writing n bytes;
// <= 0 means write immediately.
func (bl *ByteLimiter) NeedWait(n int) time.Duration {
	if bl == nil || bl.bps <= 0 || n <= 0 {
		return 0
	}
	now := time.Now()
	if bl.last.IsZero() {
		bl.last = now
		return 0
	}
	elapsed := now.Sub(bl.last)
	bl.acc -= int64(float64(bl.bps) * elapsed.Seconds())
	if bl.acc < 0 {
		bl.acc = 0
	}
	bl.acc += int64(n)
	bl.last = now

	if bl.acc <= bl.bps {
		return 0
	}
	overflow := bl.acc - bl.bps
	return time.Duration(float64(overflow) / float64(bl.bps) * float64(time.Second))
}

// MkShaper builds a shared shaper for limitBps bytes per second, with a
// burst of a tenth of the hint (at least one byte).
func MkShaper(limitBps, burstHintBps int64) *rate.Limiter {
	if limitBps <= 0 {
		return nil
	}
	burst := burstHintBps / 10
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(limitBps), int(burst))
}

// WaitBeforeWrite sleeps as required by the per-connection limiter and
// every non-nil shared limiter before an n-byte write. Shared limiters
// are reserved together and slept once for the largest delay; a cancelled
// ctx returns its error with all reservations released.
func WaitBeforeWrite(ctx context.Context, n int, perConn *ByteLimiter, shareds ...*rate.Limiter) error {
	if n <= 0 {
		return nil
	}

	if perConn != nil {
		if d := perConn.NeedWait(n); d > 0 {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
		}
	}

	now := time.Now()
	reservations := make([]*rate.Reservation, 0, len(shareds))
	maxDelay := time.Duration(0)
	for _, lim := range shareds {
		if lim == nil {
			continue
		}
		r := lim.ReserveN(now, n)
		if !r.OK() {
			for _, rv := range reservations {
				rv.CancelAt(now)
			}
			return context.DeadlineExceeded
		}
		if d := r.DelayFrom(now); d > maxDelay {
			maxDelay = d
		}
		reservations = append(reservations, r)
	}

	if maxDelay > 0 {
		t := time.NewTimer(maxDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			for _, rv := range reservations {
				rv.CancelAt(now)
			}
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}
