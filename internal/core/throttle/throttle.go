package throttle

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// EffectiveLimit combines a global and a per-operation byte rate. Zero or
// negative means unlimited; when both are set the lower one wins.
func EffectiveLimit(global, operation int64) int64 {
	switch {
	case global <= 0 && operation <= 0:
		return 0
	case global <= 0:
		return operation
	case operation <= 0:
		return global
	case global < operation:
		return global
	default:
		return operation
	}
}

// Throttle caps throughput with a token bucket. The bucket starts empty, so
// transferring S bytes at limit L always takes at least S/L, and every
// chunk of n bytes costs n/L of wall time when nothing else is slowing the
// transfer down.
//
// A Throttle is owned by a single executor and is not safe for concurrent use.
type Throttle struct {
	limiter *rate.Limiter
	limit   int64
	burst   int
}

// New creates a throttle for chunks of at most chunkSize bytes.
// A limit <= 0 disables throttling.
func New(limit int64, chunkSize int) *Throttle {
	if chunkSize < 1 {
		chunkSize = 1
	}
	t := &Throttle{burst: chunkSize}
	t.SetLimit(limit)
	return t
}

// Limit returns the current byte rate, 0 when unlimited
func (t *Throttle) Limit() int64 {
	return t.limit
}

// SetLimit changes the byte rate; 0 or less disables throttling
func (t *Throttle) SetLimit(limit int64) {
	if limit < 0 {
		limit = 0
	}
	if limit == t.limit && (limit == 0 || t.limiter != nil) {
		return
	}
	t.limit = limit
	if limit == 0 {
		t.limiter = nil
		return
	}
	if t.limiter != nil {
		t.limiter.SetLimit(rate.Limit(limit))
		return
	}
	t.limiter = rate.NewLimiter(rate.Limit(limit), t.burst)
	t.limiter.AllowN(time.Now(), t.burst)
}

// Wait blocks long enough to keep the observed rate at or under the limit
// after n more bytes have been transferred.
func (t *Throttle) Wait(ctx context.Context, n int) error {
	if t.limiter == nil || n <= 0 {
		return ctx.Err()
	}
	for n > 0 {
		step := n
		if step > t.burst {
			step = t.burst
		}
		n -= step

		r := t.limiter.ReserveN(time.Now(), step)
		if !r.OK() {
			continue
		}
		if err := sleep(ctx, r.Delay()); err != nil {
			r.Cancel()
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
