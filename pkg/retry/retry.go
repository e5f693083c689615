// Package retry re-runs operations that fail with a transient error, with
// exponential backoff between attempts.
//
// Errors are judged by the gateway's errors classification: anything not
// classified transient stops the loop at once.
//
//	err := retry.Do(ctx, retry.Reconnect(), func(ctx context.Context) error {
//		return client.Connect(ctx)
//	})
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/jetdream/webhook-nats-gateway/errors"
)

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts counts the first call; values below 1 mean a single call.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter adds up to a quarter of the delay at random.
	Jitter bool
}

// Reconnect suits rebuilding a broker connection after a restart.
func Reconnect() Policy {
	return Policy{
		MaxAttempts:  10,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}

// Do calls fn until it succeeds, returns a non-transient error, runs out of
// attempts or ctx ends. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)
	delay := p.InitialDelay

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !errors.IsTransient(err) || attempt >= attempts {
			return err
		}

		timer := time.NewTimer(p.backoff(delay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(err, "retry", "Do", "retry cancelled")
		case <-timer.C:
		}
		delay = p.next(delay)
	}
}

func (p Policy) backoff(delay time.Duration) time.Duration {
	if p.Jitter && delay >= 4 {
		delay += rand.N(delay / 4)
	}
	return delay
}

func (p Policy) next(delay time.Duration) time.Duration {
	if p.Multiplier > 1 {
		delay = time.Duration(float64(delay) * p.Multiplier)
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}
