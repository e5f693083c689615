package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jetdream/webhook-nats-gateway/errors"
)

func quick(attempts int) Policy {
	return Policy{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, Multiplier: 2}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quick(5), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.WrapTransient(errors.ErrConnectionLost, "test", "op", "connect")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnNonTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quick(5), func(context.Context) error {
		calls++
		return errors.WrapFatal(errors.ErrInvalidConfig, "test", "op", "connect")
	})
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, 1, calls)
}

func TestDo_UnclassifiedErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quick(3), func(context.Context) error {
		calls++
		return stderrors.New("boom")
	})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, calls)

	calls = 0
	err = Do(context.Background(), quick(3), func(context.Context) error {
		calls++
		return stderrors.New("server unavailable")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_SingleAttempt(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Policy{}, func(context.Context) error {
		calls++
		return errors.ErrConnectionLost
	})
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, InitialDelay: time.Hour}

	calls := 0
	err := Do(ctx, p, func(context.Context) error {
		calls++
		cancel()
		return errors.ErrConnectionLost
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConnectionLost)
	assert.Contains(t, err.Error(), "retry cancelled")
	assert.Equal(t, 1, calls)
}

func TestPolicy_Backoff(t *testing.T) {
	p := Policy{Multiplier: 2, MaxDelay: 300 * time.Millisecond}
	assert.Equal(t, 200*time.Millisecond, p.next(100*time.Millisecond))
	assert.Equal(t, 300*time.Millisecond, p.next(200*time.Millisecond))

	p.Jitter = true
	for i := 0; i < 20; i++ {
		d := p.backoff(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 125*time.Millisecond)
	}
}
