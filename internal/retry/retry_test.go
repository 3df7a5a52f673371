package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoll(t *testing.T) {
	policy := Policy{MaxAttempts: 5, Interval: time.Millisecond}

	t.Run("stops when done", func(t *testing.T) {
		calls := 0
		got, err := Poll(context.Background(), policy, func(_ context.Context, attempt int) (int, bool, error) {
			calls++
			return attempt, attempt == 3, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, got)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhausts", func(t *testing.T) {
		calls := 0
		got, err := Poll(context.Background(), policy, func(_ context.Context, attempt int) (string, bool, error) {
			calls++
			return "proposed", false, nil
		})
		assert.ErrorIs(t, err, ErrExhausted)
		assert.Equal(t, "proposed", got)
		assert.Equal(t, 5, calls)
	})

	t.Run("error is not retried", func(t *testing.T) {
		boom := errors.New("boom")
		calls := 0
		_, err := Poll(context.Background(), policy, func(context.Context, int) (int, bool, error) {
			calls++
			return 0, false, boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("observes cancellation between attempts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		_, err := Poll(ctx, Policy{MaxAttempts: 5, Interval: time.Hour}, func(context.Context, int) (int, bool, error) {
			calls++
			cancel()
			return 0, false, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})

	t.Run("zero attempts still tries once", func(t *testing.T) {
		calls := 0
		_, err := Poll(context.Background(), Policy{}, func(context.Context, int) (int, bool, error) {
			calls++
			return 0, false, nil
		})
		assert.ErrorIs(t, err, ErrExhausted)
		assert.Equal(t, 1, calls)
	})
}
