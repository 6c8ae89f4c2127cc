package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultRetryConfig(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	calls := 0
	var retried []int
	cfg := fastRetry()
	cfg.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("temporary"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(), func(context.Context) error {
		calls++
		return NewTransientError(errors.New("always fails"), 500)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentErrorNoRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(), func(context.Context) error {
		calls++
		return NewPermanentError(errors.New("invalid recipient"), 400)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := fastRetry()
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, cfg, func(context.Context) error {
		calls++
		return NewTransientError(errors.New("slow"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_ReturnsValue(t *testing.T) {
	calls := 0
	v, err := DoVal(context.Background(), fastRetry(), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, NewTransientError(errors.New("blip"), 502)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestBackoff_Growth(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, Backoff(0, cfg))
	assert.Equal(t, 200*time.Millisecond, Backoff(1, cfg))
	assert.Equal(t, 400*time.Millisecond, Backoff(2, cfg))
	assert.Equal(t, time.Second, Backoff(10, cfg))
}

func TestBackoff_JitterBounds(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2, JitterFraction: 0.5}
	for i := 0; i < 100; i++ {
		d := Backoff(0, cfg)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestFromRetryConfig(t *testing.T) {
	cfg := FromRetryConfig(0, 0, 0)
	assert.Equal(t, DefaultRetryConfig().MaxAttempts, cfg.MaxAttempts)

	cfg = FromRetryConfig(5, 10, 600)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.InitialBackoff)
	assert.Equal(t, 10*time.Minute, cfg.MaxBackoff)
}
