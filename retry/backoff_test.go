package retry

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy(maxRetries int) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

func TestBackoffRetryer_Success(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		callCount++
		return nil // 第一次就成功
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount, "应该只调用一次")
}

func TestBackoffRetryer_RetryAndSuccess(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	testErr := errors.New("temporary error")

	err := retryer.Do(context.Background(), func(context.Context) error {
		callCount++
		if callCount < 3 {
			return testErr // 前两次失败
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount, "应该调用三次")
}

func TestBackoffRetryer_MaxRetriesExceeded(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(2), zap.NewNop())

	callCount := 0
	testErr := errors.New("persistent error")

	err := retryer.Do(context.Background(), func(context.Context) error {
		callCount++
		return testErr // 始终失败
	})

	require.Error(t, err)
	assert.True(t, IsExhausted(err))
	assert.ErrorIs(t, err, testErr)
	assert.Contains(t, err.Error(), "重试 2 次后仍失败")
	assert.Equal(t, 3, callCount, "应该调用三次（初始+2次重试）")

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
}

func TestBackoffRetryer_NoRetriesReturnsRawError(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(0), zap.NewNop())
	testErr := errors.New("once")

	err := retryer.Do(context.Background(), func(context.Context) error { return testErr })
	assert.Equal(t, testErr, err)
	assert.False(t, IsExhausted(err))
}

func TestBackoffRetryer_ContextCanceled(t *testing.T) {
	policy := &RetryPolicy{
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}

	retryer := NewBackoffRetryer(policy, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	callCount := 0
	err := retryer.Do(ctx, func(context.Context) error {
		callCount++
		return errors.New("error")
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "重试被取消")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, callCount, 1, "至少调用一次")
}

func TestBackoffRetryer_RetryableErrors(t *testing.T) {
	retryableErr := errors.New("retryable error")
	nonRetryableErr := errors.New("non-retryable error")

	policy := fastPolicy(3)
	policy.RetryableErrors = []error{retryableErr}
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	t.Run("retryable error", func(t *testing.T) {
		callCount := 0
		err := retryer.Do(context.Background(), func(context.Context) error {
			callCount++
			if callCount < 3 {
				return retryableErr
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 3, callCount)
	})

	t.Run("non-retryable error", func(t *testing.T) {
		callCount := 0
		err := retryer.Do(context.Background(), func(context.Context) error {
			callCount++
			return nonRetryableErr
		})

		assert.Equal(t, nonRetryableErr, err)
		assert.Equal(t, 1, callCount, "不应该重试")
	})
}

func TestBackoffRetryer_RetryIf(t *testing.T) {
	policy := fastPolicy(3)
	policy.RetryIf = func(err error) bool { return false }
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	callCount := 0
	_ = retryer.Do(context.Background(), func(context.Context) error {
		callCount++
		return errors.New("x")
	})
	assert.Equal(t, 1, callCount)
}

func TestRetryPolicy_Delay(t *testing.T) {
	policy := &RetryPolicy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Jitter:       false,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond}, // 非法序号按第一次处理
		{1, 100 * time.Millisecond}, // 初始延迟
		{2, 200 * time.Millisecond}, // 100 * 2^1
		{3, 400 * time.Millisecond}, // 100 * 2^2
		{4, 800 * time.Millisecond}, // 100 * 2^3
		{5, time.Second},            // 达到最大延迟
	}

	for _, tt := range tests {
		t.Run(tt.expected.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, policy.Delay(tt.attempt))
		})
	}
}

func TestRetryPolicy_DelayJitterBounds(t *testing.T) {
	policy := &RetryPolicy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}

	for i := 0; i < 100; i++ {
		d := policy.Delay(3) // 基准 400ms，±25%
		assert.GreaterOrEqual(t, d, 300*time.Millisecond)
		assert.LessOrEqual(t, d, 500*time.Millisecond)
	}
}

func TestRetryPolicy_DelayFuncOverrides(t *testing.T) {
	policy := &RetryPolicy{
		InitialDelay: time.Hour,
		DelayFunc:    func(attempt int) time.Duration { return time.Duration(attempt) * time.Millisecond },
	}
	assert.Equal(t, 3*time.Millisecond, policy.Delay(3))
}

func TestExponentialDelay(t *testing.T) {
	delay := ExponentialDelay(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, delay(1))
	assert.Equal(t, 200*time.Millisecond, delay(2))
	assert.Equal(t, 400*time.Millisecond, delay(3))
}

// 大序号不能溢出为负延迟，否则定时器立即触发
func TestExponentialDelay_CapsLargeAttempts(t *testing.T) {
	delay := ExponentialDelay(100 * time.Millisecond)
	prev := time.Duration(0)
	for attempt := 1; attempt <= 200; attempt++ {
		d := delay(attempt)
		require.Positive(t, d, "attempt %d", attempt)
		require.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		require.LessOrEqual(t, d, MaxExponentialDelay, "attempt %d", attempt)
		prev = d
	}
	assert.Equal(t, MaxExponentialDelay, delay(38))
}

func TestRetryPolicy_DelayUncappedSaturates(t *testing.T) {
	policy := &RetryPolicy{InitialDelay: time.Second, Multiplier: 10}
	assert.Equal(t, time.Duration(math.MaxInt64), policy.Delay(40))
}

func TestBackoffRetryer_OnRetryCallback(t *testing.T) {
	callbackCount := 0
	var lastAttempt int
	var lastErr error
	var lastDelay time.Duration

	policy := fastPolicy(2)
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		callbackCount++
		lastAttempt = attempt
		lastErr = err
		lastDelay = delay
	}

	retryer := NewBackoffRetryer(policy, zap.NewNop())

	testErr := errors.New("test error")
	callCount := 0

	_ = retryer.Do(context.Background(), func(context.Context) error {
		callCount++
		if callCount < 3 {
			return testErr
		}
		return nil
	})

	assert.Equal(t, 2, callbackCount, "回调应该被调用两次")
	assert.Equal(t, 2, lastAttempt)
	assert.Equal(t, testErr, lastErr)
	assert.Equal(t, 20*time.Millisecond, lastDelay)
}

// ---------------------------------------------------------------------------
// DoWithResultTyped (generic wrapper)
// ---------------------------------------------------------------------------

func TestDoWithResultTyped_Success(t *testing.T) {
	r := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	val, err := DoWithResultTyped(context.Background(), r, func(context.Context) (int, error) {
		return 42, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 42, val)
}

func TestDoWithResultTyped_Error(t *testing.T) {
	r := NewBackoffRetryer(fastPolicy(0), zap.NewNop())

	val, err := DoWithResultTyped(context.Background(), r, func(context.Context) (int, error) {
		return 0, errors.New("fail")
	})
	assert.Error(t, err)
	assert.Equal(t, 0, val)
}

func TestDoWithResultTyped_RetryThenSuccess(t *testing.T) {
	r := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	val, err := DoWithResultTyped(context.Background(), r, func(context.Context) (string, error) {
		callCount++
		if callCount < 3 {
			return "", errors.New("not yet")
		}
		return "done", nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "done", val)
	assert.Equal(t, 3, callCount)
}
