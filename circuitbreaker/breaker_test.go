package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errFail = errors.New("fail")

func failing(context.Context) error { return errFail }
func passing(context.Context) error { return nil }

func newMockBreaker(t *testing.T, cfg *Config) (CircuitBreaker, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	return NewCircuitBreaker(cfg, zap.NewNop(), WithClock(mock)), mock
}

// ---------------------------------------------------------------------------
// DefaultConfig
// ---------------------------------------------------------------------------

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.Threshold)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 60*time.Second, cfg.ResetTimeout)
	assert.Equal(t, 1, cfg.HalfOpenMaxCalls)
	assert.Nil(t, cfg.OnStateChange)
	assert.Nil(t, cfg.IsFailure)
}

// ---------------------------------------------------------------------------
// NewCircuitBreaker
// ---------------------------------------------------------------------------

func TestNewCircuitBreaker(t *testing.T) {
	tests := []struct {
		name              string
		cfg               *Config
		wantThreshold     int
		wantTimeout       time.Duration
		wantResetTimeout  time.Duration
		wantHalfOpenCalls int
	}{
		{
			name:              "nil config uses defaults",
			cfg:               nil,
			wantThreshold:     5,
			wantTimeout:       30 * time.Second,
			wantResetTimeout:  60 * time.Second,
			wantHalfOpenCalls: 1,
		},
		{
			name: "zero values corrected to defaults",
			cfg: &Config{
				Threshold:        0,
				Timeout:          0,
				ResetTimeout:     0,
				HalfOpenMaxCalls: -1,
			},
			wantThreshold:     5,
			wantTimeout:       30 * time.Second,
			wantResetTimeout:  60 * time.Second,
			wantHalfOpenCalls: 1,
		},
		{
			name: "custom values preserved",
			cfg: &Config{
				Threshold:        3,
				Timeout:          5 * time.Second,
				ResetTimeout:     10 * time.Second,
				HalfOpenMaxCalls: 2,
			},
			wantThreshold:     3,
			wantTimeout:       5 * time.Second,
			wantResetTimeout:  10 * time.Second,
			wantHalfOpenCalls: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := NewCircuitBreaker(tt.cfg, zap.NewNop())
			require.NotNil(t, cb)
			assert.Equal(t, StateClosed, cb.State())

			b := cb.(*breaker)
			assert.Equal(t, tt.wantThreshold, b.config.Threshold)
			assert.Equal(t, tt.wantTimeout, b.config.Timeout)
			assert.Equal(t, tt.wantResetTimeout, b.config.ResetTimeout)
			assert.Equal(t, tt.wantHalfOpenCalls, b.config.HalfOpenMaxCalls)
		})
	}
}

func TestNewCircuitBreaker_NilLogger(t *testing.T) {
	cb := NewCircuitBreaker(nil, nil)
	require.NotNil(t, cb)
	assert.NoError(t, cb.Call(context.Background(), passing))
}

// ---------------------------------------------------------------------------
// State.String()
// ---------------------------------------------------------------------------

func TestState_String(t *testing.T) {
	assert.Equal(t, "Closed", StateClosed.String())
	assert.Equal(t, "Open", StateOpen.String())
	assert.Equal(t, "HalfOpen", StateHalfOpen.String())
	assert.Equal(t, "Unknown", State(99).String())
}

// ---------------------------------------------------------------------------
// Closed -> Open (failure threshold)
// ---------------------------------------------------------------------------

func TestBreaker_ClosedToOpen(t *testing.T) {
	threshold := 3
	cb, _ := newMockBreaker(t, &Config{
		Threshold:    threshold,
		Timeout:      5 * time.Second,
		ResetTimeout: time.Second,
	})

	for i := 0; i < threshold-1; i++ {
		err := cb.Call(context.Background(), failing)
		assert.ErrorIs(t, err, errFail)
		assert.Equal(t, StateClosed, cb.State())
	}

	err := cb.Call(context.Background(), failing)
	assert.ErrorIs(t, err, errFail)
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, threshold, cb.Snapshot().ConsecutiveFailures)
}

// ---------------------------------------------------------------------------
// Open rejects calls without invoking them
// ---------------------------------------------------------------------------

func TestBreaker_OpenRejectsCalls(t *testing.T) {
	cb, _ := newMockBreaker(t, &Config{
		Threshold:    1,
		Timeout:      5 * time.Second,
		ResetTimeout: time.Second,
	})

	_ = cb.Call(context.Background(), failing)
	require.Equal(t, StateOpen, cb.State())

	var invoked atomic.Bool
	err := cb.Call(context.Background(), func(context.Context) error {
		invoked.Store(true)
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsRejection(err))
	assert.False(t, invoked.Load(), "open breaker must not invoke the operation")
}

// ---------------------------------------------------------------------------
// Open -> HalfOpen -> Closed
// ---------------------------------------------------------------------------

func TestBreaker_TripAndRecover(t *testing.T) {
	cb, mock := newMockBreaker(t, &Config{
		Threshold:    3,
		Timeout:      5 * time.Second,
		ResetTimeout: time.Second,
	})

	for i := 0; i < 3; i++ {
		_ = cb.Call(context.Background(), failing)
	}
	require.Equal(t, StateOpen, cb.State())

	mock.Add(999 * time.Millisecond)
	assert.ErrorIs(t, cb.Call(context.Background(), passing), ErrCircuitOpen)

	mock.Add(time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State(), "elapsed reset timeout reports half-open")

	require.NoError(t, cb.Call(context.Background(), passing))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Snapshot().ConsecutiveFailures)

	var invoked atomic.Bool
	require.NoError(t, cb.Call(context.Background(), func(context.Context) error {
		invoked.Store(true)
		return nil
	}))
	assert.True(t, invoked.Load())
}

// ---------------------------------------------------------------------------
// HalfOpen -> Open (failure in half-open)
// ---------------------------------------------------------------------------

func TestBreaker_HalfOpenToOpen(t *testing.T) {
	cb, mock := newMockBreaker(t, &Config{
		Threshold:    1,
		Timeout:      5 * time.Second,
		ResetTimeout: time.Second,
	})

	_ = cb.Call(context.Background(), failing)
	require.Equal(t, StateOpen, cb.State())

	mock.Add(time.Second)
	err := cb.Call(context.Background(), failing)
	assert.ErrorIs(t, err, errFail)
	assert.Equal(t, StateOpen, cb.State())

	// 重新打开后计时重新开始
	mock.Add(500 * time.Millisecond)
	assert.ErrorIs(t, cb.Call(context.Background(), passing), ErrCircuitOpen)
	mock.Add(500 * time.Millisecond)
	assert.NoError(t, cb.Call(context.Background(), passing))
}

// ---------------------------------------------------------------------------
// HalfOpen admits exactly one trial
// ---------------------------------------------------------------------------

func TestBreaker_HalfOpenSingleTrial(t *testing.T) {
	cb, mock := newMockBreaker(t, &Config{
		Threshold:        1,
		Timeout:          5 * time.Second,
		ResetTimeout:     time.Second,
		HalfOpenMaxCalls: 1,
	})

	_ = cb.Call(context.Background(), failing)
	mock.Add(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Call(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := cb.Call(context.Background(), passing)
	assert.ErrorIs(t, err, ErrTooManyCallsInHalfOpen)
	assert.True(t, IsRejection(err))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

// ---------------------------------------------------------------------------
// Reset
// ---------------------------------------------------------------------------

func TestBreaker_Reset(t *testing.T) {
	cb, _ := newMockBreaker(t, &Config{
		Threshold:    1,
		Timeout:      5 * time.Second,
		ResetTimeout: time.Hour,
	})

	_ = cb.Call(context.Background(), failing)
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Call(context.Background(), passing))
}

// ---------------------------------------------------------------------------
// OnStateChange callback
// ---------------------------------------------------------------------------

func TestBreaker_OnStateChange(t *testing.T) {
	var mu sync.Mutex
	var transitions []struct{ from, to State }

	cb, mock := newMockBreaker(t, &Config{
		Threshold:    2,
		Timeout:      5 * time.Second,
		ResetTimeout: 50 * time.Millisecond,
		OnStateChange: func(from, to State) {
			mu.Lock()
			transitions = append(transitions, struct{ from, to State }{from, to})
			mu.Unlock()
		},
	})

	_ = cb.Call(context.Background(), failing)
	_ = cb.Call(context.Background(), failing)

	mock.Add(50 * time.Millisecond)
	_ = cb.Call(context.Background(), passing)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, transitions, struct{ from, to State }{StateClosed, StateOpen})
	assert.Contains(t, transitions, struct{ from, to State }{StateOpen, StateHalfOpen})
	assert.Contains(t, transitions, struct{ from, to State }{StateHalfOpen, StateClosed})
}

// ---------------------------------------------------------------------------
// CallWithResult
// ---------------------------------------------------------------------------

func TestBreaker_CallWithResult(t *testing.T) {
	cb := NewCircuitBreaker(&Config{Threshold: 5, Timeout: 5 * time.Second}, zap.NewNop())

	result, err := cb.CallWithResult(context.Background(), func(context.Context) (any, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

// ---------------------------------------------------------------------------
// Timeout / panic / failure filter
// ---------------------------------------------------------------------------

func TestBreaker_TimeoutCountsAsFailure(t *testing.T) {
	cb := NewCircuitBreaker(&Config{
		Threshold:    1,
		Timeout:      20 * time.Millisecond,
		ResetTimeout: time.Hour,
	}, zap.NewNop())

	err := cb.Call(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, ErrCallTimeout)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_PanicRecovered(t *testing.T) {
	cb := NewCircuitBreaker(&Config{Threshold: 2, Timeout: time.Second}, zap.NewNop())

	err := cb.Call(context.Background(), func(context.Context) error {
		panic("boom")
	})
	assert.ErrorIs(t, err, ErrPanic)
	assert.Equal(t, 1, cb.Snapshot().ConsecutiveFailures)
}

func TestBreaker_IsFailureFilter(t *testing.T) {
	errClient := errors.New("bad input")
	cb := NewCircuitBreaker(&Config{
		Threshold: 1,
		Timeout:   time.Second,
		IsFailure: func(err error) bool { return !errors.Is(err, errClient) },
	}, zap.NewNop())

	err := cb.Call(context.Background(), func(context.Context) error { return errClient })
	assert.ErrorIs(t, err, errClient)
	assert.Equal(t, StateClosed, cb.State(), "filtered errors must not trip the breaker")
}

// ---------------------------------------------------------------------------
// Success resets failure count in Closed state
// ---------------------------------------------------------------------------

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(&Config{Threshold: 3, Timeout: 5 * time.Second}, zap.NewNop())

	_ = cb.Call(context.Background(), failing)
	_ = cb.Call(context.Background(), failing)
	_ = cb.Call(context.Background(), passing)
	_ = cb.Call(context.Background(), failing)
	_ = cb.Call(context.Background(), failing)

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 2, cb.Snapshot().ConsecutiveFailures)
}

// ---------------------------------------------------------------------------
// Concurrent safety
// ---------------------------------------------------------------------------

func TestBreaker_ConcurrentSafety(t *testing.T) {
	cb := NewCircuitBreaker(&Config{
		Threshold:    100,
		Timeout:      5 * time.Second,
		ResetTimeout: 50 * time.Millisecond,
	}, zap.NewNop())

	var wg sync.WaitGroup
	var successCount atomic.Int64

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := cb.Call(context.Background(), passing); err == nil {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, int64(50), successCount.Load())
	assert.Equal(t, StateClosed, cb.State())
}
