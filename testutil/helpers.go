package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/batchflow/types"
)

// DefaultTimeout TestContext 的超时，足够覆盖 mock 时钟之外的真实等待
const DefaultTimeout = 30 * time.Second

// pollInterval 异步断言的轮询间隔
const pollInterval = 5 * time.Millisecond

// TestContext 返回 DefaultTimeout 后取消的上下文，测试结束时释放
func TestContext(t *testing.T) context.Context {
	return TestContextWithTimeout(t, DefaultTimeout)
}

// TestContextWithTimeout 同 TestContext，超时由调用方指定
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 已取消的上下文，用于验证入队和等待的取消路径
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// AssertErrorCode 断言错误链中第一个 *types.Error 的错误码
func AssertErrorCode(t *testing.T, err error, code types.ErrorCode) {
	t.Helper()

	if err == nil {
		t.Errorf("expected error with code %s but got nil", code)
		return
	}
	if got := types.GetErrorCode(err); got != code {
		t.Errorf("error code mismatch: expected %s, got %q (%v)", code, got, err)
	}
}

// AssertErrorCodeInChain 断言错误链任意位置存在指定错误码，
// 用于 RETRIES_EXHAUSTED 包裹原始类别的场景
func AssertErrorCodeInChain(t *testing.T, err error, code types.ErrorCode) {
	t.Helper()

	if !errors.Is(err, types.NewError(code, "")) {
		t.Errorf("expected %s in error chain, got %v", code, err)
	}
}

// AssertEventuallyTrue 轮询 condition 直到为真，超时记为失败
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !condition() {
		if time.Now().After(deadline) {
			t.Errorf("condition did not become true within %v", timeout)
			return
		}
		time.Sleep(pollInterval)
	}
}

// WaitForChannel 在超时前从 ch 接收一个值
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-ch:
		return v, true
	case <-timer.C:
		var zero T
		return zero, false
	}
}
