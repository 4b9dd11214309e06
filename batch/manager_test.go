package batch_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/batchflow/batch"
	"github.com/BaSui01/batchflow/testutil"
	"github.com/BaSui01/batchflow/testutil/fixtures"
	"github.com/BaSui01/batchflow/testutil/mocks"
	"github.com/BaSui01/batchflow/types"
)

func newManager(t *testing.T, opts ...batch.Option) *batch.Manager {
	t.Helper()
	m := batch.NewManager(append([]batch.Option{batch.WithLogger(zap.NewNop())}, opts...)...)
	t.Cleanup(m.Dispose)
	return m
}

func TestManager_InitializeChannelIdempotent(t *testing.T) {
	m := newManager(t)

	require.NoError(t, m.InitializeChannel("search", fixtures.FastChannelConfig()))
	first, err := m.Processor("search")
	require.NoError(t, err)

	// 重复初始化不替换已有处理器
	other := fixtures.FastChannelConfig()
	other.MaxBatchSize = 99
	require.NoError(t, m.InitializeChannel("search", other))
	second, err := m.Processor("search")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 10, second.Config().MaxBatchSize)
	assert.Equal(t, []string{"search"}, m.Channels())
}

func TestManager_InitializeChannelInvalid(t *testing.T) {
	m := newManager(t)

	cfg := fixtures.FastChannelConfig()
	cfg.MinBatchSize = 20
	err := m.InitializeChannel("bad", cfg)
	testutil.AssertErrorCode(t, err, types.ErrInvalidConfig)

	err = m.InitializeChannel("", fixtures.FastChannelConfig())
	testutil.AssertErrorCode(t, err, types.ErrInvalidConfig)
	assert.Empty(t, m.Channels())
}

func TestManager_ChannelNotInitialized(t *testing.T) {
	m := newManager(t)
	ctx := testutil.TestContext(t)

	_, err := m.AddToBatch(ctx, "missing", mocks.NewOperation().Func())
	testutil.AssertErrorCode(t, err, types.ErrChannelNotInitialized)
	assert.False(t, types.IsRetryable(err))

	_, err = m.GetStatistics("missing")
	testutil.AssertErrorCode(t, err, types.ErrChannelNotInitialized)
	_, err = m.PerformHealthCheck("missing")
	testutil.AssertErrorCode(t, err, types.ErrChannelNotInitialized)
	testutil.AssertErrorCode(t, m.Stop("missing"), types.ErrChannelNotInitialized)
	testutil.AssertErrorCode(t, m.Resume("missing"), types.ErrChannelNotInitialized)
	testutil.AssertErrorCode(t, m.DisposeChannel("missing"), types.ErrChannelNotInitialized)
	_, err = m.ProcessBulk(ctx, "missing", nil)
	testutil.AssertErrorCode(t, err, types.ErrChannelNotInitialized)
}

func TestManager_AddToBatchAndStatistics(t *testing.T) {
	sink := mocks.NewRecordingSink()
	m := newManager(t, batch.WithEventSink(sink))
	ctx := testutil.TestContext(t)
	require.NoError(t, m.InitializeChannel("a", fixtures.FastChannelConfig()))
	require.NoError(t, m.InitializeChannel("b", fixtures.FastChannelConfig()))

	op := mocks.NewOperation().WithValue("done")
	var futures []*batch.Future
	for i := 0; i < 4; i++ {
		f, err := m.AddToBatch(ctx, "a", op.Func(), batch.WithPriority(batch.PriorityHigh))
		require.NoError(t, err)
		futures = append(futures, f)
	}
	for _, f := range futures {
		v, err := f.Await(ctx)
		require.NoError(t, err)
		assert.Equal(t, "done", v)
	}

	stats, err := m.GetStatistics("a")
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalRequests)
	assert.Equal(t, int64(4), stats.Successful)
	assert.Equal(t, int64(4), stats.ByPriority["high"])
	assert.InDelta(t, 1.0, stats.SuccessRate(), 0.0001)
	assert.Greater(t, stats.Throughput(), 0.0)

	all := m.GetAllStatistics()
	require.Len(t, all, 2)
	assert.Equal(t, int64(0), all["b"].TotalRequests)

	_, ok := testutil.WaitForChannel(sink.C(), waitTimeout)
	assert.True(t, ok, "should publish batch processed event")
	assert.Equal(t, "a", sink.Events()[0].Channel)
}

func TestSubmit_Typed(t *testing.T) {
	m := newManager(t)
	ctx := testutil.TestContext(t)
	require.NoError(t, m.InitializeChannel("typed", fixtures.EagerChannelConfig()))

	n, err := batch.Submit(ctx, m, "typed", func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = batch.Submit(ctx, m, "typed", func(context.Context) (string, error) {
		return "", errors.New("bad")
	})
	testutil.AssertErrorCode(t, err, types.ErrDownstreamExecution)

	_, err = batch.Submit(ctx, m, "nope", func(context.Context) (int, error) { return 0, nil })
	testutil.AssertErrorCode(t, err, types.ErrChannelNotInitialized)
}

func TestManager_StopResume(t *testing.T) {
	m := newManager(t)
	ctx := testutil.TestContext(t)
	require.NoError(t, m.InitializeChannel("c", fixtures.FastChannelConfig()))

	require.NoError(t, m.Stop("c"))
	_, err := m.AddToBatch(ctx, "c", mocks.NewOperation().Func())
	testutil.AssertErrorCode(t, err, types.ErrProcessorStopped)

	report, err := m.PerformHealthCheck("c")
	require.NoError(t, err)
	assert.Equal(t, batch.HealthStatusUnhealthy, report.Status)

	require.NoError(t, m.Resume("c"))
	f, err := m.AddToBatch(ctx, "c", mocks.NewOperation().Func())
	require.NoError(t, err)
	_, err = f.Await(ctx)
	assert.NoError(t, err)
}

func TestManager_DisposeChannel(t *testing.T) {
	m := newManager(t)
	ctx := testutil.TestContext(t)
	cfg := fixtures.FastChannelConfig()
	cfg.MinBatchSize = 5
	cfg.MaxWaitTime = time.Hour
	require.NoError(t, m.InitializeChannel("d", cfg))

	op := mocks.NewOperation()
	f, err := m.AddToBatch(ctx, "d", op.Func())
	require.NoError(t, err)

	require.NoError(t, m.DisposeChannel("d"))
	_, err = f.Await(ctx)
	testutil.AssertErrorCode(t, err, types.ErrProcessorDisposed)
	assert.Zero(t, op.CallCount())

	_, err = m.AddToBatch(ctx, "d", op.Func())
	testutil.AssertErrorCode(t, err, types.ErrChannelNotInitialized)

	// 释放后可以重新初始化同名通道
	require.NoError(t, m.InitializeChannel("d", fixtures.FastChannelConfig()))
}

func TestManager_Dispose(t *testing.T) {
	m := batch.NewManager()
	ctx := testutil.TestContext(t)
	cfg := fixtures.FastChannelConfig()
	cfg.MinBatchSize = 5
	cfg.MaxWaitTime = time.Hour

	var futures []*batch.Future
	for _, name := range []string{"x", "y", "z"} {
		require.NoError(t, m.InitializeChannel(name, cfg))
		f, err := m.AddToBatch(ctx, name, mocks.NewOperation().Func())
		require.NoError(t, err)
		futures = append(futures, f)
	}

	m.Dispose()
	m.Dispose()

	for _, f := range futures {
		r, done := f.Result()
		require.True(t, done)
		testutil.AssertErrorCode(t, r.Err, types.ErrProcessorDisposed)
	}
	assert.Empty(t, m.Channels())
	testutil.AssertErrorCode(t, m.InitializeChannel("x", cfg), types.ErrProcessorDisposed)
}

func TestManager_PerformAllHealthChecks(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.InitializeChannel("b", fixtures.FastChannelConfig()))
	require.NoError(t, m.InitializeChannel("a", fixtures.FastChannelConfig()))
	require.NoError(t, m.Stop("b"))

	reports := m.PerformAllHealthChecks()
	require.Len(t, reports, 2)
	assert.Equal(t, "a", reports[0].Channel)
	assert.Equal(t, batch.HealthStatusHealthy, reports[0].Status)
	assert.Equal(t, "b", reports[1].Channel)
	assert.Equal(t, batch.HealthStatusUnhealthy, reports[1].Status)
}

// =============================================================================
// 批量模式
// =============================================================================

func TestManager_ProcessBulkOrdered(t *testing.T) {
	sink := mocks.NewRecordingSink()
	m := newManager(t, batch.WithEventSink(sink))
	ctx := testutil.TestContext(t)

	cfg := fixtures.FastChannelConfig()
	cfg.MaxBatchSize = 3
	cfg.MaxConcurrentBatches = 2
	require.NoError(t, m.InitializeChannel("bulk", cfg))

	ops := make([]batch.Operation, 8)
	for i := range ops {
		ops[i] = mocks.NewOperation().WithValue(i).WithDelay(5 * time.Millisecond).Func()
	}

	results, err := m.ProcessBulk(ctx, "bulk", ops)
	require.NoError(t, err)
	require.Len(t, results, 8)
	for i, r := range results {
		assert.NoError(t, r.Err)
		assert.Equal(t, i, r.Value)
	}

	// 8 个操作按 3 个一块分为 3 块
	assert.ElementsMatch(t, []int{3, 3, 2}, sink.BatchSizes())

	stats, err := m.GetStatistics("bulk")
	require.NoError(t, err)
	assert.Equal(t, int64(8), stats.Successful)
	assert.Equal(t, int64(8), stats.TotalRequests)
}

func TestManager_ProcessBulkChunkConcurrency(t *testing.T) {
	m := newManager(t)
	ctx := testutil.TestContext(t)

	cfg := fixtures.FastChannelConfig()
	cfg.MaxBatchSize = 2
	cfg.MaxConcurrentBatches = 2
	require.NoError(t, m.InitializeChannel("bulk", cfg))

	var (
		mu     sync.Mutex
		active int
		peak   int
	)
	op := func(context.Context) (any, error) {
		mu.Lock()
		active++
		peak = max(peak, active)
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return nil, nil
	}

	ops := make([]batch.Operation, 10)
	for i := range ops {
		ops[i] = op
	}
	_, err := m.ProcessBulk(ctx, "bulk", ops)
	require.NoError(t, err)

	// 最多 2 块并发，每块 2 个操作
	assert.LessOrEqual(t, peak, 4)
	assert.GreaterOrEqual(t, peak, 2)
}

func TestManager_ProcessBulkRetries(t *testing.T) {
	m := newManager(t)
	ctx := testutil.TestContext(t)
	require.NoError(t, m.InitializeChannel("bulk", fixtures.RetryingChannelConfig(2, time.Millisecond)))

	flaky := mocks.NewOperation().FailTimes(2, errors.New("flaky")).WithValue("ok")
	broken := mocks.NewOperation().WithError(errors.New("broken"))

	results, err := m.ProcessBulk(ctx, "bulk", []batch.Operation{flaky.Func(), broken.Func()})
	require.NoError(t, err)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, "ok", results[0].Value)
	assert.Equal(t, 3, flaky.CallCount())

	testutil.AssertErrorCode(t, results[1].Err, types.ErrRetriesExhausted)
	testutil.AssertErrorCodeInChain(t, results[1].Err, types.ErrDownstreamExecution)
	assert.Equal(t, 3, broken.CallCount())

	stats, err := m.GetStatistics("bulk")
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Retried)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestManager_ProcessBulkSkipsNonRetryable(t *testing.T) {
	m := newManager(t)
	ctx := testutil.TestContext(t)
	require.NoError(t, m.InitializeChannel("bulk", fixtures.RetryingChannelConfig(3, time.Millisecond)))

	invalid := mocks.NewOperation().WithError(types.NewError(types.ErrInvalidRequest, "bad input").WithRetryable(false))

	results, err := m.ProcessBulk(ctx, "bulk", []batch.Operation{invalid.Func()})
	require.NoError(t, err)

	testutil.AssertErrorCode(t, results[0].Err, types.ErrDownstreamExecution)
	assert.Equal(t, 1, invalid.CallCount())
}

func TestManager_ProcessBulkEmptyAndNil(t *testing.T) {
	m := newManager(t)
	ctx := testutil.TestContext(t)
	require.NoError(t, m.InitializeChannel("bulk", fixtures.FastChannelConfig()))

	results, err := m.ProcessBulk(ctx, "bulk", nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = m.ProcessBulk(ctx, "bulk", []batch.Operation{nil})
	testutil.AssertErrorCode(t, err, types.ErrInvalidRequest)

	require.NoError(t, m.Stop("bulk"))
	_, err = m.ProcessBulk(ctx, "bulk", []batch.Operation{mocks.NewOperation().Func()})
	testutil.AssertErrorCode(t, err, types.ErrProcessorStopped)
}

// =============================================================================
// 属性测试
// =============================================================================

const waitTimeout = 3 * time.Second

// 任意混合优先级、成功失败与重试的请求，每个结果句柄都恰好解决一次，计数守恒
func TestProperty_Manager_ExactlyOnceResolution(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cfg := fixtures.FastChannelConfig()
		cfg.MaxBatchSize = rapid.IntRange(1, 8).Draw(rt, "max_batch")
		cfg.MinBatchSize = rapid.IntRange(1, cfg.MaxBatchSize).Draw(rt, "min_batch")
		cfg.MaxWaitTime = 5 * time.Millisecond
		cfg.RetryEnabled = rapid.Bool().Draw(rt, "retry")
		cfg.MaxRetries = rapid.IntRange(0, 2).Draw(rt, "max_retries")
		cfg.RetryDelay = func(int) time.Duration { return time.Millisecond }
		cfg.AdaptiveSizingEnabled = rapid.Bool().Draw(rt, "adaptive")

		m := batch.NewManager()
		defer m.Dispose()
		if err := m.InitializeChannel("p", cfg); err != nil {
			rt.Fatalf("init: %v", err)
		}

		n := rapid.IntRange(1, 30).Draw(rt, "requests")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		futures := make([]*batch.Future, n)
		shouldFail := make([]bool, n)
		for i := 0; i < n; i++ {
			shouldFail[i] = rapid.Bool().Draw(rt, fmt.Sprintf("fail_%d", i))
			priority := batch.Priority(rapid.IntRange(0, 3).Draw(rt, fmt.Sprintf("priority_%d", i)))
			value := i
			fail := shouldFail[i]
			f, err := m.AddToBatch(ctx, "p", func(context.Context) (any, error) {
				if fail {
					return nil, errors.New("scripted failure")
				}
				return value, nil
			}, batch.WithPriority(priority))
			if err != nil {
				rt.Fatalf("add %d: %v", i, err)
			}
			futures[i] = f
		}

		failed := 0
		for i, f := range futures {
			v, err := f.Await(ctx)
			if errors.Is(err, context.DeadlineExceeded) {
				rt.Fatalf("future %d never resolved", i)
			}
			if shouldFail[i] {
				if err == nil {
					rt.Fatalf("future %d should fail", i)
				}
				failed++
				continue
			}
			if err != nil || v != i {
				rt.Fatalf("future %d: got (%v, %v)", i, v, err)
			}
		}

		stats, err := m.GetStatistics("p")
		if err != nil {
			rt.Fatalf("stats: %v", err)
		}
		if stats.Successful+stats.Failed != int64(n) {
			rt.Fatalf("successful(%d)+failed(%d) != %d", stats.Successful, stats.Failed, n)
		}
		if stats.Failed != int64(failed) {
			rt.Fatalf("failed %d, want %d", stats.Failed, failed)
		}
		if stats.CurrentBatchSize < cfg.MinBatchSize || stats.CurrentBatchSize > cfg.MaxBatchSize {
			rt.Fatalf("batch size %d outside [%d, %d]", stats.CurrentBatchSize, cfg.MinBatchSize, cfg.MaxBatchSize)
		}
	})
}
