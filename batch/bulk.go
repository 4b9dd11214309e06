package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/batchflow/retry"
	"github.com/BaSui01/batchflow/types"
)

// ProcessBulk 立即执行一组已知操作，不经过优先级队列
// 按 MaxBatchSize 分块，最多 MaxConcurrentBatches 块并发，块内操作全部并发，
// 每个操作使用与队列模式相同的熔断与重试策略。结果与 ops 一一对应。
func (p *Processor) ProcessBulk(ctx context.Context, ops []Operation) ([]Result, error) {
	for i, op := range ops {
		if op == nil {
			return nil, p.newError(types.ErrInvalidRequest, fmt.Sprintf("operation %d is nil", i))
		}
	}

	p.mu.Lock()
	switch {
	case p.disposed:
		p.mu.Unlock()
		return nil, p.disposedError()
	case !p.running:
		p.mu.Unlock()
		return nil, p.newError(types.ErrProcessorStopped, "processor is stopped")
	}
	p.stats.totalRequests += int64(len(ops))
	p.mu.Unlock()

	results := make([]Result, len(ops))
	if len(ops) == 0 {
		return results, nil
	}

	// Dispose 时中断批量执行
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	var retried atomic.Int64
	retryer := p.bulkRetryer(&retried)

	size := p.config.MaxBatchSize
	g := &errgroup.Group{}
	g.SetLimit(p.config.MaxConcurrentBatches)
	for start := 0; start < len(ops); start += size {
		end := min(start+size, len(ops))
		g.Go(func() error {
			p.runChunk(ctx, retryer, ops[start:end], results[start:end])
			return nil
		})
	}
	_ = g.Wait()

	succeeded := 0
	for _, r := range results {
		if r.Err == nil {
			succeeded++
		}
	}

	p.mu.Lock()
	p.stats.successful += int64(succeeded)
	p.stats.failed += int64(len(ops) - succeeded)
	p.stats.retried += retried.Load()
	p.mu.Unlock()

	p.logger.Debug("批量执行完成",
		zap.Int("operations", len(ops)),
		zap.Int("succeeded", succeeded),
		zap.Int64("retried", retried.Load()),
	)
	return results, nil
}

// runChunk 并发执行一块操作并发布块事件
func (p *Processor) runChunk(ctx context.Context, retryer retry.Retryer, ops []Operation, results []Result) {
	start := p.clock.Now()

	g := &errgroup.Group{}
	for i, op := range ops {
		g.Go(func() error {
			value, err := retryer.DoWithResult(ctx, func(ctx context.Context) (any, error) {
				r := p.invoke(ctx, op)
				return r.Value, r.Err
			})
			if err != nil {
				results[i] = Result{Err: p.bulkError(err)}
				return nil
			}
			results[i] = Result{Value: value}
			return nil
		})
	}
	_ = g.Wait()

	elapsed := p.clock.Since(start)
	succeeded := 0
	for _, r := range results {
		if r.Err == nil {
			succeeded++
		}
	}

	p.mu.Lock()
	p.stats.totalProcessingTime += elapsed
	p.stats.totalExecutionTime += elapsed
	p.mu.Unlock()

	p.publish(BatchProcessedEvent{
		Channel:         p.name,
		BatchSize:       len(ops),
		ExecutionTimeMs: elapsed.Milliseconds(),
		SuccessRate:     float64(succeeded) / float64(len(ops)),
		Throughput:      float64(len(ops)) / max(elapsed.Seconds(), time.Microsecond.Seconds()),
		NextBatchSize:   p.CurrentBatchSize(),
		Timestamp:       p.clock.Now(),
	})
}

func (p *Processor) bulkRetryer(retried *atomic.Int64) retry.Retryer {
	maxRetries := 0
	if p.config.RetryEnabled {
		maxRetries = p.config.MaxRetries
	}
	return retry.NewBackoffRetryer(&retry.RetryPolicy{
		MaxRetries: maxRetries,
		DelayFunc:  p.config.retryDelay,
		RetryIf:    types.IsRetryable,
		OnRetry: func(int, error, time.Duration) {
			retried.Add(1)
		},
	}, p.logger, retry.WithClock(p.clock))
}

// bulkError 将重试器返回的错误映射为错误类别
func (p *Processor) bulkError(err error) error {
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return p.newError(types.ErrRetriesExhausted,
			fmt.Sprintf("operation failed after %d retries", exhausted.Attempts-1)).WithCause(exhausted.Last)
	}
	if p.ctx.Err() != nil {
		return p.disposedError().WithCause(err)
	}
	return err
}
