// Operation 的下游操作测试模拟实现。
//
// 支持固定返回值、前 N 次失败、阻塞直到释放与调用时间记录。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/batchflow/batch"
)

// Operation 可编排行为的下游操作
type Operation struct {
	mu sync.Mutex

	value     any
	err       error
	failTimes int
	failErr   error
	delay     time.Duration
	release   chan struct{}
	started   chan struct{}

	calls []time.Time
}

// NewOperation 创建返回 "ok" 的操作
func NewOperation() *Operation {
	return &Operation{value: "ok"}
}

// WithValue 设置成功时的返回值
func (o *Operation) WithValue(v any) *Operation {
	o.value = v
	return o
}

// WithError 每次调用都失败
func (o *Operation) WithError(err error) *Operation {
	o.err = err
	return o
}

// FailTimes 前 n 次调用失败
func (o *Operation) FailTimes(n int, err error) *Operation {
	o.failTimes = n
	o.failErr = err
	return o
}

// WithDelay 每次调用前等待 d（可被 ctx 取消）
func (o *Operation) WithDelay(d time.Duration) *Operation {
	o.delay = d
	return o
}

// Blocking 调用阻塞直到 Release 或 ctx 取消
func (o *Operation) Blocking() *Operation {
	o.release = make(chan struct{})
	o.started = make(chan struct{}, 16)
	return o
}

// Release 释放所有阻塞中的调用
func (o *Operation) Release() {
	if o.release != nil {
		close(o.release)
	}
}

// Started 每次阻塞调用开始时收到一个信号
func (o *Operation) Started() <-chan struct{} {
	return o.started
}

// Func 返回可提交的 batch.Operation
func (o *Operation) Func() batch.Operation {
	return o.Call
}

// Call 执行一次调用
func (o *Operation) Call(ctx context.Context) (any, error) {
	o.mu.Lock()
	o.calls = append(o.calls, time.Now())
	n := len(o.calls)
	o.mu.Unlock()

	if o.release != nil {
		select {
		case o.started <- struct{}{}:
		default:
		}
		select {
		case <-o.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if o.delay > 0 {
		select {
		case <-time.After(o.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if n <= o.failTimes {
		return nil, o.failErr
	}
	if o.err != nil {
		return nil, o.err
	}
	return o.value, nil
}

// CallCount 调用次数
func (o *Operation) CallCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

// CallTimes 每次调用的开始时间
func (o *Operation) CallTimes() []time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]time.Time, len(o.calls))
	copy(out, o.calls)
	return out
}
