package batch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Priority 请求优先级，数值越小越优先
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

// numPriorities 优先级数量
const numPriorities = 4

// priorities 按收集顺序排列
var priorities = [numPriorities]Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

func (p Priority) valid() bool {
	return p >= PriorityCritical && p <= PriorityLow
}

// ParsePriority 解析优先级名称（不区分大小写）
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q", s)
	}
}

// Operation 调用方提供的下游操作，ctx 携带单次请求超时
type Operation func(ctx context.Context) (any, error)

// Result 操作结果，Err 为 nil 表示成功
type Result struct {
	Value any
	Err   error
}

// Request 已准入的请求
type Request struct {
	ID         string
	Priority   Priority
	DedupKey   string
	Metadata   map[string]string
	CreatedAt  time.Time
	EnqueuedAt time.Time // 最近一次入队时间，重试时刷新
	RetryCount int

	op     Operation
	future *Future
}

func newRequest(op Operation, opts addOptions, now time.Time) *Request {
	req := &Request{
		ID:         uuid.New().String(),
		Priority:   opts.priority,
		DedupKey:   opts.dedupKey,
		Metadata:   opts.metadata,
		CreatedAt:  now,
		EnqueuedAt: now,
		op:         op,
	}
	req.future = newFuture(req.ID, false)
	return req
}

// AddOption 准入选项
type AddOption func(*addOptions)

type addOptions struct {
	priority Priority
	dedupKey string
	metadata map[string]string
}

func defaultAddOptions() addOptions {
	return addOptions{priority: PriorityNormal}
}

// WithPriority 设置请求优先级
func WithPriority(p Priority) AddOption {
	return func(o *addOptions) {
		o.priority = p
	}
}

// WithDedupKey 设置去重键
func WithDedupKey(key string) AddOption {
	return func(o *addOptions) {
		o.dedupKey = key
	}
}

// WithMetadata 附加元数据
func WithMetadata(md map[string]string) AddOption {
	return func(o *addOptions) {
		o.metadata = md
	}
}

// =============================================================================
// Future
// =============================================================================

// Future 调用方等待的结果句柄，只会被解决一次
type Future struct {
	requestID    string
	deduplicated bool

	once   sync.Once
	done   chan struct{}
	result Result

	mu        sync.Mutex
	callbacks []func(Result)
}

func newFuture(requestID string, deduplicated bool) *Future {
	return &Future{
		requestID:    requestID,
		deduplicated: deduplicated,
		done:         make(chan struct{}),
	}
}

// RequestID 返回承载该结果的请求 ID（去重时为原始请求）
func (f *Future) RequestID() string { return f.requestID }

// Deduplicated 是否合并到了已有请求
func (f *Future) Deduplicated() bool { return f.deduplicated }

// Done 结果就绪时关闭
func (f *Future) Done() <-chan struct{} { return f.done }

// Await 等待结果，ctx 取消只影响等待本身
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result.Value, f.result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result 非阻塞读取结果，未就绪时 ok 为 false
func (f *Future) Result() (Result, bool) {
	select {
	case <-f.done:
		return f.result, true
	default:
		return Result{}, false
	}
}

// resolve 写入结果，返回是否为首次写入
func (f *Future) resolve(r Result) bool {
	resolved := false
	f.once.Do(func() {
		f.result = r
		close(f.done)
		resolved = true
	})
	if !resolved {
		return false
	}

	f.mu.Lock()
	callbacks := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()
	for _, cb := range callbacks {
		cb(r)
	}
	return true
}

// whenDone 注册结果回调，已就绪时立即执行
func (f *Future) whenDone(cb func(Result)) {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		cb(f.result)
		return
	default:
	}
	f.callbacks = append(f.callbacks, cb)
	f.mu.Unlock()
}

// chain 创建跟随 f 结果的去重句柄
func (f *Future) chain() *Future {
	follower := newFuture(f.requestID, true)
	f.whenDone(func(r Result) {
		follower.resolve(r)
	})
	return follower
}

// AwaitTyped 等待结果并转换为 T
func AwaitTyped[T any](ctx context.Context, f *Future) (T, error) {
	var zero T
	v, err := f.Await(ctx)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected result type %T", v)
	}
	return typed, nil
}
