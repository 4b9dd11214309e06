package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/batchflow/circuitbreaker"
	"github.com/BaSui01/batchflow/types"
)

const (
	// starvationFactor 最早请求等待超过 maxWaitTime 的该比例时立即切批
	starvationFactor = 0.8
	publishTimeout   = 5 * time.Second
)

// Processor 单个通道的批处理控制循环
// 持有优先级队列、去重表、自适应批大小与熔断器，同一时刻最多执行一批
type Processor struct {
	name    string
	config  ChannelConfig
	logger  *zap.Logger
	clock   clock.Clock
	tracer  trace.Tracer
	sink    EventSink
	breaker circuitbreaker.CircuitBreaker
	limiter *rate.Limiter

	// ctx 在 Dispose 时取消，用于中断执行中的操作
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	queues    priorityQueues
	dedup     *dedupTable
	sizer     *adaptiveSizer
	stats     counters
	retries   map[string]*pendingRetry
	running   bool
	disposed  bool
	executing bool

	loopCancel context.CancelFunc
	loopDone   chan struct{}

	wake   chan struct{}
	execWG sync.WaitGroup
}

// pendingRetry 等待退避后重新入队的请求
// 从 retries 中删除条目的一方负责解决该请求
type pendingRetry struct {
	req   *Request
	timer *clock.Timer
}

// NewProcessor 创建处理器，需调用 Start 后才接受请求
func NewProcessor(name string, config ChannelConfig, opts ...Option) (*Processor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	logger := o.logger.With(zap.String("component", "batch_processor"), zap.String("channel", name))

	ctx, cancel := context.WithCancel(context.Background())
	p := &Processor{
		name:    name,
		config:  config,
		logger:  logger,
		clock:   o.clock,
		tracer:  o.tracer,
		sink:    o.sink,
		ctx:     ctx,
		cancel:  cancel,
		sizer:   newAdaptiveSizer(config.MinBatchSize, config.MaxBatchSize),
		stats:   newCounters(),
		retries: make(map[string]*pendingRetry),
		wake:    make(chan struct{}, 1),
	}
	if config.DeduplicationEnabled {
		p.dedup = newDedupTable(config.DedupWindow)
	}
	if config.AdmissionRateLimit > 0 {
		burst := config.AdmissionBurst
		if burst <= 0 {
			burst = max(1, int(config.AdmissionRateLimit))
		}
		p.limiter = rate.NewLimiter(rate.Limit(config.AdmissionRateLimit), burst)
	}

	p.breaker = circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
		Threshold:        config.CircuitBreakerThreshold,
		Timeout:          config.RequestTimeout,
		ResetTimeout:     config.CircuitBreakerResetTimeout,
		HalfOpenMaxCalls: 1,
		OnStateChange: func(from, to circuitbreaker.State) {
			logger.Info("熔断器状态变更",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}, logger, circuitbreaker.WithClock(o.clock))

	return p, nil
}

// Name 通道名称
func (p *Processor) Name() string { return p.name }

// Config 通道配置
func (p *Processor) Config() ChannelConfig { return p.config }

// Start 启动调度循环，对运行中的处理器无效果
func (p *Processor) Start() error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return p.disposedError()
	}
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	loopCtx, cancel := context.WithCancel(p.ctx)
	done := make(chan struct{})
	p.loopCancel = cancel
	p.loopDone = done
	ticker := p.clock.Ticker(p.config.MaxWaitTime)
	p.mu.Unlock()

	go p.loop(loopCtx, ticker, done)
	p.signal()

	p.logger.Info("批处理器已启动",
		zap.Int("max_batch_size", p.config.MaxBatchSize),
		zap.Duration("max_wait_time", p.config.MaxWaitTime),
	)
	return nil
}

// Resume 恢复被 Stop 暂停的处理器
func (p *Processor) Resume() error {
	return p.Start()
}

// Stop 停止准入与调度，已排队的请求保留
// 执行中的批次与已安排的重试照常完成，重试请求会回到队列等待 Resume
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, done := p.loopCancel, p.loopDone
	p.loopCancel, p.loopDone = nil, nil
	p.mu.Unlock()

	cancel()
	<-done
	p.logger.Info("批处理器已停止", zap.Int("queued", p.QueueDepth()))
}

// Dispose 停止处理器，所有排队和等待重试的请求以 PROCESSOR_DISPOSED 失败
// 执行中的操作被取消，返回时所有请求均已解决
func (p *Processor) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	p.running = false
	cancelLoop, done := p.loopCancel, p.loopDone
	p.loopCancel, p.loopDone = nil, nil

	rejected := p.queues.drainAll()
	for id, pr := range p.retries {
		pr.timer.Stop()
		rejected = append(rejected, pr.req)
		delete(p.retries, id)
	}
	if p.dedup != nil {
		p.dedup.clear()
	}
	p.stats.failed += int64(len(rejected))
	p.mu.Unlock()

	if cancelLoop != nil {
		cancelLoop()
		<-done
	}
	p.cancel()

	err := p.disposedError()
	for _, req := range rejected {
		req.future.resolve(Result{Err: err})
	}
	p.execWG.Wait()

	p.logger.Info("批处理器已释放", zap.Int("rejected", len(rejected)))
}

// IsRunning 是否在接受请求
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// CurrentBatchSize 当前自适应批大小
func (p *Processor) CurrentBatchSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sizer.current
}

// QueueDepth 排队请求数
func (p *Processor) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queues.len()
}

// CircuitState 熔断器当前状态
func (p *Processor) CircuitState() circuitbreaker.State {
	return p.breaker.State()
}

// Add 准入一个请求，返回结果句柄
// 去重命中时返回跟随原请求结果的句柄，不创建新请求
func (p *Processor) Add(ctx context.Context, op Operation, opts ...AddOption) (*Future, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if op == nil {
		return nil, p.newError(types.ErrInvalidRequest, "operation is nil")
	}
	o := defaultAddOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if !o.priority.valid() {
		return nil, p.newError(types.ErrInvalidRequest, fmt.Sprintf("invalid priority %d", int(o.priority)))
	}

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil, p.disposedError()
	}
	if !p.running {
		p.mu.Unlock()
		return nil, p.newError(types.ErrProcessorStopped, "processor is stopped")
	}

	now := p.clock.Now()
	if p.dedup != nil && o.dedupKey != "" {
		if entry, ok := p.dedup.lookup(o.dedupKey, now); ok {
			p.stats.deduplicated++
			p.mu.Unlock()
			p.logger.Debug("请求已去重",
				zap.String("dedup_key", o.dedupKey),
				zap.String("request_id", entry.requestID),
			)
			return entry.future.chain(), nil
		}
	}

	if p.config.MaxQueueSize > 0 && p.queues.len() >= p.config.MaxQueueSize {
		p.mu.Unlock()
		return nil, p.newError(types.ErrQueueFull, fmt.Sprintf("queue is full (%d)", p.config.MaxQueueSize))
	}
	if p.limiter != nil && !p.limiter.AllowN(now, 1) {
		p.mu.Unlock()
		return nil, p.newError(types.ErrRateLimited, "admission rate limit exceeded")
	}

	req := newRequest(op, o, now)
	p.queues.push(req)
	p.stats.totalRequests++
	p.stats.byPriority[req.Priority]++
	if p.dedup != nil && o.dedupKey != "" {
		p.dedup.register(o.dedupKey, req, now)
	}
	p.mu.Unlock()

	p.signal()
	return req.future, nil
}

// signal 唤醒调度循环做一次即时检查，不阻塞
func (p *Processor) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// =============================================================================
// 调度
// =============================================================================

func (p *Processor) loop(ctx context.Context, ticker *clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
			p.schedule(false)
		case <-ticker.C:
			p.schedule(true)
		}
	}
}

// schedule 判断是否切出一批，切出后异步执行
func (p *Processor) schedule(tick bool) {
	p.mu.Lock()
	if !p.running || p.executing {
		p.mu.Unlock()
		return
	}
	now := p.clock.Now()
	if tick && p.dedup != nil {
		p.dedup.prune(now)
	}
	if !p.shouldCut(now, tick) {
		p.mu.Unlock()
		return
	}
	batch := p.queues.drain(p.sizer.current)
	p.executing = true
	p.execWG.Add(1)
	p.mu.Unlock()

	go p.execute(batch)
}

// shouldCut 切批条件，调用方持有 mu
//
// 即时：有 critical 请求；排队数达到当前批大小；最早请求等待超过 0.8 倍 maxWaitTime。
// 周期：另外在排队数达到 minBatchSize 或最早请求等满 maxWaitTime 时切批。
func (p *Processor) shouldCut(now time.Time, tick bool) bool {
	pending := p.queues.len()
	if pending == 0 {
		return false
	}
	if p.queues.lenOf(PriorityCritical) > 0 {
		return true
	}
	if pending >= p.sizer.current {
		return true
	}

	oldest, _ := p.queues.oldest()
	age := now.Sub(oldest)
	if float64(age) > float64(p.config.MaxWaitTime)*starvationFactor {
		return true
	}
	if tick && (pending >= p.config.MinBatchSize || age >= p.config.MaxWaitTime) {
		return true
	}
	return false
}

// =============================================================================
// 执行
// =============================================================================

type outcome struct {
	result  Result
	elapsed time.Duration
}

// execute 并发执行一批请求，随后处理重试、统计与自适应调整
func (p *Processor) execute(batch []*Request) {
	defer p.execWG.Done()

	ctx, span := p.tracer.Start(p.ctx, "batch.execute",
		trace.WithAttributes(
			attribute.String("batch.channel", p.name),
			attribute.Int("batch.size", len(batch)),
		),
	)
	defer span.End()

	start := p.clock.Now()
	outcomes := make([]outcome, len(batch))

	g := &errgroup.Group{}
	g.SetLimit(len(batch))
	for i, req := range batch {
		g.Go(func() error {
			began := p.clock.Now()
			outcomes[i] = outcome{result: p.invoke(ctx, req.op)}
			outcomes[i].elapsed = p.clock.Since(began)
			return nil
		})
	}
	_ = g.Wait()

	elapsed := p.clock.Since(start)

	type resolution struct {
		req    *Request
		result Result
	}
	var (
		resolved  []resolution
		succeeded int
	)

	p.mu.Lock()
	for i, req := range batch {
		out := outcomes[i]
		p.stats.totalWaitTime += start.Sub(req.EnqueuedAt)
		p.stats.totalExecutionTime += out.elapsed

		if out.result.Err == nil {
			succeeded++
			p.stats.successful++
			resolved = append(resolved, resolution{req: req, result: out.result})
			continue
		}

		if p.disposed {
			p.stats.failed++
			resolved = append(resolved, resolution{req: req, result: Result{Err: p.disposedError().WithCause(out.result.Err)}})
			continue
		}
		if p.shouldRetry(req, out.result.Err) {
			req.RetryCount++
			p.stats.retried++
			p.scheduleRetryLocked(req, out.result.Err)
			continue
		}
		p.stats.failed++
		resolved = append(resolved, resolution{req: req, result: Result{Err: p.terminalError(req, out.result.Err)}})
	}

	successRate := float64(succeeded) / float64(len(batch))
	throughput := float64(len(batch)) / max(elapsed.Seconds(), time.Microsecond.Seconds())

	p.stats.batchesProcessed++
	p.stats.totalProcessingTime += elapsed
	p.stats.lastSuccessRate = successRate

	previous := p.sizer.current
	next := previous
	if p.config.AdaptiveSizingEnabled {
		next = p.sizer.observe(throughput, successRate)
	}
	p.executing = false
	p.mu.Unlock()

	for _, r := range resolved {
		r.req.future.resolve(r.result)
	}

	if next != previous {
		p.logger.Debug("批大小已调整",
			zap.Int("from", previous),
			zap.Int("to", next),
			zap.Float64("throughput", throughput),
			zap.Float64("success_rate", successRate),
		)
	}

	span.SetAttributes(
		attribute.Float64("batch.success_rate", successRate),
		attribute.Float64("batch.throughput", throughput),
		attribute.Int("batch.next_size", next),
	)
	if succeeded < len(batch) {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d requests failed", len(batch)-succeeded, len(batch)))
	}

	p.publish(BatchProcessedEvent{
		Channel:         p.name,
		BatchSize:       len(batch),
		ExecutionTimeMs: elapsed.Milliseconds(),
		SuccessRate:     successRate,
		Throughput:      throughput,
		NextBatchSize:   next,
		Timestamp:       p.clock.Now(),
	})

	p.signal()
}

// invoke 经熔断器执行单个操作，错误统一转换为 *types.Error
func (p *Processor) invoke(ctx context.Context, op Operation) Result {
	value, err := p.breaker.CallWithResult(ctx, func(callCtx context.Context) (any, error) {
		return op(callCtx)
	})
	if err != nil {
		return Result{Err: p.classify(err)}
	}
	return Result{Value: value}
}

// classify 将熔断器与操作错误映射为错误类别
func (p *Processor) classify(err error) *types.Error {
	switch {
	case circuitbreaker.IsRejection(err):
		return p.newError(types.ErrCircuitOpen, "circuit breaker is open").WithCause(err)
	case errors.Is(err, circuitbreaker.ErrCallTimeout), errors.Is(err, context.DeadlineExceeded):
		return p.newError(types.ErrTimeout, fmt.Sprintf("request timed out after %s", p.config.RequestTimeout)).WithCause(err)
	default:
		// 操作返回的 *types.Error 决定是否可重试
		wrapped := p.newError(types.ErrDownstreamExecution, "operation failed").WithCause(err)
		if e, ok := types.AsError(err); ok {
			wrapped.WithRetryable(e.Retryable)
		}
		return wrapped
	}
}

func (p *Processor) shouldRetry(req *Request, err error) bool {
	return p.config.RetryEnabled && req.RetryCount < p.config.MaxRetries && types.IsRetryable(err)
}

// terminalError 不再重试时返回给调用方的错误
func (p *Processor) terminalError(req *Request, err error) error {
	if req.RetryCount == 0 {
		return err
	}
	return p.newError(types.ErrRetriesExhausted,
		fmt.Sprintf("request failed after %d retries", req.RetryCount)).WithCause(err)
}

// scheduleRetryLocked 退避后将请求重新放回原优先级队列尾部，调用方持有 mu
func (p *Processor) scheduleRetryLocked(req *Request, cause error) {
	delay := p.config.retryDelay(req.RetryCount)
	pr := &pendingRetry{req: req}
	p.retries[req.ID] = pr
	pr.timer = p.clock.AfterFunc(delay, func() {
		p.fireRetry(req.ID)
	})

	p.logger.Debug("请求将重试",
		zap.String("request_id", req.ID),
		zap.Int("retry_count", req.RetryCount),
		zap.Duration("delay", delay),
		zap.Error(cause),
	)
}

func (p *Processor) fireRetry(id string) {
	p.mu.Lock()
	pr, ok := p.retries[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.retries, id)
	if p.disposed {
		p.stats.failed++
		p.mu.Unlock()
		pr.req.future.resolve(Result{Err: p.disposedError()})
		return
	}
	pr.req.EnqueuedAt = p.clock.Now()
	p.queues.push(pr.req)
	p.mu.Unlock()

	p.signal()
}

func (p *Processor) publish(event BatchProcessedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.sink.Publish(ctx, event); err != nil {
		p.logger.Warn("批处理事件发布失败", zap.Error(err))
	}
}

// Statistics 统计快照
func (p *Processor) Statistics() Statistics {
	p.mu.Lock()
	s := Statistics{
		Channel:          p.name,
		CurrentBatchSize: p.sizer.current,
		QueueDepth:       p.queues.len(),
		PendingRetries:   len(p.retries),
		Running:          p.running,
		Disposed:         p.disposed,
	}
	p.stats.snapshotInto(&s)
	if oldest, ok := p.queues.oldest(); ok {
		s.OldestPendingAge = p.clock.Since(oldest)
	}
	p.mu.Unlock()

	s.CircuitState = p.breaker.State().String()
	return s
}

func (p *Processor) newError(code types.ErrorCode, msg string) *types.Error {
	return types.NewError(code, msg).WithChannel(p.name)
}

func (p *Processor) disposedError() *types.Error {
	return p.newError(types.ErrProcessorDisposed, "processor disposed")
}
