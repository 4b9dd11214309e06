package monitor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/BaSui01/batchflow/batch"
)

// pruneInterval 两次清理历史报告之间的最小间隔
const pruneInterval = time.Hour

// Source 健康与统计数据来源，由 batch.Manager 实现
type Source interface {
	PerformAllHealthChecks() []batch.HealthReport
	GetAllStatistics() map[string]batch.Statistics
}

// Observer 接收每轮检查的结果，由 metrics.Collector 实现
type Observer interface {
	ObserveStatistics(stats batch.Statistics)
	ObserveHealth(report batch.HealthReport)
	ForgetChannel(channel string)
}

// Config 监控配置
type Config struct {
	// Interval 检查间隔
	Interval time.Duration
	// Retention 报告保留时长，0 表示不清理
	Retention time.Duration
}

// Option 监控选项
type Option func(*Monitor)

// WithStore 持久化每轮报告
func WithStore(s Store) Option {
	return func(m *Monitor) { m.store = s }
}

// WithObserver 将统计与健康度推送给观察者
func WithObserver(o Observer) Option {
	return func(m *Monitor) { m.observer = o }
}

// WithClock 注入时钟，测试中使用 clock.Mock
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// Monitor 周期性地对所有通道执行健康检查
type Monitor struct {
	source   Source
	config   Config
	store    Store
	observer Observer
	clock    clock.Clock
	logger   *zap.Logger

	mu        sync.RWMutex
	last      map[string]batch.HealthReport
	lastPrune time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// New 创建监控器
func New(source Source, config Config, opts ...Option) *Monitor {
	if config.Interval <= 0 {
		config.Interval = 15 * time.Second
	}
	m := &Monitor{
		source: source,
		config: config,
		clock:  clock.New(),
		logger: zap.NewNop(),
		last:   make(map[string]batch.HealthReport),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "monitor"))
	return m
}

// Start 启动后台检查循环，重复调用返回错误
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return errors.New("monitor already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	ticker := m.clock.Ticker(m.config.Interval)
	m.mu.Unlock()

	m.logger.Info("health monitor started",
		zap.Duration("interval", m.config.Interval),
		zap.Bool("persist", m.store != nil),
	)

	go m.loop(ctx, ticker)
	return nil
}

// Stop 停止检查循环并等待当前一轮结束
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info("health monitor stopped")
}

func (m *Monitor) loop(ctx context.Context, ticker *clock.Ticker) {
	defer close(m.done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.CheckNow(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warn("health check round failed", zap.Error(err))
			}
		}
	}
}

// CheckNow 执行一轮检查：推送观察者、记录状态变化、持久化并按需清理
// 持久化失败会返回错误，但报告照常返回
func (m *Monitor) CheckNow(ctx context.Context) ([]batch.HealthReport, error) {
	reports := m.source.PerformAllHealthChecks()
	stats := m.source.GetAllStatistics()

	if m.observer != nil {
		for _, s := range stats {
			m.observer.ObserveStatistics(s)
		}
		for _, r := range reports {
			m.observer.ObserveHealth(r)
		}
	}

	m.track(reports)

	if m.store == nil {
		return reports, nil
	}
	if err := m.store.Save(ctx, reports); err != nil {
		return reports, err
	}
	m.maybePrune(ctx)
	return reports, nil
}

// track 记录最新报告，状态变化写日志，已消失的通道从观察者中移除
func (m *Monitor) track(reports []batch.HealthReport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{}, len(reports))
	for _, r := range reports {
		seen[r.Channel] = struct{}{}
		prev, ok := m.last[r.Channel]
		m.last[r.Channel] = r
		if ok && prev.Status == r.Status {
			continue
		}

		fields := []zap.Field{
			zap.String("channel", r.Channel),
			zap.String("status", string(r.Status)),
			zap.String("message", r.Message),
		}
		if ok {
			fields = append(fields, zap.String("previous", string(prev.Status)))
		}
		switch r.Status {
		case batch.HealthStatusUnhealthy:
			m.logger.Error("通道不健康", fields...)
		case batch.HealthStatusDegraded:
			m.logger.Warn("通道降级", fields...)
		default:
			m.logger.Info("通道健康状态变化", fields...)
		}
	}

	for name := range m.last {
		if _, ok := seen[name]; ok {
			continue
		}
		delete(m.last, name)
		if m.observer != nil {
			m.observer.ForgetChannel(name)
		}
		m.logger.Info("通道已移除，停止跟踪", zap.String("channel", name))
	}
}

func (m *Monitor) maybePrune(ctx context.Context) {
	if m.config.Retention <= 0 {
		return
	}
	now := m.clock.Now()

	m.mu.Lock()
	if !m.lastPrune.IsZero() && now.Sub(m.lastPrune) < pruneInterval {
		m.mu.Unlock()
		return
	}
	m.lastPrune = now
	m.mu.Unlock()

	if _, err := m.store.Prune(ctx, now.Add(-m.config.Retention)); err != nil {
		m.logger.Warn("prune health reports failed", zap.Error(err))
	}
}

// Last 返回每个通道最近一次报告，按通道名排序
func (m *Monitor) Last() []batch.HealthReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]batch.HealthReport, 0, len(m.last))
	for _, r := range m.last {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}
