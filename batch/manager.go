package batch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/batchflow/types"
)

// Manager 命名通道到处理器的注册表，对外提供批处理 API
// 由应用组合根显式创建并传递，不存在全局实例
type Manager struct {
	opts   []Option
	logger *zap.Logger

	mu         sync.RWMutex
	processors map[string]*Processor
	disposed   bool
}

// NewManager 创建管理器，选项会传递给每个通道的处理器
func NewManager(opts ...Option) *Manager {
	o := newOptions(opts)
	return &Manager{
		opts:       opts,
		logger:     o.logger.With(zap.String("component", "batch_manager")),
		processors: make(map[string]*Processor),
	}
}

// InitializeChannel 创建并启动通道处理器，重复初始化同名通道不做任何事
func (m *Manager) InitializeChannel(name string, config ChannelConfig) error {
	if name == "" {
		return types.NewError(types.ErrInvalidConfig, "channel name is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return types.NewError(types.ErrProcessorDisposed, "manager disposed").WithChannel(name)
	}
	if _, ok := m.processors[name]; ok {
		m.logger.Debug("通道已初始化", zap.String("channel", name))
		return nil
	}

	p, err := NewProcessor(name, config, m.opts...)
	if err != nil {
		return err
	}
	if err := p.Start(); err != nil {
		return err
	}
	m.processors[name] = p

	m.logger.Info("通道已初始化",
		zap.String("channel", name),
		zap.Int("max_batch_size", config.MaxBatchSize),
		zap.Int("min_batch_size", config.MinBatchSize),
	)
	return nil
}

// Processor 返回通道处理器
func (m *Manager) Processor(name string) (*Processor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.processors[name]
	if !ok {
		return nil, types.NewError(types.ErrChannelNotInitialized,
			fmt.Sprintf("channel %q is not initialized", name)).WithChannel(name)
	}
	return p, nil
}

// Channels 返回已初始化的通道名（有序）
func (m *Manager) Channels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.processors))
	for name := range m.processors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddToBatch 将操作提交到指定通道
func (m *Manager) AddToBatch(ctx context.Context, channel string, op Operation, opts ...AddOption) (*Future, error) {
	p, err := m.Processor(channel)
	if err != nil {
		return nil, err
	}
	return p.Add(ctx, op, opts...)
}

// Submit 提交类型化操作并等待结果
func Submit[T any](ctx context.Context, m *Manager, channel string, op func(ctx context.Context) (T, error), opts ...AddOption) (T, error) {
	f, err := m.AddToBatch(ctx, channel, func(ctx context.Context) (any, error) {
		return op(ctx)
	}, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return AwaitTyped[T](ctx, f)
}

// ProcessBulk 在指定通道上立即执行一组操作
func (m *Manager) ProcessBulk(ctx context.Context, channel string, ops []Operation) ([]Result, error) {
	p, err := m.Processor(channel)
	if err != nil {
		return nil, err
	}
	return p.ProcessBulk(ctx, ops)
}

// Stop 暂停通道，排队请求保留
func (m *Manager) Stop(channel string) error {
	p, err := m.Processor(channel)
	if err != nil {
		return err
	}
	p.Stop()
	return nil
}

// Resume 恢复通道
func (m *Manager) Resume(channel string) error {
	p, err := m.Processor(channel)
	if err != nil {
		return err
	}
	return p.Resume()
}

// DisposeChannel 释放通道，排队请求以 PROCESSOR_DISPOSED 失败
func (m *Manager) DisposeChannel(channel string) error {
	m.mu.Lock()
	p, ok := m.processors[channel]
	if ok {
		delete(m.processors, channel)
	}
	m.mu.Unlock()

	if !ok {
		return types.NewError(types.ErrChannelNotInitialized,
			fmt.Sprintf("channel %q is not initialized", channel)).WithChannel(channel)
	}
	p.Dispose()
	m.logger.Info("通道已释放", zap.String("channel", channel))
	return nil
}

// Dispose 释放所有通道，之后不能再初始化通道
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	processors := m.processors
	m.processors = make(map[string]*Processor)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range processors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Dispose()
		}()
	}
	wg.Wait()
	m.logger.Info("批处理管理器已释放", zap.Int("channels", len(processors)))
}

// GetStatistics 返回通道统计快照
func (m *Manager) GetStatistics(channel string) (Statistics, error) {
	p, err := m.Processor(channel)
	if err != nil {
		return Statistics{}, err
	}
	return p.Statistics(), nil
}

// GetAllStatistics 返回所有通道的统计快照
func (m *Manager) GetAllStatistics() map[string]Statistics {
	m.mu.RLock()
	processors := make([]*Processor, 0, len(m.processors))
	for _, p := range m.processors {
		processors = append(processors, p)
	}
	m.mu.RUnlock()

	out := make(map[string]Statistics, len(processors))
	for _, p := range processors {
		out[p.name] = p.Statistics()
	}
	return out
}

// PerformHealthCheck 检查单个通道健康度
func (m *Manager) PerformHealthCheck(channel string) (HealthReport, error) {
	p, err := m.Processor(channel)
	if err != nil {
		return HealthReport{}, err
	}
	return p.HealthCheck(), nil
}

// PerformAllHealthChecks 检查所有通道，按通道名排序
func (m *Manager) PerformAllHealthChecks() []HealthReport {
	names := m.Channels()
	reports := make([]HealthReport, 0, len(names))
	for _, name := range names {
		report, err := m.PerformHealthCheck(name)
		if err != nil {
			// 检查期间被释放
			continue
		}
		reports = append(reports, report)
	}
	return reports
}
