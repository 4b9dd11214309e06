// Package events publishes batch processed events to Redis.
// This package is internal and should not be imported by external projects.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/batchflow/batch"
	"github.com/BaSui01/batchflow/internal/tlsutil"
)

// =============================================================================
// 📡 Redis 事件发布器
// =============================================================================

// Publisher 将批处理事件发布到 Redis pub/sub，并保存每个通道的最近一次事件
type Publisher struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// Config 发布器配置
type Config struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	// 频道前缀，事件发布到 <prefix>:<channel>
	ChannelPrefix string `yaml:"channel_prefix" json:"channel_prefix"`

	// 最近事件的保留时长
	LatestTTL time.Duration `yaml:"latest_ttl" json:"latest_ttl"`

	// 健康检查间隔，0 表示不检查
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`

	// 是否使用 TLS 连接
	TLS bool `yaml:"tls" json:"tls"`
}

// DefaultConfig 返回默认发布器配置
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		PoolSize:            10,
		MinIdleConns:        2,
		ChannelPrefix:       "batchflow:events",
		LatestTTL:           time.Hour,
		HealthCheckInterval: 30 * time.Second,
	}
}

// ErrNoEvent 通道还没有发布过事件
var ErrNoEvent = errors.New("no event published for channel")

// ErrClosed 发布器已关闭
var ErrClosed = errors.New("event publisher is closed")

// NewPublisher 创建发布器并测试连接
func NewPublisher(config Config, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ChannelPrefix == "" {
		config.ChannelPrefix = DefaultConfig().ChannelPrefix
	}

	opts := &redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	}
	if config.TLS {
		opts.TLSConfig = tlsutil.DefaultTLSConfig()
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	p := &Publisher{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "event_publisher")),
		done:   make(chan struct{}),
	}

	if config.HealthCheckInterval > 0 {
		go p.healthCheckLoop()
	}

	logger.Info("event publisher initialized",
		zap.String("addr", config.Addr),
		zap.String("prefix", config.ChannelPrefix),
	)

	return p, nil
}

// Topic 通道对应的 pub/sub 频道
func (p *Publisher) Topic(channel string) string {
	return p.config.ChannelPrefix + ":" + channel
}

func (p *Publisher) latestKey(channel string) string {
	return p.config.ChannelPrefix + ":latest:" + channel
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Publish 实现 batch.EventSink
func (p *Publisher) Publish(ctx context.Context, event batch.BatchProcessedEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := p.redis.TxPipeline()
	pipe.Publish(ctx, p.Topic(event.Channel), data)
	pipe.Set(ctx, p.latestKey(event.Channel), data, p.config.LatestTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		p.logger.Error("event publish failed", zap.String("channel", event.Channel), zap.Error(err))
		return fmt.Errorf("event publish failed: %w", err)
	}

	return nil
}

// Latest 读取通道最近一次事件
func (p *Publisher) Latest(ctx context.Context, channel string) (batch.BatchProcessedEvent, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var event batch.BatchProcessedEvent
	if p.closed {
		return event, ErrClosed
	}

	val, err := p.redis.Get(ctx, p.latestKey(channel)).Bytes()
	if errors.Is(err, redis.Nil) {
		return event, ErrNoEvent
	}
	if err != nil {
		return event, fmt.Errorf("failed to read latest event: %w", err)
	}
	if err := json.Unmarshal(val, &event); err != nil {
		return event, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return event, nil
}

// Subscribe 订阅指定通道的事件，不指定通道时订阅全部
// 返回的 channel 在 ctx 取消或发布器关闭后关闭
func (p *Publisher) Subscribe(ctx context.Context, channels ...string) (<-chan batch.BatchProcessedEvent, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrClosed
	}
	var sub *redis.PubSub
	if len(channels) == 0 {
		sub = p.redis.PSubscribe(ctx, p.config.ChannelPrefix+":*")
	} else {
		topics := make([]string, len(channels))
		for i, ch := range channels {
			topics[i] = p.Topic(ch)
		}
		sub = p.redis.Subscribe(ctx, topics...)
	}
	p.mu.RUnlock()

	// 等待订阅确认，保证返回后发布的事件都能收到
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan batch.BatchProcessedEvent, 64)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event batch.BatchProcessedEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					p.logger.Warn("忽略无法解析的事件", zap.String("topic", msg.Channel), zap.Error(err))
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Ping 检查 Redis 连接
func (p *Publisher) Ping(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	return p.redis.Ping(ctx).Err()
}

// Close 关闭发布器
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	close(p.done)
	p.logger.Info("closing event publisher")

	return p.redis.Close()
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

// healthCheckLoop 健康检查循环
func (p *Publisher) healthCheckLoop() {
	ticker := time.NewTicker(p.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.Ping(ctx); err != nil {
			p.logger.Error("event publisher health check failed", zap.Error(err))
		} else {
			p.logger.Debug("event publisher health check passed")
		}
		cancel()
	}
}
