package batch

import (
	"fmt"
	"time"

	"github.com/BaSui01/batchflow/retry"
	"github.com/BaSui01/batchflow/types"
)

// ChannelConfig 单个通道的批处理配置，初始化后不可变
type ChannelConfig struct {
	MaxBatchSize         int           `json:"max_batch_size"`
	MinBatchSize         int           `json:"min_batch_size"`
	MaxWaitTime          time.Duration `json:"max_wait_time"`
	MaxConcurrentBatches int           `json:"max_concurrent_batches"`

	RetryEnabled bool            `json:"retry_enabled"`
	MaxRetries   int             `json:"max_retries"`
	RetryDelay   retry.DelayFunc `json:"-"` // 第 n 次重试前的等待时间，n 从 1 开始

	RequestTimeout time.Duration `json:"request_timeout"`

	AdaptiveSizingEnabled bool          `json:"adaptive_sizing_enabled"`
	DeduplicationEnabled  bool          `json:"deduplication_enabled"`
	DedupWindow           time.Duration `json:"dedup_window"`

	CircuitBreakerThreshold    int           `json:"circuit_breaker_threshold"`
	CircuitBreakerResetTimeout time.Duration `json:"circuit_breaker_reset_timeout"`

	// MaxQueueSize 排队请求上限，0 表示不限制
	MaxQueueSize int `json:"max_queue_size"`
	// AdmissionRateLimit 每秒允许的准入数，0 表示不限流
	AdmissionRateLimit float64 `json:"admission_rate_limit"`
	AdmissionBurst     int     `json:"admission_burst"`
}

// DefaultChannelConfig 返回默认通道配置
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		MaxBatchSize:               50,
		MinBatchSize:               5,
		MaxWaitTime:                100 * time.Millisecond,
		MaxConcurrentBatches:       3,
		RetryEnabled:               true,
		MaxRetries:                 3,
		RetryDelay:                 retry.ExponentialDelay(100 * time.Millisecond),
		RequestTimeout:             30 * time.Second,
		AdaptiveSizingEnabled:      true,
		DeduplicationEnabled:       true,
		DedupWindow:                5 * time.Second,
		CircuitBreakerThreshold:    5,
		CircuitBreakerResetTimeout: 60 * time.Second,
	}
}

// Validate 校验配置
func (c ChannelConfig) Validate() error {
	var problems []string

	if c.MaxBatchSize <= 0 {
		problems = append(problems, "max_batch_size must be positive")
	}
	if c.MinBatchSize <= 0 {
		problems = append(problems, "min_batch_size must be positive")
	}
	if c.MinBatchSize > c.MaxBatchSize {
		problems = append(problems, fmt.Sprintf("min_batch_size (%d) exceeds max_batch_size (%d)", c.MinBatchSize, c.MaxBatchSize))
	}
	if c.MaxWaitTime <= 0 {
		problems = append(problems, "max_wait_time must be positive")
	}
	if c.MaxConcurrentBatches <= 0 {
		problems = append(problems, "max_concurrent_batches must be positive")
	}
	if c.MaxRetries < 0 {
		problems = append(problems, "max_retries cannot be negative")
	}
	if c.RequestTimeout <= 0 {
		problems = append(problems, "request_timeout must be positive")
	}
	if c.DeduplicationEnabled && c.DedupWindow <= 0 {
		problems = append(problems, "dedup_window must be positive when deduplication is enabled")
	}
	if c.CircuitBreakerThreshold <= 0 {
		problems = append(problems, "circuit_breaker_threshold must be positive")
	}
	if c.CircuitBreakerResetTimeout <= 0 {
		problems = append(problems, "circuit_breaker_reset_timeout must be positive")
	}
	if c.MaxQueueSize < 0 {
		problems = append(problems, "max_queue_size cannot be negative")
	}
	if c.AdmissionRateLimit < 0 {
		problems = append(problems, "admission_rate_limit cannot be negative")
	}

	if len(problems) > 0 {
		return types.NewError(types.ErrInvalidConfig, fmt.Sprintf("invalid channel config: %v", problems))
	}
	return nil
}

// retryDelay 返回第 attempt 次重试的等待时间
func (c ChannelConfig) retryDelay(attempt int) time.Duration {
	if c.RetryDelay != nil {
		return c.RetryDelay(attempt)
	}
	return retry.ExponentialDelay(100 * time.Millisecond)(attempt)
}
