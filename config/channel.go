package config

import (
	"time"

	"github.com/BaSui01/batchflow/batch"
	"github.com/BaSui01/batchflow/retry"
)

// ChannelConfig YAML 中的通道配置
// 零值字段（布尔为 nil）沿用 batch.DefaultChannelConfig 的默认值
type ChannelConfig struct {
	MaxBatchSize         int           `yaml:"max_batch_size"`
	MinBatchSize         int           `yaml:"min_batch_size"`
	MaxWaitTime          time.Duration `yaml:"max_wait_time"`
	MaxConcurrentBatches int           `yaml:"max_concurrent_batches"`

	RetryEnabled   *bool         `yaml:"retry_enabled"`
	MaxRetries     *int          `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	AdaptiveSizingEnabled *bool         `yaml:"adaptive_sizing_enabled"`
	DeduplicationEnabled  *bool         `yaml:"deduplication_enabled"`
	DedupWindow           time.Duration `yaml:"dedup_window"`

	CircuitBreakerThreshold    int           `yaml:"circuit_breaker_threshold"`
	CircuitBreakerResetTimeout time.Duration `yaml:"circuit_breaker_reset_timeout"`

	MaxQueueSize       int     `yaml:"max_queue_size"`
	AdmissionRateLimit float64 `yaml:"admission_rate_limit"`
	AdmissionBurst     int     `yaml:"admission_burst"`
}

// ToBatchConfig 合并到默认配置上，返回处理器可用的配置
func (c ChannelConfig) ToBatchConfig() batch.ChannelConfig {
	out := batch.DefaultChannelConfig()

	setInt(&out.MaxBatchSize, c.MaxBatchSize)
	setInt(&out.MinBatchSize, c.MinBatchSize)
	// 只配置了较小的 max_batch_size 时，默认 min 不能超过它
	if c.MinBatchSize == 0 && out.MinBatchSize > out.MaxBatchSize {
		out.MinBatchSize = out.MaxBatchSize
	}
	setDuration(&out.MaxWaitTime, c.MaxWaitTime)
	setInt(&out.MaxConcurrentBatches, c.MaxConcurrentBatches)

	if c.RetryEnabled != nil {
		out.RetryEnabled = *c.RetryEnabled
	}
	if c.MaxRetries != nil {
		out.MaxRetries = *c.MaxRetries
	}
	if c.RetryBaseDelay > 0 {
		out.RetryDelay = retry.ExponentialDelay(c.RetryBaseDelay)
	}
	setDuration(&out.RequestTimeout, c.RequestTimeout)

	if c.AdaptiveSizingEnabled != nil {
		out.AdaptiveSizingEnabled = *c.AdaptiveSizingEnabled
	}
	if c.DeduplicationEnabled != nil {
		out.DeduplicationEnabled = *c.DeduplicationEnabled
	}
	setDuration(&out.DedupWindow, c.DedupWindow)

	setInt(&out.CircuitBreakerThreshold, c.CircuitBreakerThreshold)
	setDuration(&out.CircuitBreakerResetTimeout, c.CircuitBreakerResetTimeout)

	out.MaxQueueSize = c.MaxQueueSize
	out.AdmissionRateLimit = c.AdmissionRateLimit
	out.AdmissionBurst = c.AdmissionBurst
	return out
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}
