// =============================================================================
// 📦 测试数据工厂 - 通道配置
// =============================================================================
// 提供预定义的通道配置，用于测试
// =============================================================================
package fixtures

import (
	"time"

	"github.com/BaSui01/batchflow/batch"
	"github.com/BaSui01/batchflow/retry"
)

// FastChannelConfig 返回短等待、无重试、无去重的通道配置
func FastChannelConfig() batch.ChannelConfig {
	return batch.ChannelConfig{
		MaxBatchSize:               10,
		MinBatchSize:               1,
		MaxWaitTime:                50 * time.Millisecond,
		MaxConcurrentBatches:       2,
		RetryEnabled:               false,
		RetryDelay:                 retry.ExponentialDelay(10 * time.Millisecond),
		RequestTimeout:             time.Second,
		CircuitBreakerThreshold:    100,
		CircuitBreakerResetTimeout: time.Second,
	}
}

// EagerChannelConfig 每个请求单独成批（MaxBatchSize = 1）
func EagerChannelConfig() batch.ChannelConfig {
	cfg := FastChannelConfig()
	cfg.MaxBatchSize = 1
	cfg.MinBatchSize = 1
	return cfg
}

// RetryingChannelConfig 在 FastChannelConfig 基础上开启重试
func RetryingChannelConfig(maxRetries int, base time.Duration) batch.ChannelConfig {
	cfg := FastChannelConfig()
	cfg.RetryEnabled = true
	cfg.MaxRetries = maxRetries
	cfg.RetryDelay = retry.ExponentialDelay(base)
	return cfg
}

// DedupChannelConfig 开启去重
func DedupChannelConfig(window time.Duration) batch.ChannelConfig {
	cfg := EagerChannelConfig()
	cfg.DeduplicationEnabled = true
	cfg.DedupWindow = window
	return cfg
}
