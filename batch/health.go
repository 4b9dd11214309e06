package batch

import (
	"fmt"
	"time"

	"github.com/BaSui01/batchflow/circuitbreaker"
)

// HealthStatus 通道健康状态
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

const (
	// unhealthyWaitFactor 最早请求等待超过 maxWaitTime 的倍数即不健康
	unhealthyWaitFactor = 10
	// degradedDepthFactor 排队深度超过 maxBatchSize 的倍数即降级
	degradedDepthFactor = 5
	degradedSuccessRate = 0.5
)

// HealthReport 健康检查结果
type HealthReport struct {
	Channel   string         `json:"channel"`
	Status    HealthStatus   `json:"status"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
	CheckedAt time.Time      `json:"checked_at"`
}

// Healthy 状态为 healthy
func (r HealthReport) Healthy() bool {
	return r.Status == HealthStatusHealthy
}

// HealthCheck 根据运行状态、熔断器、等待时长、队列深度与成功率评估健康度
func (p *Processor) HealthCheck() HealthReport {
	stats := p.Statistics()
	report := HealthReport{
		Channel:   p.name,
		Status:    HealthStatusHealthy,
		Message:   "channel is healthy",
		CheckedAt: p.clock.Now(),
		Details: map[string]any{
			"running":            stats.Running,
			"circuit_state":      stats.CircuitState,
			"queue_depth":        stats.QueueDepth,
			"pending_retries":    stats.PendingRetries,
			"oldest_pending_ms":  stats.OldestPendingAge.Milliseconds(),
			"avg_wait_ms":        stats.AverageWaitTime().Milliseconds(),
			"current_batch_size": stats.CurrentBatchSize,
			"success_rate":       stats.SuccessRate(),
			"total_requests":     stats.TotalRequests,
		},
	}

	maxPendingAge := unhealthyWaitFactor * p.config.MaxWaitTime
	maxDepth := degradedDepthFactor * p.config.MaxBatchSize
	completed := stats.Successful + stats.Failed

	switch {
	case !stats.Running:
		report.Status = HealthStatusUnhealthy
		report.Message = "processor is not running"
	case stats.CircuitState == circuitbreaker.StateOpen.String():
		report.Status = HealthStatusUnhealthy
		report.Message = "circuit breaker is open"
	case stats.OldestPendingAge > maxPendingAge:
		report.Status = HealthStatusUnhealthy
		report.Message = fmt.Sprintf("oldest pending request waited %s (limit %s)", stats.OldestPendingAge, maxPendingAge)
	case stats.QueueDepth > maxDepth:
		report.Status = HealthStatusDegraded
		report.Message = fmt.Sprintf("queue depth %d exceeds %d", stats.QueueDepth, maxDepth)
	case completed > 0 && stats.SuccessRate() < degradedSuccessRate:
		report.Status = HealthStatusDegraded
		report.Message = fmt.Sprintf("success rate %.2f below %.2f", stats.SuccessRate(), degradedSuccessRate)
	}
	return report
}
