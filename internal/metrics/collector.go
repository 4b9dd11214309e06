// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/batchflow/batch"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 批次指标
	batchesTotal          *prometheus.CounterVec
	batchSize             *prometheus.HistogramVec
	batchExecution        *prometheus.HistogramVec
	batchSuccessRate      *prometheus.GaugeVec
	batchThroughput       *prometheus.GaugeVec
	currentBatchSizeGauge *prometheus.GaugeVec

	// 通道统计指标（快照）
	requests       *prometheus.GaugeVec
	queueDepth     *prometheus.GaugeVec
	pendingRetries *prometheus.GaugeVec
	oldestPending  *prometheus.GaugeVec
	circuitOpen    *prometheus.GaugeVec

	// 健康指标
	healthStatus *prometheus.GaugeVec

	// 数据库指标
	dbQueryDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，reg 为 nil 时注册到默认 Registry
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 批次指标
	c.batchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_processed_total",
			Help:      "Total number of executed batches",
		},
		[]string{"channel"},
	)

	c.batchSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of requests per executed batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"channel"},
	)

	c.batchExecution = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_execution_duration_seconds",
			Help:      "Batch execution duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"channel"},
	)

	c.batchSuccessRate = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_success_rate",
			Help:      "Success rate of the most recent batch",
		},
		[]string{"channel"},
	)

	c.batchThroughput = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_throughput",
			Help:      "Requests per second of the most recent batch",
		},
		[]string{"channel"},
	)

	c.currentBatchSizeGauge = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_batch_size",
			Help:      "Adaptive batch size target",
		},
		[]string{"channel"},
	)

	// 通道统计指标
	c.requests = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_requests",
			Help:      "Cumulative request counters per channel",
		},
		[]string{"channel", "outcome"}, // outcome: total, successful, failed, retried, deduplicated
	)

	c.queueDepth = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of queued requests",
		},
		[]string{"channel"},
	)

	c.pendingRetries = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_retries",
			Help:      "Number of requests waiting for a retry backoff",
		},
		[]string{"channel"},
	)

	c.oldestPending = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "oldest_pending_seconds",
			Help:      "Age of the oldest queued request in seconds",
		},
		[]string{"channel"},
	)

	c.circuitOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_state",
			Help:      "Circuit breaker state, 1 for the current state",
		},
		[]string{"channel", "state"},
	)

	// 健康指标
	c.healthStatus = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_health",
			Help:      "Channel health, 1 for the current status",
		},
		[]string{"channel", "status"},
	)

	// 数据库指标
	c.dbQueryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 📦 批次指标记录
// =============================================================================

// Publish 实现 batch.EventSink，每个批次事件更新一次批次指标
func (c *Collector) Publish(_ context.Context, event batch.BatchProcessedEvent) error {
	c.batchesTotal.WithLabelValues(event.Channel).Inc()
	c.batchSize.WithLabelValues(event.Channel).Observe(float64(event.BatchSize))
	c.batchExecution.WithLabelValues(event.Channel).Observe(float64(event.ExecutionTimeMs) / 1000)
	c.batchSuccessRate.WithLabelValues(event.Channel).Set(event.SuccessRate)
	c.batchThroughput.WithLabelValues(event.Channel).Set(event.Throughput)
	c.currentBatchSizeGauge.WithLabelValues(event.Channel).Set(float64(event.NextBatchSize))
	return nil
}

var circuitStates = []string{"Closed", "Open", "HalfOpen"}

// ObserveStatistics 用统计快照刷新通道指标
func (c *Collector) ObserveStatistics(stats batch.Statistics) {
	ch := stats.Channel
	c.requests.WithLabelValues(ch, "total").Set(float64(stats.TotalRequests))
	c.requests.WithLabelValues(ch, "successful").Set(float64(stats.Successful))
	c.requests.WithLabelValues(ch, "failed").Set(float64(stats.Failed))
	c.requests.WithLabelValues(ch, "retried").Set(float64(stats.Retried))
	c.requests.WithLabelValues(ch, "deduplicated").Set(float64(stats.Deduplicated))

	c.queueDepth.WithLabelValues(ch).Set(float64(stats.QueueDepth))
	c.pendingRetries.WithLabelValues(ch).Set(float64(stats.PendingRetries))
	c.oldestPending.WithLabelValues(ch).Set(stats.OldestPendingAge.Seconds())
	c.currentBatchSizeGauge.WithLabelValues(ch).Set(float64(stats.CurrentBatchSize))

	for _, state := range circuitStates {
		c.circuitOpen.WithLabelValues(ch, state).Set(boolGauge(stats.CircuitState == state))
	}
}

var healthStatuses = []batch.HealthStatus{
	batch.HealthStatusHealthy,
	batch.HealthStatusDegraded,
	batch.HealthStatusUnhealthy,
}

// ObserveHealth 记录通道健康状态
func (c *Collector) ObserveHealth(report batch.HealthReport) {
	for _, status := range healthStatuses {
		c.healthStatus.WithLabelValues(report.Channel, string(status)).Set(boolGauge(report.Status == status))
	}
}

// ForgetChannel 删除已释放通道的所有指标序列
func (c *Collector) ForgetChannel(channel string) {
	labels := prometheus.Labels{"channel": channel}
	for _, vec := range []interface {
		DeletePartialMatch(prometheus.Labels) int
	}{
		c.batchesTotal, c.batchSize, c.batchExecution, c.batchSuccessRate, c.batchThroughput,
		c.currentBatchSizeGauge, c.requests, c.queueDepth, c.pendingRetries, c.oldestPending,
		c.circuitOpen, c.healthStatus,
	} {
		vec.DeletePartialMatch(labels)
	}
	c.logger.Debug("channel metrics removed", zap.String("channel", channel))
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
