package batch

import (
	"time"
)

// Statistics 通道统计快照
type Statistics struct {
	Channel string `json:"channel"`

	TotalRequests int64 `json:"total_requests"`
	Successful    int64 `json:"successful"`
	Failed        int64 `json:"failed"`
	Retried       int64 `json:"retried"`
	Deduplicated  int64 `json:"deduplicated"`

	BatchesProcessed    int64         `json:"batches_processed"`
	TotalWaitTime       time.Duration `json:"total_wait_time"`
	TotalExecutionTime  time.Duration `json:"total_execution_time"`
	TotalProcessingTime time.Duration `json:"total_processing_time"`

	ByPriority map[string]int64 `json:"by_priority"`

	CurrentBatchSize int           `json:"current_batch_size"`
	QueueDepth       int           `json:"queue_depth"`
	PendingRetries   int           `json:"pending_retries"`
	OldestPendingAge time.Duration `json:"oldest_pending_age"`
	LastSuccessRate  float64       `json:"last_success_rate"`
	CircuitState     string        `json:"circuit_state"`
	Running          bool          `json:"running"`
	Disposed         bool          `json:"disposed"`
}

// SuccessRate successful / totalRequests，无请求时为 1
func (s Statistics) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 1
	}
	return float64(s.Successful) / float64(s.TotalRequests)
}

// Throughput totalRequests / totalProcessingTime（条/秒）
func (s Statistics) Throughput() float64 {
	if s.TotalProcessingTime <= 0 {
		return 0
	}
	return float64(s.TotalRequests) / s.TotalProcessingTime.Seconds()
}

// AverageWaitTime 平均排队时间
func (s Statistics) AverageWaitTime() time.Duration {
	executed := s.Successful + s.Failed + s.Retried
	if executed == 0 {
		return 0
	}
	return s.TotalWaitTime / time.Duration(executed)
}

// counters 处理器内部计数，只在持有 Processor.mu 时修改
type counters struct {
	totalRequests int64
	successful    int64
	failed        int64
	retried       int64
	deduplicated  int64

	batchesProcessed    int64
	totalWaitTime       time.Duration
	totalExecutionTime  time.Duration
	totalProcessingTime time.Duration

	byPriority [numPriorities]int64

	lastSuccessRate float64
}

func newCounters() counters {
	return counters{lastSuccessRate: 1}
}

func (c *counters) snapshotInto(s *Statistics) {
	s.TotalRequests = c.totalRequests
	s.Successful = c.successful
	s.Failed = c.failed
	s.Retried = c.retried
	s.Deduplicated = c.deduplicated
	s.BatchesProcessed = c.batchesProcessed
	s.TotalWaitTime = c.totalWaitTime
	s.TotalExecutionTime = c.totalExecutionTime
	s.TotalProcessingTime = c.totalProcessingTime
	s.LastSuccessRate = c.lastSuccessRate
	s.ByPriority = make(map[string]int64, numPriorities)
	for _, p := range priorities {
		s.ByPriority[p.String()] = c.byPriority[p]
	}
}
