package batch

import (
	"context"
	"errors"
	"time"
)

// BatchProcessedEvent 一批执行完成后发布的事件
type BatchProcessedEvent struct {
	Channel         string    `json:"channel"`
	BatchSize       int       `json:"batch_size"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	SuccessRate     float64   `json:"success_rate"`
	Throughput      float64   `json:"throughput"`
	NextBatchSize   int       `json:"next_batch_size"`
	Timestamp       time.Time `json:"timestamp"`
}

// EventSink 批处理事件的外部接收方
type EventSink interface {
	Publish(ctx context.Context, event BatchProcessedEvent) error
}

// NopSink 丢弃所有事件
type NopSink struct{}

// Publish 实现 EventSink
func (NopSink) Publish(context.Context, BatchProcessedEvent) error { return nil }

// MultiSink 依次发布到多个接收方，汇总所有错误
type MultiSink []EventSink

// Publish 实现 EventSink
func (m MultiSink) Publish(ctx context.Context, event BatchProcessedEvent) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SinkFunc 函数适配器
type SinkFunc func(ctx context.Context, event BatchProcessedEvent) error

// Publish 实现 EventSink
func (f SinkFunc) Publish(ctx context.Context, event BatchProcessedEvent) error {
	return f(ctx, event)
}
