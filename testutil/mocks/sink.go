// RecordingSink 记录批处理事件的 EventSink 实现。
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/batchflow/batch"
)

// RecordingSink 按发布顺序记录事件
type RecordingSink struct {
	mu     sync.Mutex
	events []batch.BatchProcessedEvent
	err    error
	ch     chan batch.BatchProcessedEvent
}

// NewRecordingSink 创建记录器
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{ch: make(chan batch.BatchProcessedEvent, 256)}
}

// WithError 让 Publish 返回 err（事件仍被记录）
func (s *RecordingSink) WithError(err error) *RecordingSink {
	s.err = err
	return s
}

// Publish 实现 batch.EventSink
func (s *RecordingSink) Publish(_ context.Context, event batch.BatchProcessedEvent) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()

	select {
	case s.ch <- event:
	default:
	}
	return s.err
}

// Events 已记录的事件副本
func (s *RecordingSink) Events() []batch.BatchProcessedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]batch.BatchProcessedEvent, len(s.events))
	copy(out, s.events)
	return out
}

// BatchSizes 每个事件的批大小
func (s *RecordingSink) BatchSizes() []int {
	events := s.Events()
	sizes := make([]int, len(events))
	for i, e := range events {
		sizes[i] = e.BatchSize
	}
	return sizes
}

// C 事件通道
func (s *RecordingSink) C() <-chan batch.BatchProcessedEvent {
	return s.ch
}
