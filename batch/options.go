package batch

import (
	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/BaSui01/batchflow/batch"

// Option Manager 与 Processor 共用的可选项
type Option func(*options)

type options struct {
	logger *zap.Logger
	clock  clock.Clock
	sink   EventSink
	tracer trace.Tracer
}

func newOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	if o.sink == nil {
		o.sink = NopSink{}
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock 注入时钟，测试中可使用 clock.NewMock()
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithEventSink 设置批处理事件接收方
func WithEventSink(sink EventSink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// WithTracer 设置 OpenTelemetry tracer
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}
