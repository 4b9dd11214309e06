package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/BaSui01/batchflow/batch"
)

// BatchMetrics records batch processed events as OTel instruments.
// It implements batch.EventSink so it can be combined with other sinks
// through batch.MultiSink.
type BatchMetrics struct {
	batches   metric.Int64Counter
	requests  metric.Int64Counter
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	nextSize  metric.Int64Gauge
}

// NewBatchMetrics creates the instruments on the given meter.
func NewBatchMetrics(meter metric.Meter) (*BatchMetrics, error) {
	m := &BatchMetrics{}
	var err error

	if m.batches, err = meter.Int64Counter("batchflow.batches",
		metric.WithDescription("Executed batches"),
		metric.WithUnit("{batch}"),
	); err != nil {
		return nil, fmt.Errorf("create batches counter: %w", err)
	}
	if m.requests, err = meter.Int64Counter("batchflow.requests",
		metric.WithDescription("Requests executed in batches, by outcome"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("create requests counter: %w", err)
	}
	if m.duration, err = meter.Float64Histogram("batchflow.batch.duration",
		metric.WithDescription("Batch execution duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	if m.batchSize, err = meter.Int64Histogram("batchflow.batch.size",
		metric.WithDescription("Requests per batch"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("create size histogram: %w", err)
	}
	if m.nextSize, err = meter.Int64Gauge("batchflow.batch.target_size",
		metric.WithDescription("Adaptive batch size after the batch"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("create target size gauge: %w", err)
	}
	return m, nil
}

// Publish implements batch.EventSink.
func (m *BatchMetrics) Publish(ctx context.Context, event batch.BatchProcessedEvent) error {
	channel := attribute.String("batch.channel", event.Channel)
	attrs := metric.WithAttributes(channel)

	// SuccessRate is succeeded/size, round back to a count
	succeeded := int64(event.SuccessRate*float64(event.BatchSize) + 0.5)

	m.batches.Add(ctx, 1, attrs)
	m.requests.Add(ctx, succeeded, metric.WithAttributes(channel, attribute.String("outcome", "success")))
	m.requests.Add(ctx, int64(event.BatchSize)-succeeded, metric.WithAttributes(channel, attribute.String("outcome", "failure")))
	m.duration.Record(ctx, float64(event.ExecutionTimeMs)/1000, attrs)
	m.batchSize.Record(ctx, int64(event.BatchSize), attrs)
	m.nextSize.Record(ctx, int64(event.NextBatchSize), attrs)
	return nil
}
