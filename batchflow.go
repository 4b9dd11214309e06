// Package batchflow provides a top-level convenience entry point for creating
// a batch manager with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/batchflow"
//
//	m := batchflow.New(batchflow.WithLogger(logger))
//	m, err := batchflow.FromConfig(cfg.Channels, batchflow.WithLogger(logger))
//	user, err := batchflow.Submit(ctx, m, "users", loadUser)
//
// This is a thin wrapper around [batch.NewManager]; both produce identical
// results. Use this package when you prefer the shorter import path.
package batchflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/BaSui01/batchflow/batch"
	"github.com/BaSui01/batchflow/config"
)

// Option configures the manager created by [New].
type Option = batch.Option

// New creates a [batch.Manager] with no channels.
func New(opts ...Option) *batch.Manager {
	return batch.NewManager(opts...)
}

// FromConfig creates a manager and initializes every channel from its YAML
// configuration. Channels are initialized in name order; on the first failure
// the manager is disposed and the error names the channel.
func FromConfig(channels map[string]config.ChannelConfig, opts ...Option) (*batch.Manager, error) {
	m := batch.NewManager(opts...)

	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := m.InitializeChannel(name, channels[name].ToBatchConfig()); err != nil {
			m.Dispose()
			return nil, fmt.Errorf("channel %q: %w", name, err)
		}
	}
	return m, nil
}

// Submit admits a typed operation and waits for its result.
// It is a shortcut for [batch.Submit].
func Submit[T any](ctx context.Context, m *batch.Manager, channel string, op func(ctx context.Context) (T, error), opts ...batch.AddOption) (T, error) {
	return batch.Submit(ctx, m, channel, op, opts...)
}

// Re-export manager options so callers never need to import batch/.

// WithLogger sets a custom zap logger.
var WithLogger = batch.WithLogger

// WithClock injects the clock used for timers and timestamps.
var WithClock = batch.WithClock

// WithEventSink sets the receiver of batch processed events.
var WithEventSink = batch.WithEventSink

// WithTracer sets the OpenTelemetry tracer for batch spans.
var WithTracer = batch.WithTracer

// WithPriority sets the scheduling priority of a single submission.
var WithPriority = batch.WithPriority

// WithDedupKey sets the deduplication key of a single submission.
var WithDedupKey = batch.WithDedupKey
