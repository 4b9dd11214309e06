package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/batchflow/batch"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeSource struct {
	mu      sync.Mutex
	reports []batch.HealthReport
	calls   int
}

func (s *fakeSource) set(reports ...batch.HealthReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = reports
}

func (s *fakeSource) PerformAllHealthChecks() []batch.HealthReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return append([]batch.HealthReport(nil), s.reports...)
}

func (s *fakeSource) GetAllStatistics() map[string]batch.Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]batch.Statistics, len(s.reports))
	for _, r := range s.reports {
		out[r.Channel] = batch.Statistics{Channel: r.Channel}
	}
	return out
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeObserver struct {
	mu        sync.Mutex
	stats     []string
	health    []string
	forgotten []string
}

func (o *fakeObserver) ObserveStatistics(s batch.Statistics) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stats = append(o.stats, s.Channel)
}

func (o *fakeObserver) ObserveHealth(r batch.HealthReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.health = append(o.health, r.Channel)
}

func (o *fakeObserver) ForgetChannel(channel string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.forgotten = append(o.forgotten, channel)
}

type fakeStore struct {
	mu      sync.Mutex
	saved   int
	prunes  []time.Time
	saveErr error
}

func (s *fakeStore) Save(_ context.Context, reports []batch.HealthReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved += len(reports)
	return nil
}

func (s *fakeStore) Recent(context.Context, string, int) ([]batch.HealthReport, error) {
	return nil, nil
}

func (s *fakeStore) Prune(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prunes = append(s.prunes, before)
	return 0, nil
}

func TestMonitor_CheckNow(t *testing.T) {
	src := &fakeSource{}
	now := time.Now()
	src.set(
		batch.HealthReport{Channel: "b", Status: batch.HealthStatusHealthy, CheckedAt: now},
		batch.HealthReport{Channel: "a", Status: batch.HealthStatusDegraded, CheckedAt: now},
	)
	obs := &fakeObserver{}
	store := &fakeStore{}

	m := New(src, Config{Interval: time.Second}, WithObserver(obs), WithStore(store), WithLogger(zaptest.NewLogger(t)))

	reports, err := m.CheckNow(context.Background())
	require.NoError(t, err)
	assert.Len(t, reports, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, obs.stats)
	assert.ElementsMatch(t, []string{"a", "b"}, obs.health)
	assert.Equal(t, 2, store.saved)

	last := m.Last()
	require.Len(t, last, 2)
	assert.Equal(t, "a", last[0].Channel)
	assert.Equal(t, batch.HealthStatusDegraded, last[0].Status)
}

func TestMonitor_ForgetsRemovedChannels(t *testing.T) {
	src := &fakeSource{}
	src.set(
		batch.HealthReport{Channel: "a", Status: batch.HealthStatusHealthy},
		batch.HealthReport{Channel: "b", Status: batch.HealthStatusHealthy},
	)
	obs := &fakeObserver{}
	m := New(src, Config{}, WithObserver(obs))

	_, err := m.CheckNow(context.Background())
	require.NoError(t, err)

	src.set(batch.HealthReport{Channel: "a", Status: batch.HealthStatusHealthy})
	_, err = m.CheckNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, obs.forgotten)
	require.Len(t, m.Last(), 1)
	assert.Equal(t, "a", m.Last()[0].Channel)
}

func TestMonitor_SaveErrorStillReturnsReports(t *testing.T) {
	src := &fakeSource{}
	src.set(batch.HealthReport{Channel: "a", Status: batch.HealthStatusHealthy})
	store := &fakeStore{saveErr: errors.New("disk full")}

	m := New(src, Config{}, WithStore(store))
	reports, err := m.CheckNow(context.Background())
	assert.Error(t, err)
	assert.Len(t, reports, 1)
	assert.Len(t, m.Last(), 1)
}

func TestMonitor_PruneAtMostHourly(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	src := &fakeSource{}
	src.set(batch.HealthReport{Channel: "a", Status: batch.HealthStatusHealthy})
	store := &fakeStore{}

	m := New(src, Config{Retention: 24 * time.Hour}, WithStore(store), WithClock(mock))

	ctx := context.Background()
	_, err := m.CheckNow(ctx)
	require.NoError(t, err)
	_, err = m.CheckNow(ctx)
	require.NoError(t, err)
	require.Len(t, store.prunes, 1)
	assert.Equal(t, mock.Now().Add(-24*time.Hour), store.prunes[0])

	mock.Add(pruneInterval)
	_, err = m.CheckNow(ctx)
	require.NoError(t, err)
	assert.Len(t, store.prunes, 2)
}

func TestMonitor_NoRetentionNoPrune(t *testing.T) {
	src := &fakeSource{}
	src.set(batch.HealthReport{Channel: "a"})
	store := &fakeStore{}

	m := New(src, Config{}, WithStore(store))
	_, err := m.CheckNow(context.Background())
	require.NoError(t, err)
	assert.Empty(t, store.prunes)
}

func TestMonitor_StartStop(t *testing.T) {
	mock := clock.NewMock()
	src := &fakeSource{}
	src.set(batch.HealthReport{Channel: "a", Status: batch.HealthStatusHealthy})

	m := New(src, Config{Interval: 10 * time.Second}, WithClock(mock), WithLogger(zap.NewNop()))
	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()))

	assert.Equal(t, 0, src.callCount())

	mock.Add(10 * time.Second)
	require.Eventually(t, func() bool { return src.callCount() >= 1 }, waitFor, tick)

	mock.Add(10 * time.Second)
	require.Eventually(t, func() bool { return src.callCount() >= 2 }, waitFor, tick)

	m.Stop()
	m.Stop()

	calls := src.callCount()
	mock.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, src.callCount())

	// 停止后可重新启动
	require.NoError(t, m.Start(context.Background()))
	m.Stop()
}

func TestMonitor_WithManager(t *testing.T) {
	mgr := batch.NewManager(batch.WithLogger(zap.NewNop()))
	t.Cleanup(mgr.Dispose)

	require.NoError(t, mgr.InitializeChannel("orders", batch.DefaultChannelConfig()))
	require.NoError(t, mgr.InitializeChannel("emails", batch.DefaultChannelConfig()))
	require.NoError(t, mgr.Stop("emails"))

	obs := &fakeObserver{}
	m := New(mgr, Config{}, WithObserver(obs))
	reports, err := m.CheckNow(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 2)

	byChannel := map[string]batch.HealthStatus{}
	for _, r := range m.Last() {
		byChannel[r.Channel] = r.Status
	}
	assert.Equal(t, batch.HealthStatusHealthy, byChannel["orders"])
	assert.Equal(t, batch.HealthStatusUnhealthy, byChannel["emails"])
}
