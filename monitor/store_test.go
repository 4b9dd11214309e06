package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/batchflow/batch"
	"github.com/BaSui01/batchflow/config"
	"github.com/BaSui01/batchflow/internal/database"
)

type recordedQuery struct {
	database, operation string
}

type fakeRecorder struct {
	mu      sync.Mutex
	queries []recordedQuery
}

func (r *fakeRecorder) RecordDBQuery(db, op string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, recordedQuery{db, op})
}

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()

	cfg := config.DefaultDatabaseConfig()
	cfg.Driver = "sqlite"
	cfg.Name = filepath.Join(t.TempDir(), "health.db")

	db, err := database.Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	pool, err := database.NewPoolManager(db, database.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	store, err := NewGormStore(pool, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(context.Background()))
	return store
}

func report(channel string, status batch.HealthStatus, at time.Time) batch.HealthReport {
	return batch.HealthReport{
		Channel:   channel,
		Status:    status,
		Message:   "channel is " + string(status),
		Details:   map[string]any{"queue_depth": 3},
		CheckedAt: at,
	}
}

func TestGormStore_SaveAndRecent(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(ctx, []batch.HealthReport{
		report("search", batch.HealthStatusHealthy, base),
		report("index", batch.HealthStatusDegraded, base),
	}))
	require.NoError(t, store.Save(ctx, []batch.HealthReport{
		report("search", batch.HealthStatusUnhealthy, base.Add(time.Minute)),
	}))

	got, err := store.Recent(ctx, "search", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// 按时间倒序
	assert.Equal(t, batch.HealthStatusUnhealthy, got[0].Status)
	assert.Equal(t, batch.HealthStatusHealthy, got[1].Status)
	assert.True(t, got[0].CheckedAt.Equal(base.Add(time.Minute)))
	assert.EqualValues(t, 3, got[0].Details["queue_depth"])

	limited, err := store.Recent(ctx, "search", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := store.Recent(ctx, "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGormStore_SaveEmpty(t *testing.T) {
	store := newSQLiteStore(t)
	assert.NoError(t, store.Save(context.Background(), nil))
}

func TestGormStore_Prune(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var reports []batch.HealthReport
	for i := 0; i < 5; i++ {
		reports = append(reports, report("search", batch.HealthStatusHealthy, base.Add(time.Duration(i)*time.Hour)))
	}
	require.NoError(t, store.Save(ctx, reports))

	n, err := store.Prune(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := store.Recent(ctx, "search", 10)
	require.NoError(t, err)
	assert.Len(t, left, 3)
}

func TestGormStore_QueryRecorder(t *testing.T) {
	store := newSQLiteStore(t)
	rec := &fakeRecorder{}
	store.SetQueryRecorder(rec)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, []batch.HealthReport{report("a", batch.HealthStatusHealthy, time.Now())}))
	_, err := store.Recent(ctx, "a", 1)
	require.NoError(t, err)
	_, err = store.Prune(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	assert.Equal(t, []recordedQuery{
		{"sqlite", "insert"},
		{"sqlite", "select"},
		{"sqlite", "delete"},
	}, rec.queries)
}

func TestGormStore_PruneError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{})
	require.NoError(t, err)

	pool, err := database.NewPoolManager(gormDB, database.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)

	store, err := NewGormStore(pool, nil)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "health_reports"`).WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	_, err = store.Prune(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewGormStore_NilPool(t *testing.T) {
	_, err := NewGormStore(nil, nil)
	assert.Error(t, err)
}
