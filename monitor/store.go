package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/batchflow/batch"
	"github.com/BaSui01/batchflow/internal/database"
)

// =============================================================================
// 🗄️ 健康报告存储
// =============================================================================

// Store 健康报告的持久化接口
type Store interface {
	// Save 在一个事务中保存一轮检查产生的全部报告
	Save(ctx context.Context, reports []batch.HealthReport) error
	// Recent 返回通道最近的报告，按检查时间倒序
	Recent(ctx context.Context, channel string, limit int) ([]batch.HealthReport, error)
	// Prune 删除 before 之前的报告，返回删除条数
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// QueryRecorder 记录数据库操作耗时，由 metrics.Collector 实现
type QueryRecorder interface {
	RecordDBQuery(database, operation string, duration time.Duration)
}

// HealthRecord health_reports 表的一行
type HealthRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Channel   string    `gorm:"size:255;not null;index:idx_health_reports_channel_checked,priority:1"`
	Status    string    `gorm:"size:16;not null"`
	Message   string    `gorm:"size:512"`
	Details   string    `gorm:"type:text"`
	CheckedAt time.Time `gorm:"not null;index:idx_health_reports_channel_checked,priority:2;index:idx_health_reports_checked"`
}

// TableName 与迁移文件中的表名一致
func (HealthRecord) TableName() string {
	return "health_reports"
}

func newRecord(r batch.HealthReport) (HealthRecord, error) {
	details := "{}"
	if len(r.Details) > 0 {
		raw, err := json.Marshal(r.Details)
		if err != nil {
			return HealthRecord{}, fmt.Errorf("marshal details for %s: %w", r.Channel, err)
		}
		details = string(raw)
	}
	return HealthRecord{
		Channel:   r.Channel,
		Status:    string(r.Status),
		Message:   r.Message,
		Details:   details,
		CheckedAt: r.CheckedAt.UTC(),
	}, nil
}

func (rec HealthRecord) report() batch.HealthReport {
	out := batch.HealthReport{
		Channel:   rec.Channel,
		Status:    batch.HealthStatus(rec.Status),
		Message:   rec.Message,
		CheckedAt: rec.CheckedAt,
	}
	if rec.Details != "" {
		// 历史数据损坏时保留其余字段
		_ = json.Unmarshal([]byte(rec.Details), &out.Details)
	}
	return out
}

// GormStore 基于 GORM 的报告存储，写入走连接池的事务重试
type GormStore struct {
	pool     *database.PoolManager
	logger   *zap.Logger
	recorder QueryRecorder
	dbName   string
}

// NewGormStore 创建存储
func NewGormStore(pool *database.PoolManager, logger *zap.Logger) (*GormStore, error) {
	if pool == nil {
		return nil, errors.New("pool cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{
		pool:   pool,
		logger: logger.With(zap.String("component", "health_store")),
		dbName: pool.DB().Dialector.Name(),
	}, nil
}

// SetQueryRecorder 设置数据库耗时记录器
func (s *GormStore) SetQueryRecorder(r QueryRecorder) {
	s.recorder = r
}

// AutoMigrate 按模型建表，仅用于 sqlite 与测试；生产库使用 migrate 子命令
func (s *GormStore) AutoMigrate(ctx context.Context) error {
	return s.pool.DB().WithContext(ctx).AutoMigrate(&HealthRecord{})
}

func (s *GormStore) observe(op string, start time.Time) {
	if s.recorder != nil {
		s.recorder.RecordDBQuery(s.dbName, op, time.Since(start))
	}
}

// Save 实现 Store.Save
func (s *GormStore) Save(ctx context.Context, reports []batch.HealthReport) error {
	if len(reports) == 0 {
		return nil
	}
	defer s.observe("insert", time.Now())

	records := make([]HealthRecord, 0, len(reports))
	for _, r := range reports {
		rec, err := newRecord(r)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	err := s.pool.WithTransactionRetry(ctx, 2, func(tx *gorm.DB) error {
		return tx.CreateInBatches(&records, 100).Error
	})
	if err != nil {
		return fmt.Errorf("save health reports: %w", err)
	}
	return nil
}

// Recent 实现 Store.Recent
func (s *GormStore) Recent(ctx context.Context, channel string, limit int) ([]batch.HealthReport, error) {
	if limit <= 0 {
		limit = 50
	}
	defer s.observe("select", time.Now())

	var records []HealthRecord
	err := s.pool.DB().WithContext(ctx).
		Where("channel = ?", channel).
		Order("checked_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("query health reports: %w", err)
	}

	out := make([]batch.HealthReport, len(records))
	for i, rec := range records {
		out[i] = rec.report()
	}
	return out, nil
}

// Prune 实现 Store.Prune
func (s *GormStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	defer s.observe("delete", time.Now())

	res := s.pool.DB().WithContext(ctx).
		Where("checked_at < ?", before.UTC()).
		Delete(&HealthRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune health reports: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Debug("pruned health reports",
			zap.Int64("rows", res.RowsAffected),
			zap.Time("before", before),
		)
	}
	return res.RowsAffected, nil
}
