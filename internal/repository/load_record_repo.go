package repository

import (
	"context"
	"errors"
	"time"

	"github.com/apk-analysis/dexkit-bridge/internal/domain"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrRecordNotFound 记录不存在
var ErrRecordNotFound = errors.New("load record not found")

// LoadRecordRepository 构造历史仓库接口
type LoadRecordRepository interface {
	Create(ctx context.Context, rec *domain.LoadRecord) error
	FindByHandle(ctx context.Context, handle int64) (*domain.LoadRecord, error)
	MarkReleased(ctx context.Context, handle int64, at time.Time) error
	ListRecent(ctx context.Context, limit int) ([]*domain.LoadRecord, error)
	GetStatistics(ctx context.Context) (*LoadStatistics, error)
}

// LoadStatistics 构造统计
type LoadStatistics struct {
	Total         int64   `json:"total"`
	ImagesCount   int64   `json:"images_count"`
	PathCount     int64   `json:"path_count"`
	FailedCount   int64   `json:"failed_count"`
	ReleasedCount int64   `json:"released_count"`
	AvgDurationUs float64 `json:"avg_duration_us"`
	AvgImages     float64 `json:"avg_images"`
}

// loadRecordRepository 构造历史仓库实现
type loadRecordRepository struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewLoadRecordRepository 创建构造历史仓库
func NewLoadRecordRepository(db *gorm.DB, logger *logrus.Logger) LoadRecordRepository {
	return &loadRecordRepository{
		db:     db,
		logger: logger,
	}
}

// Create 创建记录，ID 为空时生成 UUID
func (r *loadRecordRepository) Create(ctx context.Context, rec *domain.LoadRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

// FindByHandle 返回该句柄最近一次的构造记录
func (r *loadRecordRepository) FindByHandle(ctx context.Context, handle int64) (*domain.LoadRecord, error) {
	var rec domain.LoadRecord
	err := r.db.WithContext(ctx).
		Where("handle = ?", handle).
		Order("created_at DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// MarkReleased 标记句柄已释放
func (r *loadRecordRepository) MarkReleased(ctx context.Context, handle int64, at time.Time) error {
	rec, err := r.FindByHandle(ctx, handle)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(rec).Update("released_at", at).Error
}

// ListRecent 按时间倒序列出
func (r *loadRecordRepository) ListRecent(ctx context.Context, limit int) ([]*domain.LoadRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []*domain.LoadRecord
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// GetStatistics 获取构造统计
func (r *loadRecordRepository) GetStatistics(ctx context.Context) (*LoadStatistics, error) {
	var stats LoadStatistics

	err := r.db.WithContext(ctx).Model(&domain.LoadRecord{}).
		Select(`
			COUNT(*) as total,
			COALESCE(SUM(CASE WHEN mode = 'images' THEN 1 ELSE 0 END), 0) as images_count,
			COALESCE(SUM(CASE WHEN mode = 'path' THEN 1 ELSE 0 END), 0) as path_count,
			COALESCE(SUM(CASE WHEN mode = 'failed' THEN 1 ELSE 0 END), 0) as failed_count,
			COALESCE(SUM(CASE WHEN released_at IS NOT NULL THEN 1 ELSE 0 END), 0) as released_count,
			COALESCE(AVG(duration_us), 0) as avg_duration_us,
			COALESCE(AVG(image_count), 0) as avg_images
		`).Scan(&stats).Error
	if err != nil {
		r.logger.WithError(err).Warn("Failed to get load statistics")
		return nil, err
	}
	return &stats, nil
}
