package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/xandra-X/humio/internal/model"
)

// ScanLogRepository 扫码日志数据访问接口（只追加）
type ScanLogRepository interface {
	Create(ctx context.Context, entry *model.ScanLogEntry) error
	// LastForUser 找不到时返回 gorm.ErrRecordNotFound
	LastForUser(ctx context.Context, userID int64) (*model.ScanLogEntry, error)
	LastForDevice(ctx context.Context, deviceUUID string) (*model.ScanLogEntry, error)
}

type scanLogRepo struct {
	db *gorm.DB
}

// NewScanLogRepo 创建 ScanLogRepository 实例
func NewScanLogRepo(db *gorm.DB) ScanLogRepository {
	return &scanLogRepo{db: db}
}

func (r *scanLogRepo) Create(ctx context.Context, entry *model.ScanLogEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *scanLogRepo) LastForUser(ctx context.Context, userID int64) (*model.ScanLogEntry, error) {
	return r.last(ctx, "user_id = ?", userID)
}

func (r *scanLogRepo) LastForDevice(ctx context.Context, deviceUUID string) (*model.ScanLogEntry, error) {
	return r.last(ctx, "device_uuid = ?", deviceUUID)
}

func (r *scanLogRepo) last(ctx context.Context, cond string, arg interface{}) (*model.ScanLogEntry, error) {
	var entry model.ScanLogEntry
	err := r.db.WithContext(ctx).
		Where(cond, arg).
		Order("scanned_at DESC, id DESC").
		Take(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
