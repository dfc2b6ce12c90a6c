package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repository 所有 Repository 的聚合入口
type Repository struct {
	Employee   EmployeeRepository
	Department DepartmentRepository
	Attendance AttendanceRepository
	ScanLog    ScanLogRepository

	db *gorm.DB
}

// NewRepository 创建 Repository 聚合
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		Employee:   NewEmployeeRepo(db),
		Department: NewDepartmentRepo(db),
		Attendance: NewAttendanceRepo(db),
		ScanLog:    NewScanLogRepo(db),
		db:         db,
	}
}

// Transaction 在同一事务内执行 fn，fn 收到绑定事务的 Repository
// 未绑定数据库（单元测试直接组装的聚合）时直接以自身执行
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	if r.db == nil {
		return fn(r)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepository(tx))
	})
}
