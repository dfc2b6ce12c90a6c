package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/xandra-X/humio/internal/model"
)

// EmployeeRepository 员工目录数据访问接口
type EmployeeRepository interface {
	Create(ctx context.Context, emp *model.Employee) error
	// FindIDByUserID 找不到时返回 gorm.ErrRecordNotFound
	FindIDByUserID(ctx context.Context, userID int64) (int64, error)
	// ListIDsWithoutAttendance 列出在 date 当天没有任何考勤记录的员工
	ListIDsWithoutAttendance(ctx context.Context, date model.Date) ([]int64, error)
}

type employeeRepo struct {
	db *gorm.DB
}

// NewEmployeeRepo 创建 EmployeeRepository 实例
func NewEmployeeRepo(db *gorm.DB) EmployeeRepository {
	return &employeeRepo{db: db}
}

func (r *employeeRepo) Create(ctx context.Context, emp *model.Employee) error {
	return r.db.WithContext(ctx).Create(emp).Error
}

func (r *employeeRepo) FindIDByUserID(ctx context.Context, userID int64) (int64, error) {
	var emp model.Employee
	err := r.db.WithContext(ctx).
		Select("employee_id").
		Where("user_id = ?", userID).
		Take(&emp).Error
	if err != nil {
		return 0, err
	}
	return emp.EmployeeID, nil
}

func (r *employeeRepo) ListIDsWithoutAttendance(ctx context.Context, date model.Date) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.Employee{}).
		Where("NOT EXISTS (SELECT 1 FROM attendances a WHERE a.employee_id = employees.employee_id AND a.work_date = ?)", date).
		Order("employee_id ASC").
		Pluck("employee_id", &ids).Error
	return ids, err
}
