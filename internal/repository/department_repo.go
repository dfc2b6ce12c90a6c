package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/xandra-X/humio/internal/model"
)

// DepartmentAttendance 部门单日出勤聚合行
type DepartmentAttendance struct {
	DepartmentID   int64
	Name           string
	TotalEmployees int64
	Present        int64
	Absent         int64
	Late           int64
}

// DepartmentRepository 部门数据访问接口
type DepartmentRepository interface {
	Create(ctx context.Context, dept *model.Department) error
	// AttendanceOverview 按部门统计 date 当天的出勤情况
	AttendanceOverview(ctx context.Context, date model.Date) ([]DepartmentAttendance, error)
}

type departmentRepo struct {
	db *gorm.DB
}

// NewDepartmentRepo 创建 DepartmentRepository 实例
func NewDepartmentRepo(db *gorm.DB) DepartmentRepository {
	return &departmentRepo{db: db}
}

func (r *departmentRepo) Create(ctx context.Context, dept *model.Department) error {
	return r.db.WithContext(ctx).Create(dept).Error
}

// 迟到计入出勤；没有记录的员工不计入缺勤，直到对账任务补齐 ABSENT
const overviewSQL = `
SELECT d.department_id AS department_id,
       d.name AS name,
       COUNT(DISTINCT e.employee_id) AS total_employees,
       COALESCE(SUM(CASE WHEN a.status IN ('PRESENT', 'LATE') THEN 1 ELSE 0 END), 0) AS present,
       COALESCE(SUM(CASE WHEN a.status = 'ABSENT' THEN 1 ELSE 0 END), 0) AS absent,
       COALESCE(SUM(CASE WHEN a.status = 'LATE' THEN 1 ELSE 0 END), 0) AS late
FROM departments d
LEFT JOIN employees e ON e.department_id = d.department_id
LEFT JOIN attendances a ON a.employee_id = e.employee_id AND a.work_date = ?
GROUP BY d.department_id, d.name
ORDER BY d.name ASC`

func (r *departmentRepo) AttendanceOverview(ctx context.Context, date model.Date) ([]DepartmentAttendance, error) {
	var rows []DepartmentAttendance
	err := r.db.WithContext(ctx).Raw(overviewSQL, date).Scan(&rows).Error
	return rows, err
}
