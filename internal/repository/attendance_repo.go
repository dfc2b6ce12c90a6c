package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xandra-X/humio/internal/model"
)

// AttendanceRepository 考勤记录数据访问接口
type AttendanceRepository interface {
	Create(ctx context.Context, rec *model.AttendanceRecord) error
	// CreateIfAbsent 唯一键 (employee_id, work_date) 已存在时不插入，返回是否插入
	CreateIfAbsent(ctx context.Context, rec *model.AttendanceRecord) (bool, error)

	GetByEmployeeAndDate(ctx context.Context, employeeID int64, date model.Date) (*model.AttendanceRecord, error)
	// LockByEmployeeAndDate 同 GetByEmployeeAndDate，但在事务内加行锁
	LockByEmployeeAndDate(ctx context.Context, employeeID int64, date model.Date) (*model.AttendanceRecord, error)
	LockByID(ctx context.Context, id int64) (*model.AttendanceRecord, error)
	// FindOpenBefore 该员工 work_date 早于 date 的最近一条已签到未签退记录
	FindOpenBefore(ctx context.Context, employeeID int64, date model.Date) (*model.AttendanceRecord, error)

	ListOpenForDate(ctx context.Context, date model.Date) ([]model.AttendanceRecord, error)
	// ListOpenBefore 列出 work_date 严格早于 date 的未签退记录
	ListOpenBefore(ctx context.Context, date model.Date) ([]model.AttendanceRecord, error)
	ListByEmployee(ctx context.Context, employeeID int64, limit int) ([]model.AttendanceRecord, error)
	ListByDateRange(ctx context.Context, from, to model.Date) ([]model.AttendanceRecord, error)

	UpdateCheckIn(ctx context.Context, id int64, checkIn time.Time, status, source string) error
	// CloseIfOpen 仅当记录仍处于已签到未签退时写入签退时间，返回是否写入
	CloseIfOpen(ctx context.Context, id int64, checkOut time.Time) (bool, error)
	MarkAutoCheckedOut(ctx context.Context, id int64) error
	MarkNeedsReview(ctx context.Context, id int64) error
	// MarkOnLeave 强制覆盖为请假：清空签到签退时间
	MarkOnLeave(ctx context.Context, employeeID int64, date model.Date) error
}

type attendanceRepo struct {
	db *gorm.DB
}

// NewAttendanceRepo 创建 AttendanceRepository 实例
func NewAttendanceRepo(db *gorm.DB) AttendanceRepository {
	return &attendanceRepo{db: db}
}

// ────────────────────── Create ──────────────────────

func (r *attendanceRepo) Create(ctx context.Context, rec *model.AttendanceRecord) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(rec).Error
}

func (r *attendanceRepo) CreateIfAbsent(ctx context.Context, rec *model.AttendanceRecord) (bool, error) {
	result := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "employee_id"}, {Name: "work_date"}},
			DoNothing: true,
		}).
		Create(rec)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ────────────────────── Query ──────────────────────

func (r *attendanceRepo) GetByEmployeeAndDate(ctx context.Context, employeeID int64, date model.Date) (*model.AttendanceRecord, error) {
	return r.take(r.db.WithContext(ctx).
		Where("employee_id = ? AND work_date = ?", employeeID, date))
}

func (r *attendanceRepo) LockByEmployeeAndDate(ctx context.Context, employeeID int64, date model.Date) (*model.AttendanceRecord, error) {
	return r.take(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("employee_id = ? AND work_date = ?", employeeID, date))
}

func (r *attendanceRepo) LockByID(ctx context.Context, id int64) (*model.AttendanceRecord, error) {
	return r.take(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("attendance_id = ?", id))
}

func (r *attendanceRepo) FindOpenBefore(ctx context.Context, employeeID int64, date model.Date) (*model.AttendanceRecord, error) {
	return r.take(openScope(r.db.WithContext(ctx)).
		Where("employee_id = ? AND work_date < ?", employeeID, date).
		Order("work_date DESC"))
}

func (r *attendanceRepo) ListOpenForDate(ctx context.Context, date model.Date) ([]model.AttendanceRecord, error) {
	var recs []model.AttendanceRecord
	err := openScope(r.db.WithContext(ctx)).
		Where("work_date = ?", date).
		Order("attendance_id ASC").
		Find(&recs).Error
	return recs, err
}

func (r *attendanceRepo) ListOpenBefore(ctx context.Context, date model.Date) ([]model.AttendanceRecord, error) {
	var recs []model.AttendanceRecord
	err := openScope(r.db.WithContext(ctx)).
		Where("work_date < ?", date).
		Order("work_date ASC, attendance_id ASC").
		Find(&recs).Error
	return recs, err
}

func (r *attendanceRepo) ListByEmployee(ctx context.Context, employeeID int64, limit int) ([]model.AttendanceRecord, error) {
	var recs []model.AttendanceRecord
	err := r.db.WithContext(ctx).
		Where("employee_id = ?", employeeID).
		Order("work_date DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

func (r *attendanceRepo) ListByDateRange(ctx context.Context, from, to model.Date) ([]model.AttendanceRecord, error) {
	var recs []model.AttendanceRecord
	err := r.db.WithContext(ctx).
		Preload("Employee").
		Where("work_date >= ? AND work_date <= ?", from, to).
		Order("work_date ASC, employee_id ASC").
		Find(&recs).Error
	return recs, err
}

// ────────────────────── Update ──────────────────────

func (r *attendanceRepo) UpdateCheckIn(ctx context.Context, id int64, checkIn time.Time, status, source string) error {
	return r.byID(ctx, id).Updates(map[string]interface{}{
		"check_in": checkIn,
		"status":   status,
		"source":   source,
	}).Error
}

func (r *attendanceRepo) CloseIfOpen(ctx context.Context, id int64, checkOut time.Time) (bool, error) {
	result := openScope(r.byID(ctx, id)).Update("check_out", checkOut)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *attendanceRepo) MarkAutoCheckedOut(ctx context.Context, id int64) error {
	return r.byID(ctx, id).Update("auto_checked_out", true).Error
}

func (r *attendanceRepo) MarkNeedsReview(ctx context.Context, id int64) error {
	return r.byID(ctx, id).Update("needs_review", true).Error
}

func (r *attendanceRepo) MarkOnLeave(ctx context.Context, employeeID int64, date model.Date) error {
	rec := &model.AttendanceRecord{
		EmployeeID: employeeID,
		WorkDate:   date,
		Status:     model.StatusOnLeave,
		Source:     model.SourceManual,
	}
	return r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "employee_id"}, {Name: "work_date"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"check_in":   nil,
				"check_out":  nil,
				"status":     model.StatusOnLeave,
				"source":     model.SourceManual,
				"updated_at": time.Now(),
			}),
		}).
		Create(rec).Error
}

// ── 内部辅助方法 ──

func (r *attendanceRepo) byID(ctx context.Context, id int64) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&model.AttendanceRecord{}).
		Where("attendance_id = ?", id)
}

func (r *attendanceRepo) take(q *gorm.DB) (*model.AttendanceRecord, error) {
	var rec model.AttendanceRecord
	if err := q.Take(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func openScope(q *gorm.DB) *gorm.DB {
	return q.Where("check_in IS NOT NULL AND check_out IS NULL")
}
