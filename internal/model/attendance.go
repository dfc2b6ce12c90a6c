package model

import "time"

// 考勤状态
const (
	StatusPresent = "PRESENT"
	StatusLate    = "LATE"
	StatusAbsent  = "ABSENT"
	StatusOnLeave = "ON_LEAVE"
	StatusUnknown = "UNKNOWN"
)

// 记录来源
const (
	SourceQR     = "QR"
	SourceManual = "MANUAL"
)

// AttendanceRecord 考勤记录表，对应 attendances
// 每个员工每天至多一条；记录只更新不删除
type AttendanceRecord struct {
	AttendanceID   int64      `gorm:"primaryKey;autoIncrement"                                             json:"attendance_id"`
	EmployeeID     int64      `gorm:"not null;uniqueIndex:uk_attendances_employee_date,priority:1"          json:"employee_id"`
	WorkDate       Date       `gorm:"type:date;not null;uniqueIndex:uk_attendances_employee_date,priority:2;index" json:"date"`
	CheckIn        *time.Time `json:"check_in,omitempty"`
	CheckOut       *time.Time `json:"check_out,omitempty"`
	Status         string     `gorm:"type:varchar(20);not null;default:'UNKNOWN'" json:"status"`
	Source         string     `gorm:"type:varchar(20);not null;default:'MANUAL'"  json:"source"`
	AutoCheckedOut bool       `gorm:"not null;default:false"                      json:"auto_checked_out"`
	NeedsReview    bool       `gorm:"not null;default:false"                      json:"needs_review"`
	Employee       *Employee  `gorm:"foreignKey:EmployeeID;references:EmployeeID" json:"employee,omitempty"`
	BaseModel
}

// TableName 指定表名
func (AttendanceRecord) TableName() string { return "attendances" }

// IsOpen 已签到但未签退
func (a *AttendanceRecord) IsOpen() bool {
	return a.CheckIn != nil && a.CheckOut == nil
}
