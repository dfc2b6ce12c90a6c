package model

import "time"

// ScanLogEntry 扫码日志表，对应 qr_scan_logs（只追加）
type ScanLogEntry struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"                                  json:"id"`
	DeviceUUID   string    `gorm:"type:varchar(255);not null;index:idx_scan_device_time,priority:1" json:"device_uuid"`
	QRWindow     int64     `gorm:"not null"                                                  json:"qr_window"`
	UserID       *int64    `gorm:"index:idx_scan_user_time,priority:1"                       json:"user_id,omitempty"`
	AttendanceID *int64    `json:"attendance_id,omitempty"`
	ScannedAt    time.Time `gorm:"not null;index:idx_scan_user_time,priority:2;index:idx_scan_device_time,priority:2" json:"scanned_at"`
}

// TableName 指定表名
func (ScanLogEntry) TableName() string { return "qr_scan_logs" }
