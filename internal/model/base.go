package model

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// DateLayout 业务日期格式
const DateLayout = "2006-01-02"

// ── 跨方言日期类型 ──

// Date 业务日期（YYYY-MM-DD），实现 GORM Scanner/Valuer 接口。
// 以字符串入库，使 MySQL / PostgreSQL / SQLite 上的等值与范围查询保持一致。
type Date string

// DateOf 取 t 在 loc 时区下的日历日期
func DateOf(t time.Time, loc *time.Location) Date {
	return Date(t.In(loc).Format(DateLayout))
}

// ParseDate 解析 YYYY-MM-DD
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("无效的日期 %q: %w", s, err)
	}
	return Date(t.Format(DateLayout)), nil
}

// At 返回该日期在 loc 时区下、距零点 offset 的时刻
func (d Date) At(offset time.Duration, loc *time.Location) time.Time {
	t, err := time.ParseInLocation(DateLayout, string(d), loc)
	if err != nil {
		return time.Time{}
	}
	return t.Add(offset)
}

// AddDays 日期加减天数
func (d Date) AddDays(n int) Date {
	t, err := time.Parse(DateLayout, string(d))
	if err != nil {
		return d
	}
	return Date(t.AddDate(0, 0, n).Format(DateLayout))
}

// Before 日期先后比较
func (d Date) Before(other Date) bool { return d < other }

func (d Date) String() string { return string(d) }

// Scan 兼容各驱动返回的 time.Time / 文本
func (d *Date) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = ""
	case time.Time:
		*d = Date(v.Format(DateLayout))
	case []byte:
		return d.scanText(string(v))
	case string:
		return d.scanText(v)
	default:
		return fmt.Errorf("Date.Scan: unsupported type %T", src)
	}
	return nil
}

func (d *Date) scanText(s string) error {
	if len(s) < len(DateLayout) {
		return fmt.Errorf("Date.Scan: invalid value %q", s)
	}
	*d = Date(s[:len(DateLayout)])
	return nil
}

// Value 序列化为 YYYY-MM-DD 文本
func (d Date) Value() (driver.Value, error) {
	if d == "" {
		return nil, nil
	}
	return string(d), nil
}

// BaseModel 通用审计字段
type BaseModel struct {
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// All 返回需要建表的全部模型（SQLite AutoMigrate 与集成测试使用）
func All() []interface{} {
	return []interface{}{
		&Department{},
		&Employee{},
		&AttendanceRecord{},
		&ScanLogEntry{},
	}
}
