package service

import (
	"fmt"
	"time"

	"github.com/xandra-X/humio/config"
	"github.com/xandra-X/humio/internal/model"
)

// Policy 解析后的考勤策略，时刻均以距零点的时长表示
type Policy struct {
	Location        *time.Location
	WindowSeconds   int64
	SkewWindows     int64
	Cooldown        time.Duration
	ShiftStart      time.Duration
	AutoCheckout    time.Duration
	ArrivalStart    time.Duration
	ArrivalEnd      time.Duration
	StaleCloseAfter time.Duration
	LockTTL         time.Duration
	LockWait        time.Duration
}

// NewPolicy 由配置构建考勤策略
func NewPolicy(cfg *config.AttendanceConfig) (*Policy, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("加载考勤时区失败: %w", err)
	}

	p := &Policy{
		Location:        loc,
		WindowSeconds:   cfg.WindowSeconds,
		SkewWindows:     cfg.SkewWindows,
		Cooldown:        cfg.Cooldown,
		StaleCloseAfter: cfg.StaleCloseAfter,
		LockTTL:         cfg.LockTTL,
		LockWait:        cfg.LockWait,
	}

	clocks := []struct {
		raw string
		dst *time.Duration
	}{
		{cfg.ShiftStart, &p.ShiftStart},
		{cfg.AutoCheckoutTime, &p.AutoCheckout},
		{cfg.ArrivalWindowStart, &p.ArrivalStart},
		{cfg.ArrivalWindowEnd, &p.ArrivalEnd},
	}
	for _, c := range clocks {
		d, err := config.ParseClock(c.raw)
		if err != nil {
			return nil, err
		}
		*c.dst = d
	}

	if p.LockTTL <= 0 {
		p.LockTTL = 10 * time.Second
	}
	if p.LockWait <= 0 {
		p.LockWait = 3 * time.Second
	}
	return p, nil
}

// DefaultPolicy 默认策略：30 秒窗口、±1 偏差、180 秒冷却、09:00 上班、16:30 自动签退
func DefaultPolicy(loc *time.Location) *Policy {
	if loc == nil {
		loc = time.Local
	}
	return &Policy{
		Location:        loc,
		WindowSeconds:   30,
		SkewWindows:     1,
		Cooldown:        180 * time.Second,
		ShiftStart:      9 * time.Hour,
		AutoCheckout:    16*time.Hour + 30*time.Minute,
		ArrivalStart:    9 * time.Hour,
		ArrivalEnd:      9*time.Hour + 30*time.Minute,
		StaleCloseAfter: 8 * time.Hour,
		LockTTL:         10 * time.Second,
		LockWait:        3 * time.Second,
	}
}

// Today t 所在的业务日期
func (p *Policy) Today(t time.Time) model.Date {
	return model.DateOf(t, p.Location)
}

// TimeOfDay t 在考勤时区内距零点的时长
func (p *Policy) TimeOfDay(t time.Time) time.Duration {
	lt := t.In(p.Location)
	midnight := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, p.Location)
	return lt.Sub(midnight)
}

// IsLate 严格晚于上班时刻才算迟到
func (p *Policy) IsLate(checkIn time.Time) bool {
	return p.TimeOfDay(checkIn) > p.ShiftStart
}

// InArrivalWindow 签到时刻落在正常到岗区间（含两端）
func (p *Policy) InArrivalWindow(checkIn time.Time) bool {
	tod := p.TimeOfDay(checkIn)
	return tod >= p.ArrivalStart && tod <= p.ArrivalEnd
}
