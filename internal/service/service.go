package service

import (
	"go.uber.org/zap"

	"github.com/xandra-X/humio/config"
	"github.com/xandra-X/humio/internal/repository"
	"github.com/xandra-X/humio/pkg/redis"
)

// Service 所有 Service 的聚合入口
type Service struct {
	Attendance AttendanceService
	Sweeper    SweeperService
	Report     ReportService
}

// NewService 创建 Service 聚合
// rdb 为 nil 时扫码锁退化为进程内实现，仅适用于单实例部署
func NewService(
	cfg *config.Config,
	repo *repository.Repository,
	rdb *redis.Client,
	logger *zap.Logger,
) (*Service, error) {
	policy, err := NewPolicy(&cfg.Attendance)
	if err != nil {
		return nil, err
	}

	var locker KeyLocker
	if rdb != nil {
		locker = NewRedisLocker(rdb, policy.LockTTL, policy.LockWait)
	} else {
		logger.Warn("未启用 Redis，扫码锁使用进程内实现")
		locker = NewLocalLocker()
	}

	directory := NewEmployeeDirectory(repo.Employee, cfg.Cache.EmployeeSize, cfg.Cache.EmployeeTTL)

	return &Service{
		Attendance: NewAttendanceService(repo, directory, policy, locker, nil, logger),
		Sweeper: NewSweeperService(repo, policy, locker, SweeperOptions{
			Interval:    cfg.Sweeper.Interval,
			RunOnStart:  cfg.Sweeper.RunOnStart,
			Concurrency: cfg.Sweeper.Concurrency,
		}, nil, logger),
		Report: NewReportService(repo, policy, nil, logger),
	}, nil
}
