package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/xandra-X/humio/internal/dto"
	"github.com/xandra-X/humio/internal/model"
	"github.com/xandra-X/humio/internal/repository"
)

// SweeperService 考勤对账任务
// 每次运行：16:30 后自动签退正常到岗者、补记缺勤；始终关闭两天前仍未签退的记录
type SweeperService interface {
	RunOnce(ctx context.Context) (*dto.SweepResult, error)
	// Start 以固定间隔（上一轮结束后开始计时）在后台运行
	Start(ctx context.Context)
	// Stop 停止调度并等待进行中的一轮结束
	Stop()
}

// SweeperOptions 调度参数
type SweeperOptions struct {
	Interval    time.Duration
	RunOnStart  bool
	Concurrency int
}

type sweeperService struct {
	repo   *repository.Repository
	policy *Policy
	locker KeyLocker
	opts   SweeperOptions
	now    func() time.Time
	logger *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeperService 创建 SweeperService 实例；now 为 nil 时使用 time.Now
func NewSweeperService(
	repo *repository.Repository,
	policy *Policy,
	locker KeyLocker,
	opts SweeperOptions,
	now func() time.Time,
	logger *zap.Logger,
) SweeperService {
	if now == nil {
		now = time.Now
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	return &sweeperService{
		repo:   repo,
		policy: policy,
		locker: locker,
		opts:   opts,
		now:    now,
		logger: logger.Named("sweeper"),
	}
}

// ═══════════════════════════════════════════════════════════
// 调度
// ═══════════════════════════════════════════════════════════

func (s *sweeperService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("考勤对账任务已启动",
			zap.Duration("interval", s.opts.Interval),
			zap.Bool("run_on_start", s.opts.RunOnStart),
		)

		delay := s.opts.Interval
		if s.opts.RunOnStart {
			delay = 0
		}
		timer := time.NewTimer(delay)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("考勤对账任务已停止")
				return
			case <-timer.C:
				// 进行中的一轮不随停止信号中断，由 Stop 等待其结束
				s.runSafely(context.WithoutCancel(ctx))
				timer.Reset(s.opts.Interval)
			}
		}
	}()
}

func (s *sweeperService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// runSafely 单轮失败或 panic 只影响本轮
func (s *sweeperService) runSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			sweepRunsTotal.WithLabelValues("panic").Inc()
			s.logger.Error("考勤对账任务 panic", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("考勤对账任务失败", zap.Error(err))
	}
}

// ═══════════════════════════════════════════════════════════
// RunOnce：单轮对账
// ═══════════════════════════════════════════════════════════

func (s *sweeperService) RunOnce(ctx context.Context) (*dto.SweepResult, error) {
	start := time.Now()
	now := s.now()
	today := s.policy.Today(now)
	afterCutoff := s.policy.TimeOfDay(now) >= s.policy.AutoCheckout

	result := &dto.SweepResult{
		StartedAt:        now.In(s.policy.Location).Format(time.RFC3339),
		FlaggedForReview: []int64{},
	}

	var errs []error
	if afterCutoff {
		if err := s.autoCheckout(ctx, today, result); err != nil {
			errs = append(errs, fmt.Errorf("自动签退: %w", err))
		}
		if err := s.markAbsent(ctx, today, result); err != nil {
			errs = append(errs, fmt.Errorf("补记缺勤: %w", err))
		}
	}
	if err := s.closeStale(ctx, today, result); err != nil {
		errs = append(errs, fmt.Errorf("关闭过期记录: %w", err))
	}

	elapsed := time.Since(start)
	result.DurationMs = elapsed.Milliseconds()
	sweepDuration.Observe(elapsed.Seconds())

	err := errors.Join(errs...)
	if err != nil {
		sweepRunsTotal.WithLabelValues("error").Inc()
	} else {
		sweepRunsTotal.WithLabelValues("ok").Inc()
	}

	s.logger.Info("考勤对账完成",
		zap.String("date", today.String()),
		zap.Bool("after_cutoff", afterCutoff),
		zap.Int("auto_checked_out", result.AutoCheckedOut),
		zap.Int("flagged_for_review", len(result.FlaggedForReview)),
		zap.Int("marked_absent", result.MarkedAbsent),
		zap.Int("stale_closed", result.StaleClosed),
		zap.Int("failed", result.Failed),
		zap.Duration("elapsed", elapsed),
	)
	return result, err
}

// ── 步骤 1：自动签退 ──

func (s *sweeperService) autoCheckout(ctx context.Context, today model.Date, result *dto.SweepResult) error {
	opens, err := s.repo.Attendance.ListOpenForDate(ctx, today)
	if err != nil {
		return err
	}

	closeAt := today.At(s.policy.AutoCheckout, s.policy.Location)
	var (
		mu      sync.Mutex
		closed  int
		flagged []int64
	)

	failed := s.forEach(ctx, opens, func(rec model.AttendanceRecord) error {
		return s.withRowLock(ctx, rec, func(tx *repository.Repository, cur *model.AttendanceRecord) error {
			if !cur.IsOpen() {
				return nil
			}

			if !s.policy.InArrivalWindow(*cur.CheckIn) {
				// 非正常到岗时段的签到不自动签退，留待人工复核
				if !cur.NeedsReview {
					if err := tx.Attendance.MarkNeedsReview(ctx, cur.AttendanceID); err != nil {
						return err
					}
					s.logger.Warn("未签退记录签到时间不在到岗区间，已标记复核",
						zap.Int64("attendance_id", cur.AttendanceID),
						zap.Int64("employee_id", cur.EmployeeID),
						zap.Time("check_in", *cur.CheckIn),
					)
				}
				sweepRowsTotal.WithLabelValues(stepFlagged).Inc()
				mu.Lock()
				flagged = append(flagged, cur.AttendanceID)
				mu.Unlock()
				return nil
			}

			ok, err := tx.Attendance.CloseIfOpen(ctx, cur.AttendanceID, closeAt)
			if err != nil || !ok {
				return err
			}
			if err := tx.Attendance.MarkAutoCheckedOut(ctx, cur.AttendanceID); err != nil {
				return err
			}
			sweepRowsTotal.WithLabelValues(stepAutoCheckout).Inc()
			mu.Lock()
			closed++
			mu.Unlock()
			return nil
		})
	})

	result.AutoCheckedOut += closed
	result.FlaggedForReview = append(result.FlaggedForReview, flagged...)
	result.Failed += failed
	return nil
}

// ── 步骤 2：补记缺勤 ──

func (s *sweeperService) markAbsent(ctx context.Context, today model.Date, result *dto.SweepResult) error {
	ids, err := s.repo.Employee.ListIDsWithoutAttendance(ctx, today)
	if err != nil {
		return err
	}

	var inserted atomic.Int64
	failed := s.forEachID(ctx, ids, func(employeeID int64) error {
		unlock, err := s.locker.Lock(ctx, dayLockKey(employeeID, today.String()))
		if err != nil {
			return err
		}
		defer unlock()

		ok, err := s.repo.Attendance.CreateIfAbsent(ctx, &model.AttendanceRecord{
			EmployeeID: employeeID,
			WorkDate:   today,
			Status:     model.StatusAbsent,
			Source:     model.SourceManual,
		})
		if err != nil {
			s.logger.Error("补记缺勤失败", zap.Int64("employee_id", employeeID), zap.Error(err))
			return err
		}
		if ok {
			sweepRowsTotal.WithLabelValues(stepAbsent).Inc()
			inserted.Add(1)
		}
		return nil
	})

	result.MarkedAbsent += int(inserted.Load())
	result.Failed += failed
	return nil
}

// ── 步骤 3：关闭过期未签退记录 ──

func (s *sweeperService) closeStale(ctx context.Context, today model.Date, result *dto.SweepResult) error {
	// 只处理至少两天前的记录；昨天的记录留给员工下次扫码或次日对账
	opens, err := s.repo.Attendance.ListOpenBefore(ctx, today.AddDays(-1))
	if err != nil {
		return err
	}

	var closed atomic.Int64
	failed := s.forEach(ctx, opens, func(rec model.AttendanceRecord) error {
		return s.withRowLock(ctx, rec, func(tx *repository.Repository, cur *model.AttendanceRecord) error {
			if !cur.IsOpen() {
				return nil
			}
			ok, err := tx.Attendance.CloseIfOpen(ctx, cur.AttendanceID, cur.CheckIn.Add(s.policy.StaleCloseAfter))
			if err != nil {
				return err
			}
			if ok {
				sweepRowsTotal.WithLabelValues(stepStaleClose).Inc()
				closed.Add(1)
			}
			return nil
		})
	})

	result.StaleClosed += int(closed.Load())
	result.Failed += failed
	return nil
}

// ── 内部辅助方法 ──

// withRowLock 在员工当日锁与事务行锁下重新读取记录后执行 fn
func (s *sweeperService) withRowLock(ctx context.Context, rec model.AttendanceRecord, fn func(tx *repository.Repository, cur *model.AttendanceRecord) error) error {
	unlock, err := s.locker.Lock(ctx, dayLockKey(rec.EmployeeID, rec.WorkDate.String()))
	if err != nil {
		return err
	}
	defer unlock()

	return s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		cur, err := tx.Attendance.LockByID(ctx, rec.AttendanceID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		return fn(tx, cur)
	})
}

// forEach 以有限并发处理记录，返回失败条数；单条失败不影响其余记录
func (s *sweeperService) forEach(ctx context.Context, recs []model.AttendanceRecord, fn func(model.AttendanceRecord) error) int {
	ids := make([]int64, len(recs))
	byID := make(map[int64]model.AttendanceRecord, len(recs))
	for i, r := range recs {
		ids[i] = r.AttendanceID
		byID[r.AttendanceID] = r
	}
	return s.forEachID(ctx, ids, func(id int64) error {
		if err := fn(byID[id]); err != nil {
			s.logger.Error("对账处理考勤记录失败", zap.Int64("attendance_id", id), zap.Error(err))
			return err
		}
		return nil
	})
}

func (s *sweeperService) forEachID(_ context.Context, ids []int64, fn func(int64) error) int {
	sem := make(chan struct{}, s.opts.Concurrency)
	var (
		wg     sync.WaitGroup
		failed atomic.Int64
	)

	for _, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(id int64) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("对账处理 panic", zap.Int64("id", id), zap.Any("panic", r))
					sweepRowsTotal.WithLabelValues(stepFailed).Inc()
					failed.Add(1)
				}
			}()
			if err := fn(id); err != nil {
				sweepRowsTotal.WithLabelValues(stepFailed).Inc()
				failed.Add(1)
			}
		}(id)
	}
	wg.Wait()
	return int(failed.Load())
}
