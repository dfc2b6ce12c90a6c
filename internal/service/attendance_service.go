package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/xandra-X/humio/internal/dto"
	"github.com/xandra-X/humio/internal/model"
	"github.com/xandra-X/humio/internal/qrwindow"
	"github.com/xandra-X/humio/internal/repository"
)

// 打卡动作
const (
	ActionCheckIn  = "CHECK_IN"
	ActionCheckOut = "CHECK_OUT"
)

// 客户端显示的时间格式
const clockLayout = "03:04 PM"

// 历史记录分页
const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// ── 考勤模块业务错误 ──

var (
	ErrEmployeeNotFound  = errors.New("employee not found")
	ErrBlockedOnLeave    = errors.New("blocked on leave")
	ErrUnknownAction     = errors.New("unknown action")
	ErrQRInvalid         = errors.New("qr validation failed")
	ErrCooldownActive    = errors.New("cooldown active")
	ErrAlreadyCheckedIn  = errors.New("already checked in")
	ErrNoOpenCheckIn     = errors.New("no open check-in")
	ErrAlreadyCheckedOut = errors.New("already checked out")
	ErrInvalidDate       = errors.New("日期格式无效")
	ErrInvalidDeviceID   = errors.New("设备 ID 不能为空且不能包含 |")
)

// CheckError 打卡被拒绝的业务结果
// Message 为返回给客户端的文本；errors.Is 可匹配上面的哨兵错误
type CheckError struct {
	Kind       error
	Message    string
	RetryAfter time.Duration
	cause      error
}

func (e *CheckError) Error() string { return e.Message }

func (e *CheckError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.Kind, e.cause}
	}
	return []error{e.Kind}
}

func rejectf(kind error, format string, args ...interface{}) *CheckError {
	return &CheckError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsBusinessError 是否为预期内的业务拒绝（其余错误视为内部错误）
func IsBusinessError(err error) bool {
	var ce *CheckError
	return errors.As(err, &ce)
}

// AttendanceService 考勤打卡业务接口
type AttendanceService interface {
	// Check 扫码签到 / 签退；业务拒绝以 *CheckError 返回
	Check(ctx context.Context, userID int64, req *dto.CheckRequest) (*dto.CheckResponse, error)
	Today(ctx context.Context, userID int64) (*dto.TodayResponse, error)
	History(ctx context.Context, userID int64, limit int) ([]dto.HistoryItem, error)
	MarkOnLeave(ctx context.Context, req *dto.MarkLeaveRequest) error
	DisplayToken(ctx context.Context, deviceID string) (*dto.DisplayTokenResponse, error)
}

type attendanceService struct {
	repo      *repository.Repository
	directory *EmployeeDirectory
	policy    *Policy
	window    *qrwindow.Window
	locker    KeyLocker
	now       func() time.Time
	logger    *zap.Logger
}

// NewAttendanceService 创建 AttendanceService 实例；now 为 nil 时使用 time.Now
func NewAttendanceService(
	repo *repository.Repository,
	directory *EmployeeDirectory,
	policy *Policy,
	locker KeyLocker,
	now func() time.Time,
	logger *zap.Logger,
) AttendanceService {
	if now == nil {
		now = time.Now
	}
	s := &attendanceService{
		repo:      repo,
		directory: directory,
		policy:    policy,
		window:    qrwindow.New(policy.WindowSeconds, policy.SkewWindows, now),
		locker:    locker,
		now:       now,
		logger:    logger.Named("attendance"),
	}
	s.logger.Debug("考勤服务初始化",
		zap.Stringer("qr", s.window),
		zap.Duration("cooldown", policy.Cooldown),
		zap.String("timezone", policy.Location.String()),
	)
	return s
}

// ═══════════════════════════════════════════════════════════
// Check：扫码签到 / 签退
// ═══════════════════════════════════════════════════════════
//
// 步骤依次短路：
//  1. 用户 → 员工
//  2. 今日请假拦截
//  3. 动作校验
//  4. 二维码窗口校验
//  5. 扫码冷却（用户锁内）
//  6. 关闭往日未签退记录
//  7. 写入签到 / 签退（员工当日锁 + 事务行锁）
//  8. 写扫码日志，失败只告警

func (s *attendanceService) Check(ctx context.Context, userID int64, req *dto.CheckRequest) (*dto.CheckResponse, error) {
	action := strings.ToUpper(strings.TrimSpace(req.Action))

	resp, err := s.check(ctx, userID, action, req.QR)
	checkTotal.WithLabelValues(actionLabel(action), outcomeLabel(err)).Inc()
	return resp, err
}

func (s *attendanceService) check(ctx context.Context, userID int64, action, qr string) (*dto.CheckResponse, error) {
	now := s.now()
	today := s.policy.Today(now)

	// 1. 员工
	employeeID, found, err := s.directory.FindEmployeeID(ctx, userID)
	if err != nil {
		s.logger.Error("查询员工失败", zap.Int64("user_id", userID), zap.Error(err))
		return nil, err
	}
	if !found {
		return nil, rejectf(ErrEmployeeNotFound, "Employee record not found for userId=%d", userID)
	}

	// 2. 请假
	rec, err := s.repo.Attendance.GetByEmployeeAndDate(ctx, employeeID, today)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Error("查询今日考勤失败", zap.Int64("employee_id", employeeID), zap.Error(err))
		return nil, err
	}
	if rec != nil && rec.Status == model.StatusOnLeave {
		return nil, rejectf(ErrBlockedOnLeave, "You are on leave today")
	}

	// 3. 动作
	if action != ActionCheckIn && action != ActionCheckOut {
		return nil, rejectf(ErrUnknownAction, "Unknown action: %s", action)
	}

	// 4. 二维码
	deviceID, window, err := s.window.ParseAndValidate(qr)
	if err != nil {
		return nil, &CheckError{
			Kind:    ErrQRInvalid,
			Message: "QR validation failed: " + err.Error(),
			cause:   err,
		}
	}

	// 5~8 在用户锁内执行，同一用户的并发扫码只有一个能通过冷却
	unlock, err := s.locker.Lock(ctx, userLockKey(userID))
	if err != nil {
		s.logger.Error("获取用户扫码锁失败", zap.Int64("user_id", userID), zap.Error(err))
		return nil, err
	}
	defer unlock()

	// 5. 冷却
	if err := s.checkCooldown(ctx, userID, now); err != nil {
		return nil, err
	}

	// 6~7. 状态变更
	var attendanceID int64
	err = s.withDayLock(ctx, employeeID, today, func() error {
		return s.repo.Transaction(ctx, func(tx *repository.Repository) error {
			if err := s.closeStaleOpen(ctx, tx, employeeID, today, now); err != nil {
				return err
			}
			id, err := s.apply(ctx, tx, employeeID, today, action, now)
			attendanceID = id
			return err
		})
	})
	if err != nil {
		if !IsBusinessError(err) {
			s.logger.Error("写入考勤失败",
				zap.Int64("employee_id", employeeID),
				zap.String("action", action),
				zap.Error(err),
			)
		}
		return nil, err
	}

	// 8. 扫码日志
	s.writeScanLog(ctx, deviceID, window, userID, attendanceID, now)

	msg := "Checked in successfully"
	if action == ActionCheckOut {
		msg = "Checked out successfully"
	}
	return &dto.CheckResponse{Success: true, Message: msg}, nil
}

func (s *attendanceService) checkCooldown(ctx context.Context, userID int64, now time.Time) error {
	if s.policy.Cooldown <= 0 {
		return nil
	}

	last, err := s.repo.ScanLog.LastForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		s.logger.Error("查询最近扫码失败", zap.Int64("user_id", userID), zap.Error(err))
		return err
	}

	elapsed := now.Sub(last.ScannedAt)
	if elapsed >= s.policy.Cooldown {
		return nil
	}

	remaining := s.policy.Cooldown - elapsed
	ce := rejectf(ErrCooldownActive, "Please wait %d seconds before scanning again",
		int64(math.Ceil(remaining.Seconds())))
	ce.RetryAfter = remaining
	return ce
}

// closeStaleOpen 关闭该员工往日最近一条未签退记录：签到 + StaleCloseAfter，但不晚于 now
func (s *attendanceService) closeStaleOpen(ctx context.Context, tx *repository.Repository, employeeID int64, today model.Date, now time.Time) error {
	open, err := tx.Attendance.FindOpenBefore(ctx, employeeID, today)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	closeAt := open.CheckIn.Add(s.policy.StaleCloseAfter)
	if closeAt.After(now) {
		closeAt = now
	}

	closed, err := tx.Attendance.CloseIfOpen(ctx, open.AttendanceID, closeAt)
	if err != nil {
		return err
	}
	if closed {
		s.logger.Info("自动关闭往日未签退记录",
			zap.Int64("attendance_id", open.AttendanceID),
			zap.String("date", open.WorkDate.String()),
			zap.Time("check_out", closeAt),
		)
	}
	return nil
}

func (s *attendanceService) apply(ctx context.Context, tx *repository.Repository, employeeID int64, today model.Date, action string, now time.Time) (int64, error) {
	rec, err := tx.Attendance.LockByEmployeeAndDate(ctx, employeeID, today)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}
	if rec != nil && rec.Status == model.StatusOnLeave {
		return 0, rejectf(ErrBlockedOnLeave, "You are on leave today")
	}

	if action == ActionCheckIn {
		return s.applyCheckIn(ctx, tx, rec, employeeID, today, now)
	}
	return s.applyCheckOut(ctx, tx, rec, now)
}

func (s *attendanceService) applyCheckIn(ctx context.Context, tx *repository.Repository, rec *model.AttendanceRecord, employeeID int64, today model.Date, now time.Time) (int64, error) {
	if rec != nil && rec.CheckIn != nil {
		return 0, rejectf(ErrAlreadyCheckedIn, "Already checked in")
	}

	status := model.StatusPresent
	if s.policy.IsLate(now) {
		status = model.StatusLate
	}

	if rec == nil {
		checkIn := now
		rec = &model.AttendanceRecord{
			EmployeeID: employeeID,
			WorkDate:   today,
			CheckIn:    &checkIn,
			Status:     status,
			Source:     model.SourceQR,
		}
		if err := tx.Attendance.Create(ctx, rec); err != nil {
			return 0, err
		}
		return rec.AttendanceID, nil
	}

	// 已有无签到的记录（如对账任务补的 ABSENT），改写为本次签到
	if err := tx.Attendance.UpdateCheckIn(ctx, rec.AttendanceID, now, status, model.SourceQR); err != nil {
		return 0, err
	}
	return rec.AttendanceID, nil
}

func (s *attendanceService) applyCheckOut(ctx context.Context, tx *repository.Repository, rec *model.AttendanceRecord, now time.Time) (int64, error) {
	if rec == nil || rec.CheckIn == nil {
		return 0, rejectf(ErrNoOpenCheckIn, "Cannot check out without check-in")
	}
	if rec.CheckOut != nil {
		return 0, rejectf(ErrAlreadyCheckedOut, "Already checked out")
	}

	checkOut := now
	if checkOut.Before(*rec.CheckIn) {
		checkOut = *rec.CheckIn
	}

	closed, err := tx.Attendance.CloseIfOpen(ctx, rec.AttendanceID, checkOut)
	if err != nil {
		return 0, err
	}
	if !closed {
		return 0, rejectf(ErrAlreadyCheckedOut, "Already checked out")
	}
	return rec.AttendanceID, nil
}

func (s *attendanceService) writeScanLog(ctx context.Context, deviceID string, window, userID, attendanceID int64, now time.Time) {
	entry := &model.ScanLogEntry{
		DeviceUUID: deviceID,
		QRWindow:   window,
		UserID:     &userID,
		ScannedAt:  now,
	}
	if attendanceID > 0 {
		entry.AttendanceID = &attendanceID
	}

	if err := s.repo.ScanLog.Create(ctx, entry); err != nil {
		scanLogFailuresTotal.Inc()
		s.logger.Warn("写入扫码日志失败",
			zap.Int64("user_id", userID),
			zap.String("device", deviceID),
			zap.Error(err),
		)
	}
}

func (s *attendanceService) withDayLock(ctx context.Context, employeeID int64, date model.Date, fn func() error) error {
	unlock, err := s.locker.Lock(ctx, dayLockKey(employeeID, date.String()))
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// ────────────────────── Today ──────────────────────

func (s *attendanceService) Today(ctx context.Context, userID int64) (*dto.TodayResponse, error) {
	empty := &dto.TodayResponse{CanCheckIn: true}

	employeeID, found, err := s.directory.FindEmployeeID(ctx, userID)
	if err != nil {
		s.logger.Error("查询员工失败", zap.Int64("user_id", userID), zap.Error(err))
		return nil, err
	}
	if !found {
		return empty, nil
	}

	rec, err := s.repo.Attendance.GetByEmployeeAndDate(ctx, employeeID, s.policy.Today(s.now()))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return empty, nil
		}
		s.logger.Error("查询今日考勤失败", zap.Int64("employee_id", employeeID), zap.Error(err))
		return nil, err
	}

	checkedIn := rec.CheckIn != nil
	onLeave := rec.Status == model.StatusOnLeave
	return &dto.TodayResponse{
		CheckedIn:    checkedIn,
		CheckInTime:  s.formatClock(rec.CheckIn),
		CheckOutTime: s.formatClock(rec.CheckOut),
		CanCheckIn:   !checkedIn && !onLeave,
		CanCheckOut:  checkedIn && rec.CheckOut == nil && !onLeave,
		Status:       rec.Status,
	}, nil
}

// ────────────────────── History ──────────────────────

func (s *attendanceService) History(ctx context.Context, userID int64, limit int) ([]dto.HistoryItem, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	employeeID, found, err := s.directory.FindEmployeeID(ctx, userID)
	if err != nil {
		s.logger.Error("查询员工失败", zap.Int64("user_id", userID), zap.Error(err))
		return nil, err
	}
	if !found {
		return []dto.HistoryItem{}, nil
	}

	recs, err := s.repo.Attendance.ListByEmployee(ctx, employeeID, limit)
	if err != nil {
		s.logger.Error("查询考勤历史失败", zap.Int64("employee_id", employeeID), zap.Error(err))
		return nil, err
	}

	items := make([]dto.HistoryItem, 0, len(recs))
	for i := range recs {
		status := recs[i].Status
		if status == "" {
			status = model.StatusUnknown
		}
		items = append(items, dto.HistoryItem{
			Date:     recs[i].WorkDate.String(),
			CheckIn:  s.formatClock(recs[i].CheckIn),
			CheckOut: s.formatClock(recs[i].CheckOut),
			Status:   status,
		})
	}
	return items, nil
}

// ────────────────────── MarkOnLeave ──────────────────────

func (s *attendanceService) MarkOnLeave(ctx context.Context, req *dto.MarkLeaveRequest) error {
	date, err := model.ParseDate(req.Date)
	if err != nil {
		return ErrInvalidDate
	}

	err = s.withDayLock(ctx, req.EmployeeID, date, func() error {
		return s.repo.Attendance.MarkOnLeave(ctx, req.EmployeeID, date)
	})
	if err != nil {
		s.logger.Error("标记请假失败",
			zap.Int64("employee_id", req.EmployeeID),
			zap.String("date", req.Date),
			zap.Error(err),
		)
		return err
	}

	s.logger.Info("已标记请假", zap.Int64("employee_id", req.EmployeeID), zap.String("date", req.Date))
	return nil
}

// ────────────────────── DisplayToken ──────────────────────

func (s *attendanceService) DisplayToken(ctx context.Context, deviceID string) (*dto.DisplayTokenResponse, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" || strings.Contains(deviceID, "|") {
		return nil, ErrInvalidDeviceID
	}
	window := s.window.Current()

	resp := &dto.DisplayTokenResponse{
		DeviceID:   deviceID,
		Window:     window,
		Payload:    qrwindow.FormatPayload(deviceID, window),
		ValidUntil: s.window.ValidUntil(window).In(s.policy.Location).Format(time.RFC3339),
	}

	last, err := s.repo.ScanLog.LastForDevice(ctx, deviceID)
	switch {
	case err == nil:
		at := last.ScannedAt.In(s.policy.Location).Format(time.RFC3339)
		resp.LastScanAt = &at
	case !errors.Is(err, gorm.ErrRecordNotFound):
		// 展示屏只需二维码，最近扫码时间取不到时不影响展示
		s.logger.Warn("查询设备最近扫码失败", zap.String("device", deviceID), zap.Error(err))
	}
	return resp, nil
}

// ── 内部辅助方法 ──

func (s *attendanceService) formatClock(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.In(s.policy.Location).Format(clockLayout)
	return &v
}

func actionLabel(action string) string {
	switch action {
	case ActionCheckIn, ActionCheckOut:
		return action
	default:
		return "UNKNOWN"
	}
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	var ce *CheckError
	if !errors.As(err, &ce) {
		return "internal_error"
	}
	switch ce.Kind {
	case ErrEmployeeNotFound:
		return "employee_not_found"
	case ErrBlockedOnLeave:
		return "on_leave"
	case ErrUnknownAction:
		return "unknown_action"
	case ErrQRInvalid:
		return "qr_invalid"
	case ErrCooldownActive:
		return "cooldown"
	case ErrAlreadyCheckedIn:
		return "already_checked_in"
	case ErrNoOpenCheckIn:
		return "no_open_check_in"
	case ErrAlreadyCheckedOut:
		return "already_checked_out"
	default:
		return "rejected"
	}
}
