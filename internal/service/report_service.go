package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/xandra-X/humio/internal/dto"
	"github.com/xandra-X/humio/internal/model"
	"github.com/xandra-X/humio/internal/repository"
)

// 单次导出允许的最大天数
const maxExportDays = 31

// ── 报表模块业务错误 ──

var (
	ErrExportInvalidRange = errors.New("结束日期不能早于开始日期")
	ErrExportRangeTooLong = errors.New("导出范围不能超过 31 天")
	ErrExportNoRecords    = errors.New("所选范围内没有考勤记录")
	ErrExportGenerateFail = errors.New("生成 Excel 文件失败")
)

// ReportService 考勤报表业务接口
//
// 设计说明：
//   - 概览按部门统计单日出勤，迟到计入出勤
//   - 导出以 bytes.Buffer 返回，由 Handler 层设置下载响应头
type ReportService interface {
	Overview(ctx context.Context, date string) (*dto.OverviewResponse, error)
	// Export 导出 [from, to] 的考勤明细为 Excel
	Export(ctx context.Context, from, to string) (*bytes.Buffer, string, error)
}

type reportService struct {
	repo   *repository.Repository
	policy *Policy
	now    func() time.Time
	logger *zap.Logger
}

// NewReportService 创建 ReportService 实例
func NewReportService(repo *repository.Repository, policy *Policy, now func() time.Time, logger *zap.Logger) ReportService {
	if now == nil {
		now = time.Now
	}
	return &reportService{repo: repo, policy: policy, now: now, logger: logger.Named("report")}
}

// ────────────────────── Overview ──────────────────────

func (s *reportService) Overview(ctx context.Context, date string) (*dto.OverviewResponse, error) {
	day := s.policy.Today(s.now())
	if date != "" {
		d, err := model.ParseDate(date)
		if err != nil {
			return nil, ErrInvalidDate
		}
		day = d
	}

	rows, err := s.repo.Department.AttendanceOverview(ctx, day)
	if err != nil {
		s.logger.Error("统计部门出勤失败", zap.String("date", day.String()), zap.Error(err))
		return nil, err
	}

	result := &dto.OverviewResponse{
		Date:        day.String(),
		Departments: make([]dto.DepartmentOverview, 0, len(rows)),
	}
	for _, r := range rows {
		result.Departments = append(result.Departments, dto.DepartmentOverview{
			DepartmentID:   r.DepartmentID,
			Name:           r.Name,
			TotalEmployees: r.TotalEmployees,
			Present:        r.Present,
			Absent:         r.Absent,
			Late:           r.Late,
			AttendanceRate: attendanceRate(r.Present, r.TotalEmployees),
		})
	}
	return result, nil
}

func attendanceRate(present, total int64) string {
	if total <= 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(present)*100/float64(total))
}

// ═══════════════════════════════════════════════════════════
// Export：导出考勤明细为 Excel
// ═══════════════════════════════════════════════════════════
//
// 输出格式：
//   - Sheet "考勤明细"，第 1 行标题，第 2 行表头
//   - 每条记录一行：工号 / 日期 / 签到 / 签退 / 状态 / 来源 / 自动签退 / 待复核

func (s *reportService) Export(ctx context.Context, from, to string) (*bytes.Buffer, string, error) {
	fromDate, err := model.ParseDate(from)
	if err != nil {
		return nil, "", ErrInvalidDate
	}
	toDate, err := model.ParseDate(to)
	if err != nil {
		return nil, "", ErrInvalidDate
	}
	if toDate.Before(fromDate) {
		return nil, "", ErrExportInvalidRange
	}
	if fromDate.AddDays(maxExportDays - 1).Before(toDate) {
		return nil, "", ErrExportRangeTooLong
	}

	recs, err := s.repo.Attendance.ListByDateRange(ctx, fromDate, toDate)
	if err != nil {
		s.logger.Error("查询考勤明细失败", zap.Error(err))
		return nil, "", err
	}
	if len(recs) == 0 {
		return nil, "", ErrExportNoRecords
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "考勤明细"
	idx, _ := f.NewSheet(sheetName)
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	headers := []string{"工号", "日期", "签到", "签退", "状态", "来源", "自动签退", "待复核"}
	widths := []float64{14, 12, 20, 20, 12, 10, 10, 10}
	for i, w := range widths {
		col := colName(i)
		f.SetColWidth(sheetName, col, col, w)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	// 标题行
	f.SetCellValue(sheetName, "A1", fmt.Sprintf("考勤明细 %s ~ %s", fromDate, toDate))
	f.MergeCell(sheetName, "A1", cell(colName(len(headers)-1), 1))
	f.SetCellStyle(sheetName, "A1", "A1", headerStyle)

	// 表头
	for i, h := range headers {
		f.SetCellValue(sheetName, cell(colName(i), 2), h)
	}
	f.SetCellStyle(sheetName, "A2", cell(colName(len(headers)-1), 2), headerStyle)

	// 数据行
	row := 3
	for i := range recs {
		r := &recs[i]
		code := fmt.Sprintf("#%d", r.EmployeeID)
		if r.Employee != nil && r.Employee.EmployeeCode != "" {
			code = r.Employee.EmployeeCode
		}
		values := []interface{}{
			code,
			r.WorkDate.String(),
			s.formatTimestamp(r.CheckIn),
			s.formatTimestamp(r.CheckOut),
			r.Status,
			r.Source,
			yesNo(r.AutoCheckedOut),
			yesNo(r.NeedsReview),
		}
		for col, v := range values {
			f.SetCellValue(sheetName, cell(colName(col), row), v)
		}
		row++
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		s.logger.Error("写入 Excel 失败", zap.Error(err))
		return nil, "", fmt.Errorf("%w: %v", ErrExportGenerateFail, err)
	}

	filename := fmt.Sprintf("考勤明细_%s_%s.xlsx", fromDate, toDate)
	return buf, filename, nil
}

// ── 辅助函数 ──

func (s *reportService) formatTimestamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.In(s.policy.Location).Format("2006-01-02 15:04:05")
}

func yesNo(b bool) string {
	if b {
		return "是"
	}
	return "否"
}

func colName(idx int) string {
	name, _ := excelize.ColumnNumberToName(idx + 1)
	return name
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
