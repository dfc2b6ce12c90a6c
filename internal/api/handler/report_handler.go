package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/xandra-X/humio/internal/dto"
	"github.com/xandra-X/humio/internal/service"
	"github.com/xandra-X/humio/pkg/response"
)

// ReportHandler 考勤报表 HTTP 处理器
type ReportHandler struct {
	reportSvc service.ReportService
}

// NewReportHandler 创建 ReportHandler
func NewReportHandler(reportSvc service.ReportService) *ReportHandler {
	return &ReportHandler{reportSvc: reportSvc}
}

// Overview 部门出勤概览
// GET /api/attendance/overview?date=YYYY-MM-DD
func (h *ReportHandler) Overview(c *gin.Context) {
	var req dto.OverviewRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	result, err := h.reportSvc.Overview(c.Request.Context(), req.Date)
	if err != nil {
		h.handleReportError(c, err)
		return
	}

	response.OK(c, result)
}

// Export 导出考勤明细
// GET /api/attendance/export?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *ReportHandler) Export(c *gin.Context) {
	var req dto.ExportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "from / to 必须为 YYYY-MM-DD")
		return
	}

	buf, filename, err := h.reportSvc.Export(c.Request.Context(), req.From, req.To)
	if err != nil {
		h.handleReportError(c, err)
		return
	}

	// 设置下载响应头
	const contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+url.QueryEscape(filename))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

func (h *ReportHandler) handleReportError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidDate):
		response.BadRequest(c, 17001, err.Error())
	case errors.Is(err, service.ErrExportInvalidRange):
		response.BadRequest(c, 17002, err.Error())
	case errors.Is(err, service.ErrExportRangeTooLong):
		response.BadRequest(c, 17003, err.Error())
	case errors.Is(err, service.ErrExportNoRecords):
		response.NotFound(c, 17004, err.Error())
	case errors.Is(err, service.ErrExportGenerateFail):
		_ = c.Error(err)
		response.ErrorWithDetails(c, http.StatusInternalServerError, 17005, service.ErrExportGenerateFail.Error(), err.Error())
	default:
		_ = c.Error(err)
		response.InternalError(c)
	}
}
