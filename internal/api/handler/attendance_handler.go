package handler

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xandra-X/humio/internal/dto"
	"github.com/xandra-X/humio/internal/service"
	"github.com/xandra-X/humio/pkg/response"
)

// AttendanceHandler 考勤打卡 HTTP 处理器
type AttendanceHandler struct {
	attendanceSvc service.AttendanceService
	sweeperSvc    service.SweeperService
}

// NewAttendanceHandler 创建 AttendanceHandler
func NewAttendanceHandler(attendanceSvc service.AttendanceService, sweeperSvc service.SweeperService) *AttendanceHandler {
	return &AttendanceHandler{attendanceSvc: attendanceSvc, sweeperSvc: sweeperSvc}
}

// Check 扫码签到 / 签退
// POST /api/attendance/check
func (h *AttendanceHandler) Check(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	var req dto.CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			// 交给 BodyLimit 输出 413
			_ = c.Error(err)
			return
		}
		response.Result(c, http.StatusBadRequest, false, "Invalid request body")
		return
	}

	resp, err := h.attendanceSvc.Check(c.Request.Context(), userID, &req)
	if err != nil {
		h.handleCheckError(c, err)
		return
	}

	response.Result(c, http.StatusOK, resp.Success, resp.Message)
}

// Today 今日考勤状态
// GET /api/attendance/today
func (h *AttendanceHandler) Today(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	resp, err := h.attendanceSvc.Today(c.Request.Context(), userID)
	if err != nil {
		internalError(c, err)
		return
	}

	response.Raw(c, resp)
}

// History 考勤历史
// GET /api/attendance/history?limit=N
func (h *AttendanceHandler) History(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	var req dto.HistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Result(c, http.StatusBadRequest, false, "Invalid limit")
		return
	}

	items, err := h.attendanceSvc.History(c.Request.Context(), userID, req.Limit)
	if err != nil {
		internalError(c, err)
		return
	}

	response.Raw(c, items)
}

// MarkLeave 标记员工某日请假
// PUT /api/attendance/leave
func (h *AttendanceHandler) MarkLeave(c *gin.Context) {
	var req dto.MarkLeaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	if err := h.attendanceSvc.MarkOnLeave(c.Request.Context(), &req); err != nil {
		if errors.Is(err, service.ErrInvalidDate) {
			response.BadRequest(c, 10001, err.Error())
			return
		}
		_ = c.Error(err)
		response.InternalError(c)
		return
	}

	response.OK(c, nil)
}

// Sweep 手动触发一轮对账
// POST /api/attendance/sweep
// 客户端断开不中断进行中的一轮
func (h *AttendanceHandler) Sweep(c *gin.Context) {
	result, err := h.sweeperSvc.RunOnce(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		_ = c.Error(err)
		if result == nil {
			response.InternalError(c)
			return
		}
		// 部分步骤失败时仍返回已完成的统计
		c.JSON(http.StatusInternalServerError, response.Response{
			Code:    50001,
			Message: "对账任务部分步骤失败",
			Data:    result,
			Details: err.Error(),
		})
		return
	}

	response.OK(c, result)
}

// ── 错误映射 ──

func (h *AttendanceHandler) handleCheckError(c *gin.Context, err error) {
	var ce *service.CheckError
	if !errors.As(err, &ce) {
		internalError(c, err)
		return
	}

	if errors.Is(ce, service.ErrCooldownActive) && ce.RetryAfter > 0 {
		c.Header("Retry-After", strconv.FormatInt(int64(math.Ceil(ce.RetryAfter.Seconds())), 10))
	}
	response.Result(c, http.StatusBadRequest, false, ce.Message)
}

// internalError 考勤客户端约定的 500 响应
func internalError(c *gin.Context, err error) {
	_ = c.Error(err)
	response.Result(c, http.StatusInternalServerError, false, "Internal error: "+err.Error())
}
