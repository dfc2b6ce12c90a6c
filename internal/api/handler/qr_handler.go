package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/xandra-X/humio/internal/dto"
	"github.com/xandra-X/humio/internal/service"
	"github.com/xandra-X/humio/pkg/response"
)

// QRHandler 签到屏二维码 HTTP 处理器
type QRHandler struct {
	attendanceSvc service.AttendanceService
}

// NewQRHandler 创建 QRHandler
func NewQRHandler(attendanceSvc service.AttendanceService) *QRHandler {
	return &QRHandler{attendanceSvc: attendanceSvc}
}

// Display 获取设备当前窗口的二维码内容
// GET /api/qr/display?device_id=xxx
func (h *QRHandler) Display(c *gin.Context) {
	var req dto.DisplayTokenRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "device_id 不能为空且不超过 64 字符")
		return
	}

	token, err := h.attendanceSvc.DisplayToken(c.Request.Context(), req.DeviceID)
	if err != nil {
		if errors.Is(err, service.ErrInvalidDeviceID) {
			response.BadRequest(c, 10001, err.Error())
			return
		}
		_ = c.Error(err)
		response.InternalError(c)
		return
	}

	response.OK(c, token)
}
