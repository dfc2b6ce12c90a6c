package handler

import "github.com/xandra-X/humio/internal/service"

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Attendance *AttendanceHandler
	Report     *ReportHandler
	QR         *QRHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(svc *service.Service) *Handler {
	return &Handler{
		Attendance: NewAttendanceHandler(svc.Attendance, svc.Sweeper),
		Report:     NewReportHandler(svc.Report),
		QR:         NewQRHandler(svc.Attendance),
	}
}
