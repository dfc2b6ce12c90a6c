package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xandra-X/humio/config"
	"github.com/xandra-X/humio/internal/api/handler"
	"github.com/xandra-X/humio/internal/api/middleware"
	"github.com/xandra-X/humio/pkg/jwt"
	"github.com/xandra-X/humio/pkg/redis"
)

// 角色
const (
	RoleAdmin   = "admin"
	RoleHR      = "hr"
	RoleManager = "manager"
	RoleKiosk   = "kiosk"
)

// Setup 初始化并返回 Gin 路由引擎
func Setup(cfg *config.Config, h *handler.Handler, jwtMgr *jwt.Manager, rdb *redis.Client, logger *zap.Logger) *gin.Engine {
	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	// ── 健康检查与指标 ──
	r.GET("/health", func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if rdb != nil {
			// Redis 不可用时锁与限流会报错，但服务本身仍可响应
			body["redis"] = "ok"
			if err := rdb.Ping(c.Request.Context()); err != nil {
				body["redis"] = "down"
			}
		}
		c.JSON(http.StatusOK, body)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ── API ──
	api := r.Group("/api")
	api.Use(middleware.Identity(jwtMgr, cfg.Auth, logger))
	{
		// 考勤打卡（员工）
		attendance := api.Group("/attendance")
		{
			attendance.POST("/check",
				middleware.RateLimit(rdb, cfg.Attendance.CheckRateLimit, cfg.Attendance.CheckRateWindow, logger),
				h.Attendance.Check,
			)
			attendance.GET("/today", h.Attendance.Today)
			attendance.GET("/history", h.Attendance.History)

			// 管理端
			attendance.GET("/overview", middleware.RoleAuth(RoleAdmin, RoleHR, RoleManager), h.Report.Overview)
			attendance.GET("/export", middleware.RoleAuth(RoleAdmin, RoleHR), h.Report.Export)
			attendance.PUT("/leave", middleware.RoleAuth(RoleAdmin, RoleHR), h.Attendance.MarkLeave)
			attendance.POST("/sweep", middleware.RoleAuth(RoleAdmin, RoleHR), h.Attendance.Sweep)
		}

		// 签到屏
		api.GET("/qr/display", middleware.RoleAuth(RoleAdmin, RoleHR, RoleKiosk), h.QR.Display)
	}

	return r
}
