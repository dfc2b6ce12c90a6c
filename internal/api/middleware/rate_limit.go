package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xandra-X/humio/pkg/redis"
	"github.com/xandra-X/humio/pkg/response"
)

// RateLimit 基于 Redis 滑动窗口的速率限制中间件
// 已识别身份时按用户计数，否则按客户端 IP
// rdb 为 nil 或 Redis 出错时降级放行
func RateLimit(rdb *redis.Client, limit int, window time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rdb == nil || limit <= 0 {
			c.Next()
			return
		}

		subject := "ip:" + c.ClientIP()
		if uid, ok := c.Get(ContextUserID); ok {
			subject = fmt.Sprintf("user:%v", uid)
		}

		key := subject + ":" + c.FullPath()
		allowed, err := rdb.CheckRateLimit(c.Request.Context(), key, limit, window)
		if err != nil {
			logger.Warn("限流检查失败，降级放行", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		if !allowed {
			response.Result(c, http.StatusTooManyRequests, false, "Too many requests, please try again later")
			c.Abort()
			return
		}

		c.Next()
	}
}
