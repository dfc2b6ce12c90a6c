package middleware

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xandra-X/humio/config"
	"github.com/xandra-X/humio/pkg/jwt"
	"github.com/xandra-X/humio/pkg/response"
)

// 上下文键
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// 网关透传的身份头
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"
)

// Identity 身份解析中间件
// 优先级：X-User-Id 头 → userId 查询参数 → Bearer JWT → 开发用户（DevFallbackUserID，0 表示关闭）
// 全部失败时返回 401
// X-User-Role 仅在 TrustGatewayHeaders 开启时生效，否则角色只来自验签后的 Token
func Identity(jwtMgr *jwt.Manager, auth config.AuthConfig, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. 网关透传
		if id, ok := parseUserID(c.GetHeader(HeaderUserID)); ok {
			role := ""
			if auth.TrustGatewayHeaders {
				role = strings.TrimSpace(c.GetHeader(HeaderUserRole))
			}
			setIdentity(c, id, role)
			c.Next()
			return
		}

		// 2. 查询参数
		if id, ok := parseUserID(c.Query("userId")); ok {
			setIdentity(c, id, "")
			c.Next()
			return
		}

		// 3. Bearer Token
		if authHeader := c.GetHeader("Authorization"); authHeader != "" && jwtMgr != nil {
			token, err := jwt.BearerToken(authHeader)
			if err == nil {
				ident, perr := jwtMgr.ParseToken(token)
				if perr == nil {
					setIdentity(c, ident.UserID, ident.Role)
					c.Next()
					return
				}
				err = perr
			}
			logger.Debug("Token 解析失败", zap.Error(err))
		}

		// 4. 开发用户
		if auth.DevFallbackUserID > 0 {
			setIdentity(c, auth.DevFallbackUserID, "")
			c.Next()
			return
		}

		response.Unauthorized(c, 10002, "未认证")
		c.Abort()
	}
}

func parseUserID(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func setIdentity(c *gin.Context, userID int64, role string) {
	c.Set(ContextUserID, userID)
	c.Set(ContextRole, role)
}

// RoleAuth 角色权限中间件
// 检查当前用户是否具有指定角色之一
func RoleAuth(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get(ContextRole)
		if !exists {
			response.Unauthorized(c, 10002, "未认证")
			c.Abort()
			return
		}

		userRole, _ := role.(string)
		for _, r := range allowedRoles {
			if userRole == r {
				c.Next()
				return
			}
		}

		response.Forbidden(c, 10003, "无权限访问")
		c.Abort()
	}
}
