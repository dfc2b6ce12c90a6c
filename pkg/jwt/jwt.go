package jwt

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/xandra-X/humio/config"
)

var (
	ErrTokenExpired = errors.New("token 已过期")
	ErrTokenInvalid = errors.New("token 无效")
	ErrNoUserClaim  = errors.New("token 中缺少用户标识")
)

// UserIDClaimKeys 按优先级查找用户 ID 的声明名
// 兼容登录服务与移动端历史版本签发的不同字段
var UserIDClaimKeys = []string{"userId", "user_id", "id", "sub"}

const issuer = "humio"

// Manager JWT 管理器
// 签发仅用于测试与运维脚本，线上 Token 由登录服务签发
type Manager struct {
	secret         []byte
	accessTokenTTL time.Duration
}

// NewManager 创建 JWT 管理器
func NewManager(cfg *config.AuthConfig) *Manager {
	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Manager{secret: []byte(cfg.JWTSecret), accessTokenTTL: ttl}
}

// GenerateAccessToken 生成 Access Token
func (m *Manager) GenerateAccessToken(userID int64, role string) (string, error) {
	now := time.Now()
	claims := jwtv5.MapClaims{
		"userId": userID,
		"role":   role,
		"jti":    uuid.New().String(),
		"iat":    now.Unix(),
		"exp":    now.Add(m.accessTokenTTL).Unix(),
		"iss":    issuer,
	}

	token := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Identity Token 中解析出的身份
type Identity struct {
	UserID int64
	Role   string
}

// ParseToken 验证签名与有效期，并解析身份
func (m *Manager) ParseToken(tokenString string) (*Identity, error) {
	claims := jwtv5.MapClaims{}
	token, err := jwtv5.ParseWithClaims(tokenString, claims, func(t *jwtv5.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtv5.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwtv5.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	userID, err := UserIDFromClaims(claims)
	if err != nil {
		return nil, err
	}

	role, _ := claims["role"].(string)
	return &Identity{UserID: userID, Role: role}, nil
}

// UserIDFromClaims 依次尝试 UserIDClaimKeys，取第一个可解析为正整数的值
func UserIDFromClaims(claims jwtv5.MapClaims) (int64, error) {
	for _, key := range UserIDClaimKeys {
		raw, ok := claims[key]
		if !ok {
			continue
		}
		if id, ok := toInt64(raw); ok && id > 0 {
			return id, nil
		}
	}
	return 0, ErrNoUserClaim
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return id, err == nil
	default:
		return 0, false
	}
}

// BearerToken 从 Authorization 头中提取 Token
func BearerToken(header string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", fmt.Errorf("%w: 认证头格式无效", ErrTokenInvalid)
	}
	return strings.TrimSpace(parts[1]), nil
}
