package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用全局配置结构体
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Log        LogConfig        `mapstructure:"log"`
	Attendance AttendanceConfig `mapstructure:"attendance"`
	Sweeper    SweeperConfig    `mapstructure:"sweeper"`
	Cache      CacheConfig      `mapstructure:"cache"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port      int        `mapstructure:"port"`
	BodyLimit int64      `mapstructure:"body_limit"`
	CORS      CORSConfig `mapstructure:"cors"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// 支持的数据库驱动
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig 数据库配置
// 生产环境使用 MySQL；postgres 与 sqlite 用于其他部署形态与本地开发
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"sslmode"`
	Params          string `mapstructure:"params"` // 追加到 MySQL DSN 的额外参数
	SQLitePath      string `mapstructure:"sqlite_path"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 连接最大生命周期（分钟）
}

// DSN 按驱动生成连接字符串
// tz 为考勤时区，用于让数据库会话与业务日期保持一致
func (c *DatabaseConfig) DSN(tz string) string {
	switch c.Driver {
	case DriverPostgres:
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode, tz,
		)
	case DriverSQLite:
		return c.SQLitePath
	default:
		dsn := fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&multiStatements=true&loc=%s",
			c.User, c.Password, c.Host, c.Port, c.Name, strings.ReplaceAll(tz, "/", "%2F"),
		)
		if c.Params != "" {
			dsn += "&" + c.Params
		}
		return dsn
	}
}

// RedisConfig Redis 配置（分布式扫码锁与限流）
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig 身份解析配置
type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	// DevFallbackUserID 无法解析身份时使用的开发用户 ID，0 表示关闭
	DevFallbackUserID int64 `mapstructure:"dev_fallback_user_id"`
	// TrustGatewayHeaders 是否信任网关透传的 X-User-Role，关闭时角色只取自 Token
	TrustGatewayHeaders bool `mapstructure:"trust_gateway_headers"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AttendanceConfig 考勤策略配置
type AttendanceConfig struct {
	Timezone           string        `mapstructure:"timezone"`
	WindowSeconds      int64         `mapstructure:"window_seconds"`
	SkewWindows        int64         `mapstructure:"skew_windows"`
	Cooldown           time.Duration `mapstructure:"cooldown"`
	ShiftStart         string        `mapstructure:"shift_start"`
	AutoCheckoutTime   string        `mapstructure:"auto_checkout_time"`
	ArrivalWindowStart string        `mapstructure:"arrival_window_start"`
	ArrivalWindowEnd   string        `mapstructure:"arrival_window_end"`
	StaleCloseAfter    time.Duration `mapstructure:"stale_close_after"`
	LockTTL            time.Duration `mapstructure:"lock_ttl"`
	LockWait           time.Duration `mapstructure:"lock_wait"`
	CheckRateLimit     int           `mapstructure:"check_rate_limit"`
	CheckRateWindow    time.Duration `mapstructure:"check_rate_window"`
}

// Location 解析考勤时区
func (c *AttendanceConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// SweeperConfig 对账任务配置
type SweeperConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	RunOnStart  bool          `mapstructure:"run_on_start"`
	Concurrency int           `mapstructure:"concurrency"`
}

// CacheConfig 本地缓存配置
type CacheConfig struct {
	EmployeeSize int           `mapstructure:"employee_size"`
	EmployeeTTL  time.Duration `mapstructure:"employee_ttl"`
}

// Load 从 .env、配置文件与环境变量加载配置
// 优先级：环境变量 > 配置文件 > 默认值
func Load(path string) (*Config, error) {
	// .env 仅用于本地开发，不存在时忽略
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	// ── 配置文件 ──
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// ── 环境变量 ──
	v.SetEnvPrefix("HUMIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 配置文件不存在时仅依赖默认值和环境变量
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	// ── 关键配置校验 ──
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.body_limit", 1<<20)
	v.SetDefault("server.cors.allow_origins", []string{"http://localhost:5173"})

	v.SetDefault("db.driver", DriverMySQL)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 3306)
	v.SetDefault("db.name", "humio")
	v.SetDefault("db.user", "root")
	v.SetDefault("db.password", "")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.sqlite_path", "humio.db")
	v.SetDefault("db.max_open_conns", 25)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_max_lifetime", 60)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.access_token_ttl", "12h")
	v.SetDefault("auth.dev_fallback_user_id", 0)
	v.SetDefault("auth.trust_gateway_headers", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("attendance.timezone", "Local")
	v.SetDefault("attendance.window_seconds", 30)
	v.SetDefault("attendance.skew_windows", 1)
	v.SetDefault("attendance.cooldown", "180s")
	v.SetDefault("attendance.shift_start", "09:00")
	v.SetDefault("attendance.auto_checkout_time", "16:30")
	v.SetDefault("attendance.arrival_window_start", "09:00")
	v.SetDefault("attendance.arrival_window_end", "09:30")
	v.SetDefault("attendance.stale_close_after", "8h")
	v.SetDefault("attendance.lock_ttl", "10s")
	v.SetDefault("attendance.lock_wait", "3s")
	v.SetDefault("attendance.check_rate_limit", 20)
	v.SetDefault("attendance.check_rate_window", "1m")

	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.interval", "1h")
	v.SetDefault("sweeper.run_on_start", true)
	v.SetDefault("sweeper.concurrency", 4)

	v.SetDefault("cache.employee_size", 1024)
	v.SetDefault("cache.employee_ttl", "10m")
}

// Validate 校验关键配置项
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("配置校验失败: auth.jwt_secret 不能为空")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("配置校验失败: auth.jwt_secret 长度不能少于 16 字符")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("配置校验失败: server.port 必须在 1-65535 之间")
	}
	switch c.Database.Driver {
	case DriverMySQL, DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("配置校验失败: db.driver 不支持 %q", c.Database.Driver)
	}

	a := &c.Attendance
	if a.WindowSeconds <= 0 {
		return fmt.Errorf("配置校验失败: attendance.window_seconds 必须大于 0")
	}
	if a.SkewWindows < 0 {
		return fmt.Errorf("配置校验失败: attendance.skew_windows 不能为负数")
	}
	if a.Cooldown < 0 || a.StaleCloseAfter <= 0 {
		return fmt.Errorf("配置校验失败: attendance.cooldown / stale_close_after 无效")
	}
	if _, err := a.Location(); err != nil {
		return fmt.Errorf("配置校验失败: attendance.timezone 无效: %w", err)
	}

	clocks := map[string]string{
		"attendance.shift_start":          a.ShiftStart,
		"attendance.auto_checkout_time":   a.AutoCheckoutTime,
		"attendance.arrival_window_start": a.ArrivalWindowStart,
		"attendance.arrival_window_end":   a.ArrivalWindowEnd,
	}
	for key, val := range clocks {
		if _, err := ParseClock(val); err != nil {
			return fmt.Errorf("配置校验失败: %s: %w", key, err)
		}
	}
	start, _ := ParseClock(a.ArrivalWindowStart)
	end, _ := ParseClock(a.ArrivalWindowEnd)
	if end < start {
		return fmt.Errorf("配置校验失败: attendance.arrival_window_end 不能早于 arrival_window_start")
	}
	if cutoff, _ := ParseClock(a.AutoCheckoutTime); cutoff < end {
		return fmt.Errorf("配置校验失败: attendance.auto_checkout_time 不能早于 arrival_window_end")
	}

	if c.Sweeper.Enabled && c.Sweeper.Interval <= 0 {
		return fmt.Errorf("配置校验失败: sweeper.interval 必须大于 0")
	}
	return nil
}

// ParseClock 将 "HH:MM" 或 "HH:MM:SS" 解析为距零点的时长
func ParseClock(s string) (time.Duration, error) {
	layouts := []string{"15:04", "15:04:05"}
	for _, layout := range layouts {
		t, err := time.Parse(layout, strings.TrimSpace(s))
		if err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("无效的时刻 %q", s)
}
