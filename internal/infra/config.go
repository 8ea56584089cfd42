package infra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации моста.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Console   ConsoleConfig   `mapstructure:"console"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Site      SiteConfig      `mapstructure:"site"`
	Hooks     HooksConfig     `mapstructure:"hooks"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Approvals ApprovalsConfig `mapstructure:"approvals"`
	Features  map[string]bool `mapstructure:"features"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера моста (data plane).
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MetricsPort  int           `mapstructure:"metrics_port"`
}

// ConsoleConfig — настройки админского API (control plane).
type ConsoleConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig описывает подключение к PostgreSQL (журнал аудита).
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (счетчики, очереди, состояние CB).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig — учетка админа консоли и секрет для HS256 токенов.
type AuthConfig struct {
	AdminUser     string        `mapstructure:"admin_user"`
	AdminPassHash string        `mapstructure:"admin_pass_hash"` // bcrypt-хэш, сам пароль в конфиге не живет
	JWTSecret     string        `mapstructure:"jwt_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
}

// GatewayConfig описывает исходящее соединение с агентским шлюзом (OpenClaw).
type GatewayConfig struct {
	URL           string        `mapstructure:"url"`   // базовый URL, POST на {url}/hooks/agent
	Token         string        `mapstructure:"token"` // Bearer для исходящих
	SigningSecret string        `mapstructure:"signing_secret"`
	SendTimeout   time.Duration `mapstructure:"send_timeout"`

	// Параметры предохранителя (Circuit Breaker)
	CBThreshold int           `mapstructure:"cb_threshold"`
	CBCooldown  time.Duration `mapstructure:"cb_cooldown"`
}

// SiteConfig — REST-доступ к самому сайту, на котором исполняются способности.
type SiteConfig struct {
	URL       string        `mapstructure:"url"`
	User      string        `mapstructure:"user"`
	AppPass   string        `mapstructure:"app_pass"`
	Timeout   time.Duration `mapstructure:"timeout"`
	AgentUser string        `mapstructure:"agent_user"` // identity, под которой исполняются входящие
}

// HooksConfig — аутентификация входящего hook-эндпоинта.
type HooksConfig struct {
	BearerToken   string        `mapstructure:"bearer_token"`
	HeaderToken   string        `mapstructure:"header_token"` // X-Pinch-Token
	HMACSecret    string        `mapstructure:"hmac_secret"`
	HMACTolerance time.Duration `mapstructure:"hmac_tolerance"`
}

// LimitsConfig — rate-окна и дневной бюджет записи.
type LimitsConfig struct {
	OutboundPerMinute int `mapstructure:"outbound_per_minute"` // вебхуки в минуту на тип события
	InboundPerMinute  int `mapstructure:"inbound_per_minute"`  // входящие запросы в минуту на субъект
	DailyWriteCap     int `mapstructure:"daily_write_cap"`     // 0 = без лимита
	AlertPercent      int `mapstructure:"alert_percent"`       // порог алерта по бюджету, в процентах
}

// ApprovalsConfig перечисляет способности, требующие ручного подтверждения.
type ApprovalsConfig struct {
	Required []string `mapstructure:"required"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// ENV перекрывает файл: GATEWAY_URL=... перекроет gateway.url
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("console.port", 8000)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("gateway.send_timeout", 5*time.Second)
	v.SetDefault("gateway.cb_threshold", 3)
	v.SetDefault("gateway.cb_cooldown", 60*time.Second)
	v.SetDefault("site.timeout", 15*time.Second)
	v.SetDefault("hooks.hmac_tolerance", 300*time.Second)
	v.SetDefault("limits.outbound_per_minute", 10)
	v.SetDefault("limits.inbound_per_minute", 60)
	v.SetDefault("limits.daily_write_cap", 0)
	v.SetDefault("limits.alert_percent", 80)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}
