package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 进程级配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Retention RetentionConfig `mapstructure:"retention"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
}

type ServerConfig struct {
	Port          string `mapstructure:"port"`
	Mode          string `mapstructure:"mode"`
	EnableSwagger bool   `mapstructure:"enable_swagger"`
	// RateLimit 内部发布接口每个来源 IP 每秒请求数
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

type DatabaseConfig struct {
	// Driver postgres | sqlite
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a redis address is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Insecure    bool   `mapstructure:"insecure"`
}

// DispatchConfig 控制 outbox 分发循环
type DispatchConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	LeaseDuration time.Duration `mapstructure:"lease_duration"`
	IdleDelay     time.Duration `mapstructure:"idle_delay"`
	ErrorDelay    time.Duration `mapstructure:"error_delay"`
	Workers       int           `mapstructure:"workers"`
}

// RetentionConfig 控制通知清理；MaxAge / MaxPerUser 为 0 表示关闭
type RetentionConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	MaxPerUser    int           `mapstructure:"max_per_user"`
}

type DeliveryConfig struct {
	QueueSize          int    `mapstructure:"queue_size"`
	Workers            int    `mapstructure:"workers"`
	RedisChannelPrefix string `mapstructure:"redis_channel_prefix"`
	SNSTopicARN        string `mapstructure:"sns_topic_arn"`
	SNSRegion          string `mapstructure:"sns_region"`
}

const (
	DefaultBatchSize     = 20
	DefaultLeaseDuration = time.Minute
	DefaultIdleDelay     = 5 * time.Second
	DefaultErrorDelay    = 15 * time.Second
	DefaultSweepInterval = time.Hour
	DefaultRetryInterval = time.Minute
)

// DefaultDispatchConfig 返回默认分发配置
func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		BatchSize:     DefaultBatchSize,
		LeaseDuration: DefaultLeaseDuration,
		IdleDelay:     DefaultIdleDelay,
		ErrorDelay:    DefaultErrorDelay,
		Workers:       1,
	}
}

// Normalize 将非法值回退到默认值
func (c *DispatchConfig) Normalize() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = DefaultLeaseDuration
	}
	if c.IdleDelay <= 0 {
		c.IdleDelay = DefaultIdleDelay
	}
	if c.ErrorDelay <= 0 {
		c.ErrorDelay = DefaultErrorDelay
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
}

// Normalize 将非法间隔回退到默认值；阈值保持原样（<=0 即关闭）
func (c *RetentionConfig) Normalize() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.enable_swagger", false)
	v.SetDefault("server.rate_limit", 50.0)
	v.SetDefault("server.rate_burst", 100)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=projtrack port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("jwt.secret", "")

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "development")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "projtrack-notifyd")
	v.SetDefault("tracing.insecure", true)

	v.SetDefault("dispatch.batch_size", DefaultBatchSize)
	v.SetDefault("dispatch.lease_duration", DefaultLeaseDuration)
	v.SetDefault("dispatch.idle_delay", DefaultIdleDelay)
	v.SetDefault("dispatch.error_delay", DefaultErrorDelay)
	v.SetDefault("dispatch.workers", 1)

	v.SetDefault("retention.sweep_interval", DefaultSweepInterval)
	v.SetDefault("retention.retry_interval", DefaultRetryInterval)
	v.SetDefault("retention.max_age", time.Duration(0))
	v.SetDefault("retention.max_per_user", 0)

	v.SetDefault("delivery.queue_size", 1024)
	v.SetDefault("delivery.workers", 2)
	v.SetDefault("delivery.redis_channel_prefix", "notify:user")
	v.SetDefault("delivery.sns_topic_arn", "")
	v.SetDefault("delivery.sns_region", "us-east-1")
}

// Load 读取 config.yaml（可选）与 PROJTRACK_* 环境变量
func Load() (*Config, error) {
	return LoadFrom(viper.New())
}

// LoadFrom 使用调用方提供的 viper 实例加载配置
func LoadFrom(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("PROJTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Dispatch.Normalize()
	cfg.Retention.Normalize()
	return &cfg, nil
}
