package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Tracing   TracingConfig `mapstructure:"tracing"`
	Redis     RedisConfig
	Log       LogConfig       `mapstructure:"log"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Policy    Policy          `mapstructure:"policy"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	ForceMigrate bool   `mapstructure:"-"`
	MigrateOnly  bool   `mapstructure:"-"`
	SeedFile     string `mapstructure:"-"`
	ConfigFile   string `mapstructure:"-"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

type ServerConfig struct {
	Port string
	Mode string
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	File     string `mapstructure:"file"`
	SQLLevel string `mapstructure:"sql_level"`
}

type DatabaseConfig struct {
	Driver    string `mapstructure:"driver"` // mysql, postgres, sqlite
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
	SSLMode   string `mapstructure:"sslmode"`
	DSN       string `mapstructure:"dsn"` // 直接指定 DSN 时优先使用（sqlite 文件路径等）
	MaxOpen   int    `mapstructure:"max_open"`
	MaxIdle   int    `mapstructure:"max_idle"`
	LogLevel  string `mapstructure:"-"`
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	ExpireTime time.Duration `mapstructure:"expire_hours"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	ServiceName       string `mapstructure:"service_name"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type RedisConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	Host     string
	Port     int
	Password string
	DB       int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.parsetime", true)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open", 50)
	v.SetDefault("database.max_idle", 10)
	v.SetDefault("jwt.expire_hours", 72)
	v.SetDefault("tracing.service_name", "eduflex-assessment")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "logs/app.log")
	v.SetDefault("log.sql_level", "warn")
	v.SetDefault("rate_limit.max_requests", 6000)
	v.SetDefault("rate_limit.window_minutes", 1)

	d := DefaultPolicy()
	v.SetDefault("policy.scoring.pass_percent", d.Scoring.PassPercent)
	v.SetDefault("policy.scoring.max_attempts", d.Scoring.MaxAttempts)
	v.SetDefault("policy.scoring.block_after_perfect", d.Scoring.BlockAfterPerfect)
	v.SetDefault("policy.scoring.lock_wait", d.Scoring.LockWait)
	v.SetDefault("policy.scoring.lock_ttl", d.Scoring.LockTTL)
	v.SetDefault("policy.scoring.max_retries", d.Scoring.MaxRetries)
	v.SetDefault("policy.knowledge.combine", d.Knowledge.Combine)
	v.SetDefault("policy.knowledge.ema_alpha", d.Knowledge.EMAAlpha)
	v.SetDefault("policy.aggregation.module_test_share", d.Aggregation.ModuleTestShare)
	v.SetDefault("policy.aggregation.course_test_share", d.Aggregation.CourseTestShare)
	v.SetDefault("policy.aggregation.cache_ttl", d.Aggregation.CacheTTL)
	v.SetDefault("policy.unlock.threshold", d.Unlock.Threshold)
	v.SetDefault("policy.recommendation.weak_threshold", d.Recommendation.WeakThreshold)
}

func LoadConfig(path string) (*Config, error) {
	// .env 仅用于本地开发，不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("EDUFLEX")
	v.AutomaticEnv()
	setDefaults(v)

	// Database
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "DATABASE_NAME")
	v.BindEnv("database.dsn", "DATABASE_DSN")

	// JWT
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.mode", "SERVER_MODE")

	// Tracing
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	// Policy
	v.BindEnv("policy.scoring.pass_percent", "TEST_PASS_PERCENT")
	v.BindEnv("policy.scoring.max_attempts", "TEST_MAX_ATTEMPTS")
	v.BindEnv("policy.unlock.threshold", "MODULE_UNLOCK_THRESHOLD")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.ConfigFile = v.ConfigFileUsed()
	cfg.JWT.ExpireTime = cfg.JWT.ExpireTime * time.Hour
	cfg.Database.LogLevel = cfg.Log.SQLLevel

	if cfg.Server.Mode == "release" && len(cfg.JWT.Secret) < 32 {
		return nil, fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(cfg.JWT.Secret))
	}

	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	if cfg.Log.File != "" {
		if dir := filepath.Dir(cfg.Log.File); dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				os.MkdirAll(dir, 0755)
			}
		}
	}

	return &cfg, nil
}
