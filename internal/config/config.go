package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Log      LogConfig      `mapstructure:"log"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Feishu   FeishuConfig   `mapstructure:"feishu"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EngineConfig tunes the risk engine and graph traversals.
type EngineConfig struct {
	SweepEnabled         bool          `mapstructure:"sweep_enabled"`
	SweepInterval        time.Duration `mapstructure:"sweep_interval"`
	SweepConcurrency     int           `mapstructure:"sweep_concurrency"`
	SweepLockTTL         time.Duration `mapstructure:"sweep_lock_ttl"`
	OverdueCriticalDays  int           `mapstructure:"overdue_critical_days"`
	BottleneckThreshold  int           `mapstructure:"bottleneck_threshold"`
	CascadeLookaheadDays int           `mapstructure:"cascade_lookahead_days"`
	MaxTraversalNodes    int           `mapstructure:"max_traversal_nodes"`
	MaxTraversalDepth    int           `mapstructure:"max_traversal_depth"`
	ChainMaxDepth        int           `mapstructure:"chain_max_depth"`
	EvaluateOnChange     bool          `mapstructure:"evaluate_on_change"`
}

// SyncConfig tunes the fire-and-forget sync dispatcher.
type SyncConfig struct {
	Workers      int           `mapstructure:"workers"`
	QueueSize    int           `mapstructure:"queue_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type FeishuConfig struct {
	WebhookURL    string `mapstructure:"webhook_url"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	AlertSeverity string `mapstructure:"alert_severity"`
	FeedURL       string `mapstructure:"feed_url"`
}

// Load reads configs/config.yaml (if present) and the environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads the given config file, or the default search path when empty.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVariables(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "ots")
	v.SetDefault("database.dbname", "ots")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "10m")
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("jwt.issuer", "ots")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("engine.sweep_enabled", true)
	v.SetDefault("engine.sweep_interval", "15m")
	v.SetDefault("engine.sweep_concurrency", 4)
	v.SetDefault("engine.sweep_lock_ttl", "10m")
	v.SetDefault("engine.overdue_critical_days", 7)
	v.SetDefault("engine.bottleneck_threshold", 3)
	v.SetDefault("engine.cascade_lookahead_days", 7)
	v.SetDefault("engine.max_traversal_nodes", 5000)
	v.SetDefault("engine.max_traversal_depth", 200)
	v.SetDefault("engine.chain_max_depth", 10)
	v.SetDefault("engine.evaluate_on_change", true)

	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.queue_size", 1024)
	v.SetDefault("sync.max_attempts", 3)
	v.SetDefault("sync.retry_backoff", "200ms")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("feishu.alert_severity", "CRITICAL")
}

func bindEnvVariables(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.mode", "SERVER_MODE")

	// Database
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.sslmode", "DB_SSLMODE")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// JWT
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// Log
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.format", "LOG_FORMAT")

	// Engine
	v.BindEnv("engine.sweep_enabled", "OPS_SWEEP_ENABLED")
	v.BindEnv("engine.sweep_interval", "OPS_SWEEP_INTERVAL")
	v.BindEnv("engine.sweep_concurrency", "OPS_SWEEP_CONCURRENCY")
	v.BindEnv("engine.overdue_critical_days", "OPS_OVERDUE_CRITICAL_DAYS")
	v.BindEnv("engine.bottleneck_threshold", "OPS_BOTTLENECK_THRESHOLD")
	v.BindEnv("engine.cascade_lookahead_days", "OPS_CASCADE_LOOKAHEAD_DAYS")

	// Feishu
	v.BindEnv("feishu.webhook_url", "FEISHU_WEBHOOK_URL")
	v.BindEnv("feishu.webhook_secret", "FEISHU_WEBHOOK_SECRET")
}

// GetEnvOrDefault returns the environment variable or a default.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
