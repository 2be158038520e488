package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Story    StoryConfig    `mapstructure:"story"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Sentry   SentryConfig   `mapstructure:"sentry"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
	// CORSOrigins 为空时允许所有来源
	CORSOrigins []string `mapstructure:"cors_origins"`
	// WriteRPS 单用户写接口每秒请求数
	WriteRPS float64 `mapstructure:"write_rps"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres | sqlite
	DSN    string `mapstructure:"dsn"`
	// MaxOpenConns 仅对 postgres 生效
	MaxOpenConns int `mapstructure:"max_open_conns"`
	MaxIdleConns int `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type StorageConfig struct {
	Driver  string `mapstructure:"driver"` // local | gdrive
	Root    string `mapstructure:"root"`
	BaseURL string `mapstructure:"base_url"`

	GDriveCredentialsFile string `mapstructure:"gdrive_credentials_file"`
	GDriveFolderID        string `mapstructure:"gdrive_folder_id"`
}

// StoryConfig 快拍业务参数
type StoryConfig struct {
	DefaultDurationHours int           `mapstructure:"default_duration_hours"`
	MaxUploadBytes       int64         `mapstructure:"max_upload_bytes"`
	UploadAttempts       int           `mapstructure:"upload_attempts"`
	RetryBaseDelay       time.Duration `mapstructure:"retry_base_delay"`
	CacheTTL             time.Duration `mapstructure:"cache_ttl"`
	CacheSweepInterval   time.Duration `mapstructure:"cache_sweep_interval"`
	PreloadConcurrency   int           `mapstructure:"preload_concurrency"`
	UpdateDebounce       time.Duration `mapstructure:"update_debounce"`
	ArchiveInterval      time.Duration `mapstructure:"archive_interval"`
	RelayWorkers         int           `mapstructure:"relay_workers"`
	RelayPollInterval    time.Duration `mapstructure:"relay_poll_interval"`
}

type RealtimeConfig struct {
	Driver     string `mapstructure:"driver"` // redis | mqtt
	MQTTBroker string `mapstructure:"mqtt_broker"`
	ClientID   string `mapstructure:"client_id"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

// Load 读取 config.yaml（可选）并叠加 STORY_ 前缀的环境变量
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom 从指定文件加载配置；path 为空时按默认路径查找
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("STORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.write_rps", 2.0)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=stories port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("jwt.secret", "change-me")

	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.root", "./data/media")
	v.SetDefault("storage.base_url", "http://localhost:8080/media")
	v.SetDefault("storage.gdrive_credentials_file", "")
	v.SetDefault("storage.gdrive_folder_id", "")

	v.SetDefault("story.default_duration_hours", 24)
	v.SetDefault("story.max_upload_bytes", int64(100*1024*1024))
	v.SetDefault("story.upload_attempts", 3)
	v.SetDefault("story.retry_base_delay", time.Second)
	v.SetDefault("story.cache_ttl", 5*time.Minute)
	v.SetDefault("story.cache_sweep_interval", time.Minute)
	v.SetDefault("story.preload_concurrency", 3)
	v.SetDefault("story.update_debounce", 500*time.Millisecond)
	v.SetDefault("story.archive_interval", 5*time.Minute)
	v.SetDefault("story.relay_workers", 4)
	v.SetDefault("story.relay_poll_interval", 50*time.Millisecond)

	v.SetDefault("realtime.driver", "redis")
	v.SetDefault("realtime.mqtt_broker", "localhost:1883")
	v.SetDefault("realtime.client_id", "storyd")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "storyline")
	v.SetDefault("tracing.sample_ratio", 1.0)

	// 未设置 key 时环境变量不会生效，这里给出空默认值
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "development")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Storage.Driver {
	case "local", "gdrive":
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	switch c.Realtime.Driver {
	case "redis", "mqtt":
	default:
		return fmt.Errorf("unsupported realtime driver %q", c.Realtime.Driver)
	}
	if c.Story.UploadAttempts < 1 {
		return fmt.Errorf("story.upload_attempts must be >= 1")
	}
	return nil
}
