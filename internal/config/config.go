package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"PluginHub/internal/auth"
	"PluginHub/internal/registry"
	mysqlstore "PluginHub/internal/storage/mysql"
	redisstore "PluginHub/internal/storage/redis"
	"PluginHub/internal/task"
	"PluginHub/pkg/logger"
)

// EnvConfigPath 是未指定 --config 时读取的环境变量。
const EnvConfigPath = "PLUGINHUB_CONFIG"

// 存储驱动。
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageMySQL  = "mysql"
)

// 队列驱动。
const (
	QueueMemory   = "memory"
	QueueRedis    = "redis"
	QueueRabbitMQ = "rabbitmq"
)

// Config 是 pluginhubd 配置文件的根结构。
type Config struct {
	Server       ServerConfig          `yaml:"server"`
	Storage      StorageConfig         `yaml:"storage"`
	Sandbox      SandboxConfig         `yaml:"sandbox"`
	Capabilities registry.Capabilities `yaml:"capabilities"`
	Reconcile    ReconcileConfig       `yaml:"reconcile"`
	Reload       ReloadConfig          `yaml:"reload"`
	Queue        QueueConfig           `yaml:"queue"`
	Logging      logger.Config         `yaml:"logging"`
	Metrics      MetricsConfig         `yaml:"metrics"`
	Alerting     AlertingConfig        `yaml:"alerting"`
	Auth         auth.Config           `yaml:"auth"`
}

// ServerConfig 控制 HTTP API 监听。
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// StorageConfig 选择快照来源。
type StorageConfig struct {
	Driver string            `yaml:"driver"`
	File   FileStorageConfig `yaml:"file"`
	MySQL  mysqlstore.Config `yaml:"mysql"`
}

// FileStorageConfig 指向 YAML 格式的快照文件。
type FileStorageConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// SandboxConfig 指定插件沙箱策略文件。
type SandboxConfig struct {
	Path string `yaml:"path"`
}

// ReconcileConfig 调整协调引擎参数。
type ReconcileConfig struct {
	Interval        time.Duration `yaml:"interval"`
	LoadConcurrency int           `yaml:"loadConcurrency"`
	TeardownWorkers int           `yaml:"teardownWorkers"`
	TeardownTimeout time.Duration `yaml:"teardownTimeout"`
}

// ReloadConfig 启用 Redis 重载频道。
type ReloadConfig struct {
	Enabled bool              `yaml:"enabled"`
	Redis   redisstore.Config `yaml:"redis"`
}

// QueueConfig 选择定时任务队列。
type QueueConfig struct {
	Driver     string                `yaml:"driver"`
	Workers    int                   `yaml:"workers"`
	JobTimeout time.Duration         `yaml:"jobTimeout"`
	BufferSize int                   `yaml:"bufferSize"`
	Redis      task.RedisQueueConfig `yaml:"redis"`
	RabbitMQ   task.RabbitMQConfig   `yaml:"rabbitmq"`
}

// MetricsConfig 控制独立的 Prometheus 监听地址，Address 为空时指标仅在 API 端口提供。
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// AlertingConfig 配置告警渠道，日志渠道始终开启。
type AlertingConfig struct {
	SlackWebhookURL string `yaml:"slackWebhookURL"`
	SlackChannel    string `yaml:"slackChannel"`
}

// ResolvePath 优先使用命令行参数，其次使用环境变量。
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(EnvConfigPath)
}

// Load 解析 path 指向的 YAML 文件，path 为空时返回默认配置。
func Load(path string) (*Config, error) {
	var cfg Config
	baseDir := "."
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		baseDir = filepath.Dir(path)
	}

	cfg.applyEnv()
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv 允许通过环境变量覆盖敏感配置。
func (c *Config) applyEnv() {
	if v := os.Getenv("PLUGINHUB_MYSQL_DSN"); v != "" {
		c.Storage.MySQL.DSN = v
	}
	if v := os.Getenv("PLUGINHUB_REDIS_ADDRESS"); v != "" {
		c.Reload.Redis.Address = v
		if c.Queue.Redis.Address == "" {
			c.Queue.Redis.Address = v
		}
	}
	if v := os.Getenv("PLUGINHUB_API_TOKEN"); v != "" {
		c.Auth.Mode = auth.ModeToken
		c.Auth.Tokens = append(c.Auth.Tokens, auth.TokenConfig{Name: "env", Token: v, Permissions: []string{"*"}})
	}
	if v := os.Getenv("PLUGINHUB_SLACK_WEBHOOK"); v != "" {
		c.Alerting.SlackWebhookURL = v
	}
}

func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageMemory
	}
	c.Storage.File.Path = resolve(baseDir, c.Storage.File.Path)
	c.Sandbox.Path = resolve(baseDir, c.Sandbox.Path)

	if c.Reconcile.Interval == 0 {
		c.Reconcile.Interval = 5 * time.Minute
	}
	if c.Reconcile.TeardownWorkers <= 0 {
		c.Reconcile.TeardownWorkers = 4
	}
	if c.Reconcile.TeardownTimeout <= 0 {
		c.Reconcile.TeardownTimeout = time.Minute
	}

	if c.Reload.Redis.Channel == "" {
		c.Reload.Redis.Channel = redisstore.DefaultReloadChannel
	}

	c.Queue.Driver = strings.ToLower(strings.TrimSpace(c.Queue.Driver))
	if c.Queue.Driver == "" {
		c.Queue.Driver = QueueMemory
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.JobTimeout <= 0 {
		c.Queue.JobTimeout = 30 * time.Second
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = auth.ModeDisabled
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Path != "" {
		c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path)
	}
}

// Validate 检查相互冲突的配置项。
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case StorageMemory:
	case StorageFile:
		if c.Storage.File.Path == "" {
			errs = append(errs, errors.New("storage.file.path is required for the file driver"))
		}
	case StorageMySQL:
		if c.Storage.MySQL.DSN == "" {
			errs = append(errs, errors.New("storage.mysql.dsn is required for the mysql driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	switch c.Queue.Driver {
	case QueueMemory:
	case QueueRedis:
		if c.Queue.Redis.Address == "" {
			errs = append(errs, errors.New("queue.redis.address is required for the redis driver"))
		}
	case QueueRabbitMQ:
		if c.Queue.RabbitMQ.URL == "" {
			errs = append(errs, errors.New("queue.rabbitmq.url is required for the rabbitmq driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown queue driver %q", c.Queue.Driver))
	}

	if c.Reload.Enabled && c.Reload.Redis.Address == "" {
		errs = append(errs, errors.New("reload.redis.address is required when reload is enabled"))
	}
	if c.Reconcile.Interval < 0 {
		errs = append(errs, errors.New("reconcile.interval cannot be negative"))
	}
	return errors.Join(errs...)
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
