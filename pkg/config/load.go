package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ConfigPathEnv names the env var that points at an optional YAML file.
const ConfigPathEnv = "TRAFFICWATCH_CONFIG"

// Config is the runtime configuration. Values are layered: defaults, then
// the YAML file, then environment variables.
type Config struct {
	AppName  string `yaml:"app_name" envconfig:"APP_NAME"`
	Env      string `yaml:"env" envconfig:"APP_ENV"`
	Port     string `yaml:"port" envconfig:"PORT"`
	Timezone string `yaml:"timezone" envconfig:"TIMEZONE"`
	LogLevel string `yaml:"log_level" envconfig:"LOG_LEVEL"`

	Storage   StorageConfig   `yaml:"storage" envconfig:"STORAGE"`
	Upstream  UpstreamConfig  `yaml:"upstream" envconfig:"UPSTREAM"`
	Notifier  NotifierConfig  `yaml:"notifier" envconfig:"NOTIFIER"`
	Scheduler SchedulerConfig `yaml:"scheduler" envconfig:"SCHEDULER"`

	RetentionDays int `yaml:"retention_days" envconfig:"RETENTION_DAYS"`

	location *time.Location
}

// StorageConfig selects and configures the Store backend.
type StorageConfig struct {
	Backend     string `yaml:"backend" envconfig:"BACKEND"` // memory, badger, sqlite, postgres
	BadgerPath  string `yaml:"badger_path" envconfig:"BADGER_PATH"`
	MaxMemoryMB int64  `yaml:"max_memory_mb" envconfig:"MAX_MEMORY_MB"`
	MaxDiskMB   int64  `yaml:"max_disk_mb" envconfig:"MAX_DISK_MB"`
	SQLitePath  string `yaml:"sqlite_path" envconfig:"SQLITE_PATH"`
	PostgresDSN string `yaml:"postgres_dsn" envconfig:"POSTGRES_DSN"`
	MaxConns    int32  `yaml:"max_conns" envconfig:"MAX_CONNS"`
}

// UpstreamConfig points at the camera API.
type UpstreamConfig struct {
	BaseURL string        `yaml:"base_url" envconfig:"BASE_URL"`
	APIKey  string        `yaml:"api_key" envconfig:"API_KEY"`
	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// NotifierConfig selects where anomalies are published.
type NotifierConfig struct {
	Kind         string `yaml:"kind" envconfig:"KIND"` // none, redis, mqtt
	RedisAddr    string `yaml:"redis_addr" envconfig:"REDIS_ADDR"`
	RedisChannel string `yaml:"redis_channel" envconfig:"REDIS_CHANNEL"`
	MQTTBroker   string `yaml:"mqtt_broker" envconfig:"MQTT_BROKER"`
	MQTTTopic    string `yaml:"mqtt_topic" envconfig:"MQTT_TOPIC"`
	MQTTClientID string `yaml:"mqtt_client_id" envconfig:"MQTT_CLIENT_ID"`
}

// SchedulerConfig controls the in-process tick loop.
type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled" envconfig:"ENABLED"`
	Interval time.Duration `yaml:"interval" envconfig:"INTERVAL"`
}

var (
	ErrUnknownBackend  = errors.New("unknown storage backend")
	ErrUnknownNotifier = errors.New("unknown notifier kind")
	ErrMissingSetting  = errors.New("missing required setting")
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		AppName:  DefaultAppName,
		Env:      "development",
		Port:     DefaultPort,
		Timezone: DefaultTimezone,
		LogLevel: "info",
		Storage: StorageConfig{
			Backend:     DefaultStorageBackend,
			BadgerPath:  DefaultBadgerPath,
			MaxMemoryMB: DefaultMaxMemoryMB,
			MaxDiskMB:   DefaultMaxDiskMB,
			SQLitePath:  DefaultSQLitePath,
		},
		Upstream: UpstreamConfig{
			Timeout: DefaultUpstreamTimeout,
		},
		Notifier: NotifierConfig{
			Kind:         DefaultNotifierKind,
			RedisChannel: DefaultRedisChannel,
			MQTTTopic:    DefaultMQTTTopic,
			MQTTClientID: DefaultMQTTClientID,
		},
		Scheduler: SchedulerConfig{
			Interval: TickInterval,
		},
		RetentionDays: DefaultRetentionDays,
	}
}

// Load reads an optional .env file, the YAML file named by TRAFFICWATCH_CONFIG,
// and environment overrides, then validates the result.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg := Default()

	if path := os.Getenv(ConfigPathEnv); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error environment variable parsing: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks enumerations and resolves the timezone.
func (c *Config) Validate() error {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	c.location = loc

	switch c.Storage.Backend {
	case "memory", "badger", "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("%w: STORAGE_POSTGRES_DSN for postgres backend", ErrMissingSetting)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Storage.Backend)
	}

	switch c.Notifier.Kind {
	case "", "none":
	case "redis":
		if c.Notifier.RedisAddr == "" {
			return fmt.Errorf("%w: NOTIFIER_REDIS_ADDR for redis notifier", ErrMissingSetting)
		}
	case "mqtt":
		if c.Notifier.MQTTBroker == "" {
			return fmt.Errorf("%w: NOTIFIER_MQTT_BROKER for mqtt notifier", ErrMissingSetting)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownNotifier, c.Notifier.Kind)
	}

	if c.Upstream.Timeout <= 0 {
		c.Upstream.Timeout = DefaultUpstreamTimeout
	}
	if c.Scheduler.Interval <= 0 {
		c.Scheduler.Interval = TickInterval
	}
	if c.RetentionDays < MinRetentionDays {
		c.RetentionDays = DefaultRetentionDays
	}
	return nil
}

// Location returns the configured timezone, UTC before Validate has run.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}
