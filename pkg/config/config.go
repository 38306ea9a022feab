// Package config handles configuration loading from environment variables and files.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Probe modes
const (
	ProbeGopsutil = "gopsutil"
	ProbeCommand  = "command"
)

// Store drivers
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config holds all configuration for the pulsar daemon.
// It is a value fixed at startup; reloading produces a new Config.
type Config struct {
	// Optional: custom node name (defaults to hostname)
	Name string `yaml:"name"`

	// Sampling
	Period       time.Duration `yaml:"period"`        // Tick period (default: 1s)
	ProbeMode    string        `yaml:"probe_mode"`    // gopsutil or command
	ProbeTimeout time.Duration `yaml:"probe_timeout"` // Bound on one probe (default: 2s)

	Thresholds Thresholds     `yaml:"thresholds"`
	Telegram   TelegramConfig `yaml:"telegram"`
	Store      StoreConfig    `yaml:"store"`

	// HTTP status surface, empty disables it
	HTTPAddr string `yaml:"http_addr"`

	// Redis for heartbeats, the redis store and the command offset; empty disables them
	RedisURL          string        `yaml:"redis_url"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // default: 10s

	Log LogConfig `yaml:"log"`
}

// Thresholds are alert levels in percent; Temperature is °C and 0 disables it
type Thresholds struct {
	CPU         float64 `yaml:"cpu"`
	Memory      float64 `yaml:"memory"`
	Disk        float64 `yaml:"disk"`
	Temperature float64 `yaml:"temperature"`
}

// TelegramConfig configures the messaging channel
type TelegramConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Token         string        `yaml:"token"`
	ChatID        int64         `yaml:"chat_id"`
	AllowedChatID int64         `yaml:"allowed_chat_id"` // 0 accepts commands from any chat
	PollTimeout   time.Duration `yaml:"poll_timeout"`    // server-side long-poll wait
	BaseURL       string        `yaml:"base_url"`
	PersistOffset bool          `yaml:"persist_offset"` // keep the cursor in redis
}

// StoreConfig selects the sample store
type StoreConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Capacity int    `yaml:"capacity"` // memory and redis only, 0 = unbounded
}

// LogConfig selects the log handler
type LogConfig struct {
	Format string `yaml:"format"` // text or json
	Level  string `yaml:"level"`  // debug, info, warn, error
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Period:       time.Second,
		ProbeMode:    ProbeGopsutil,
		ProbeTimeout: 2 * time.Second,
		Thresholds: Thresholds{
			CPU:    90,
			Memory: 90,
			Disk:   90,
		},
		Telegram: TelegramConfig{
			PollTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver:   StoreMemory,
			Capacity: 86400,
		},
		HTTPAddr:          ":8080",
		HeartbeatInterval: 10 * time.Second,
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// Load reads the optional YAML file at path, then applies environment overrides
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigError{Field: "file", Message: fmt.Sprintf("parse %s: %v", path, err)}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PULSAR_NAME"); v != "" {
		cfg.Name = v
	}

	if v := os.Getenv("PULSAR_PERIOD_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Field: "Period", Message: "PULSAR_PERIOD_MS must be an integer"}
		}
		cfg.Period = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("PULSAR_PROBE_MODE"); v != "" {
		cfg.ProbeMode = strings.ToLower(v)
	}

	// A malformed threshold becomes NaN so AlertingError can disable alerting
	// instead of failing startup
	envThreshold("PULSAR_CPU_THRESHOLD", &cfg.Thresholds.CPU)
	envThreshold("PULSAR_MEMORY_THRESHOLD", &cfg.Thresholds.Memory)
	envThreshold("PULSAR_DISK_THRESHOLD", &cfg.Thresholds.Disk)
	envThreshold("PULSAR_TEMPERATURE_THRESHOLD", &cfg.Thresholds.Temperature)

	if v := os.Getenv("PULSAR_TELEGRAM_ENABLED"); v != "" {
		cfg.Telegram.Enabled = parseBool(v)
	}
	if v := os.Getenv("PULSAR_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	} else if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		// Common convention
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("PULSAR_TELEGRAM_CHAT_ID"); v != "" {
		// Unparseable ids leave 0, which TelegramError reports
		cfg.Telegram.ChatID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := os.Getenv("PULSAR_TELEGRAM_ALLOWED_CHAT_ID"); v != "" {
		cfg.Telegram.AllowedChatID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := os.Getenv("PULSAR_TELEGRAM_POLL_TIMEOUT"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			cfg.Telegram.PollTimeout = time.Duration(seconds) * time.Second
		}
	}
	if v := os.Getenv("PULSAR_TELEGRAM_PERSIST_OFFSET"); v != "" {
		cfg.Telegram.PersistOffset = parseBool(v)
	}

	if v := os.Getenv("PULSAR_STORE"); v != "" {
		cfg.Store.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("PULSAR_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("PULSAR_STORE_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Field: "Store.Capacity", Message: "PULSAR_STORE_CAPACITY must be an integer"}
		}
		cfg.Store.Capacity = n
	}

	if v, ok := os.LookupEnv("PULSAR_HTTP_ADDR"); ok {
		cfg.HTTPAddr = v
	}

	if v := os.Getenv("PULSAR_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		// Common convention
		cfg.RedisURL = v
	}
	if v := os.Getenv("PULSAR_HEARTBEAT_INTERVAL"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			cfg.HeartbeatInterval = time.Duration(seconds) * time.Second
		}
	}

	if v := os.Getenv("PULSAR_LOG_FORMAT"); v != "" {
		cfg.Log.Format = strings.ToLower(v)
	}
	if v := os.Getenv("PULSAR_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	return nil
}

func envThreshold(key string, dst *float64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v), "%"), 64)
	if err != nil {
		*dst = math.NaN()
		return
	}
	*dst = f
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Validate checks the settings the daemon cannot run without.
// Alerting and messaging problems are reported separately by AlertingError
// and TelegramError so they disable only their own feature.
func (c *Config) Validate() error {
	if c.Period <= 0 {
		return &ConfigError{Field: "Period", Message: "sampling period must be positive"}
	}
	if c.ProbeTimeout <= 0 {
		return &ConfigError{Field: "ProbeTimeout", Message: "probe timeout must be positive"}
	}
	switch c.ProbeMode {
	case ProbeGopsutil, ProbeCommand:
	default:
		return &ConfigError{Field: "ProbeMode", Message: fmt.Sprintf("unknown probe mode %q (use gopsutil or command)", c.ProbeMode)}
	}

	switch c.Store.Driver {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.Store.DSN == "" {
			return &ConfigError{Field: "Store.DSN", Message: "postgres store requires a DSN (set PULSAR_STORE_DSN)"}
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return &ConfigError{Field: "RedisURL", Message: "redis store requires a redis URL (set PULSAR_REDIS_URL)"}
		}
	default:
		return &ConfigError{Field: "Store.Driver", Message: fmt.Sprintf("unknown store %q", c.Store.Driver)}
	}
	if c.Store.Capacity < 0 {
		return &ConfigError{Field: "Store.Capacity", Message: "capacity cannot be negative"}
	}

	if c.RedisURL != "" && c.HeartbeatInterval <= 0 {
		return &ConfigError{Field: "HeartbeatInterval", Message: "heartbeat interval must be positive"}
	}
	return nil
}

// AlertingError reports why alerting cannot run, nil if the thresholds are usable
func (c *Config) AlertingError() error {
	checks := []struct {
		field string
		value float64
	}{
		{"Thresholds.CPU", c.Thresholds.CPU},
		{"Thresholds.Memory", c.Thresholds.Memory},
		{"Thresholds.Disk", c.Thresholds.Disk},
	}
	for _, ch := range checks {
		if math.IsNaN(ch.value) || ch.value <= 0 || ch.value > 100 {
			return &ConfigError{Field: ch.field, Message: "threshold must be a percentage in (0, 100]"}
		}
	}

	t := c.Thresholds.Temperature
	if math.IsNaN(t) || t < 0 || t > 150 {
		return &ConfigError{Field: "Thresholds.Temperature", Message: "temperature threshold must be in [0, 150] °C"}
	}
	return nil
}

// TelegramError reports why messaging cannot run; nil when it is disabled or usable
func (c *Config) TelegramError() error {
	if !c.Telegram.Enabled {
		return nil
	}
	if c.Telegram.Token == "" {
		return &ConfigError{Field: "Telegram.Token", Message: "bot token is required (set PULSAR_TELEGRAM_TOKEN)"}
	}
	if c.Telegram.ChatID == 0 {
		return &ConfigError{Field: "Telegram.ChatID", Message: "chat id is required (set PULSAR_TELEGRAM_CHAT_ID)"}
	}
	if c.Telegram.PollTimeout < time.Second || c.Telegram.PollTimeout > 50*time.Second {
		return &ConfigError{Field: "Telegram.PollTimeout", Message: "poll timeout must be between 1s and 50s"}
	}
	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + ": " + e.Message
}
