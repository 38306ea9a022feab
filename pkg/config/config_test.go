package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var envVars = []string{
	"PULSAR_NAME",
	"PULSAR_PERIOD_MS",
	"PULSAR_PROBE_MODE",
	"PULSAR_CPU_THRESHOLD",
	"PULSAR_MEMORY_THRESHOLD",
	"PULSAR_DISK_THRESHOLD",
	"PULSAR_TEMPERATURE_THRESHOLD",
	"PULSAR_TELEGRAM_ENABLED",
	"PULSAR_TELEGRAM_TOKEN",
	"TELEGRAM_BOT_TOKEN",
	"PULSAR_TELEGRAM_CHAT_ID",
	"PULSAR_TELEGRAM_ALLOWED_CHAT_ID",
	"PULSAR_TELEGRAM_POLL_TIMEOUT",
	"PULSAR_TELEGRAM_PERSIST_OFFSET",
	"PULSAR_STORE",
	"PULSAR_STORE_DSN",
	"PULSAR_STORE_CAPACITY",
	"PULSAR_HTTP_ADDR",
	"PULSAR_REDIS_URL",
	"REDIS_URL",
	"PULSAR_HEARTBEAT_INTERVAL",
	"PULSAR_LOG_FORMAT",
	"PULSAR_LOG_LEVEL",
}

// clearEnv unsets every key for the duration of the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envVars {
		if val, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, val) })
		}
	}
	t.Cleanup(func() {
		for _, key := range envVars {
			os.Unsetenv(key)
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cfg.Period != time.Second {
		t.Errorf("Expected default period 1s, got %v", cfg.Period)
	}
	if cfg.Thresholds.CPU != 90 || cfg.Thresholds.Memory != 90 || cfg.Thresholds.Disk != 90 {
		t.Errorf("Expected default thresholds of 90, got %+v", cfg.Thresholds)
	}
	if cfg.Telegram.PollTimeout != 10*time.Second {
		t.Errorf("Expected default poll timeout 10s, got %v", cfg.Telegram.PollTimeout)
	}
	if cfg.Store.Driver != StoreMemory {
		t.Errorf("Expected memory store, got %s", cfg.Store.Driver)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("Expected :8080, got %s", cfg.HTTPAddr)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
	if err := cfg.AlertingError(); err != nil {
		t.Errorf("Expected default thresholds to be usable, got %v", err)
	}
	if err := cfg.TelegramError(); err != nil {
		t.Errorf("Expected disabled telegram to be fine, got %v", err)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	os.Setenv("PULSAR_NAME", "edge-1")
	os.Setenv("PULSAR_PERIOD_MS", "500")
	os.Setenv("PULSAR_PROBE_MODE", "COMMAND")
	os.Setenv("PULSAR_CPU_THRESHOLD", "75")
	os.Setenv("PULSAR_MEMORY_THRESHOLD", "80%")
	os.Setenv("PULSAR_TELEGRAM_ENABLED", "true")
	os.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	os.Setenv("PULSAR_TELEGRAM_CHAT_ID", "-100200")
	os.Setenv("PULSAR_TELEGRAM_POLL_TIMEOUT", "25")
	os.Setenv("PULSAR_STORE", "sqlite")
	os.Setenv("PULSAR_STORE_DSN", "/var/lib/pulsar.db")
	os.Setenv("REDIS_URL", "redis://cache:6379")
	os.Setenv("PULSAR_HEARTBEAT_INTERVAL", "5")
	os.Setenv("PULSAR_LOG_FORMAT", "JSON")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cfg.Name != "edge-1" {
		t.Errorf("Expected name edge-1, got %s", cfg.Name)
	}
	if cfg.Period != 500*time.Millisecond {
		t.Errorf("Expected period 500ms, got %v", cfg.Period)
	}
	if cfg.ProbeMode != ProbeCommand {
		t.Errorf("Expected command probe, got %s", cfg.ProbeMode)
	}
	if cfg.Thresholds.CPU != 75 || cfg.Thresholds.Memory != 80 {
		t.Errorf("Expected thresholds 75/80, got %+v", cfg.Thresholds)
	}
	if !cfg.Telegram.Enabled || cfg.Telegram.Token != "123:abc" || cfg.Telegram.ChatID != -100200 {
		t.Errorf("Unexpected telegram config %+v", cfg.Telegram)
	}
	if cfg.Telegram.PollTimeout != 25*time.Second {
		t.Errorf("Expected poll timeout 25s, got %v", cfg.Telegram.PollTimeout)
	}
	if cfg.Store.Driver != StoreSQLite || cfg.Store.DSN != "/var/lib/pulsar.db" {
		t.Errorf("Unexpected store config %+v", cfg.Store)
	}
	if cfg.RedisURL != "redis://cache:6379" {
		t.Errorf("Expected REDIS_URL fallback, got %s", cfg.RedisURL)
	}
	if cfg.HeartbeatInterval != 5*time.Second {
		t.Errorf("Expected heartbeat 5s, got %v", cfg.HeartbeatInterval)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Expected json log format, got %s", cfg.Log.Format)
	}
	if err := cfg.TelegramError(); err != nil {
		t.Errorf("Expected usable telegram config, got %v", err)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "pulsar.yaml")
	content := `
name: from-file
period: 2s
thresholds:
  cpu: 70
  temperature: 85
telegram:
  enabled: true
  token: file-token
  chat_id: 42
  poll_timeout: 20s
store:
  driver: redis
  capacity: 100
redis_url: redis://localhost:6379/1
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	os.Setenv("PULSAR_CPU_THRESHOLD", "95")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cfg.Name != "from-file" {
		t.Errorf("Expected name from file, got %s", cfg.Name)
	}
	if cfg.Period != 2*time.Second {
		t.Errorf("Expected period 2s, got %v", cfg.Period)
	}
	if cfg.Thresholds.CPU != 95 {
		t.Errorf("Expected env to override file threshold, got %v", cfg.Thresholds.CPU)
	}
	if cfg.Thresholds.Memory != 90 {
		t.Errorf("Expected default memory threshold to survive, got %v", cfg.Thresholds.Memory)
	}
	if cfg.Thresholds.Temperature != 85 {
		t.Errorf("Expected temperature 85, got %v", cfg.Thresholds.Temperature)
	}
	if cfg.Telegram.ChatID != 42 || cfg.Telegram.PollTimeout != 20*time.Second {
		t.Errorf("Unexpected telegram config %+v", cfg.Telegram)
	}
	if cfg.Store.Driver != StoreRedis || cfg.Store.Capacity != 100 {
		t.Errorf("Unexpected store config %+v", cfg.Store)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("period: [1, 2"), 0o600)
	_, err := Load(bad)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigError for bad yaml, got %v", err)
	}

	os.Setenv("PULSAR_PERIOD_MS", "fast")
	if _, err := Load(""); !errors.As(err, &cfgErr) || cfgErr.Field != "Period" {
		t.Errorf("Expected Period ConfigError, got %v", err)
	}
}

func TestMalformedThresholdDisablesAlerting(t *testing.T) {
	clearEnv(t)
	os.Setenv("PULSAR_DISK_THRESHOLD", "lots")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Expected load to succeed, got %v", err)
	}
	if !math.IsNaN(cfg.Thresholds.Disk) {
		t.Errorf("Expected NaN threshold, got %v", cfg.Thresholds.Disk)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected sampler config to stay valid, got %v", err)
	}

	var cfgErr *ConfigError
	if err := cfg.AlertingError(); !errors.As(err, &cfgErr) || cfgErr.Field != "Thresholds.Disk" {
		t.Errorf("Expected disk threshold error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero period", func(c *Config) { c.Period = 0 }, "Period"},
		{"bad probe mode", func(c *Config) { c.ProbeMode = "wmi" }, "ProbeMode"},
		{"unknown store", func(c *Config) { c.Store.Driver = "mongo" }, "Store.Driver"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = StorePostgres }, "Store.DSN"},
		{"redis store without url", func(c *Config) { c.Store.Driver = StoreRedis }, "RedisURL"},
		{"negative capacity", func(c *Config) { c.Store.Capacity = -1 }, "Store.Capacity"},
		{"zero heartbeat", func(c *Config) {
			c.RedisURL = "redis://localhost:6379"
			c.HeartbeatInterval = 0
		}, "HeartbeatInterval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}

			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Expected ConfigError, got %v", err)
			}
			if cfgErr.Field != tt.wantErr {
				t.Errorf("Expected field %s, got %s", tt.wantErr, cfgErr.Field)
			}
		})
	}
}

func TestAlertingError(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Thresholds)
		wantErr bool
	}{
		{"defaults", func(th *Thresholds) {}, false},
		{"boundary 100", func(th *Thresholds) { th.CPU = 100 }, false},
		{"above 100", func(th *Thresholds) { th.Memory = 101 }, true},
		{"zero", func(th *Thresholds) { th.Disk = 0 }, true},
		{"temperature enabled", func(th *Thresholds) { th.Temperature = 80 }, false},
		{"temperature too hot", func(th *Thresholds) { th.Temperature = 200 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg.Thresholds)
			if err := cfg.AlertingError(); (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestTelegramError(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*TelegramConfig)
		wantField string
	}{
		{"disabled", func(tc *TelegramConfig) { tc.Enabled = false }, ""},
		{"valid", func(tc *TelegramConfig) {}, ""},
		{"missing token", func(tc *TelegramConfig) { tc.Token = "" }, "Telegram.Token"},
		{"missing chat", func(tc *TelegramConfig) { tc.ChatID = 0 }, "Telegram.ChatID"},
		{"poll timeout too long", func(tc *TelegramConfig) { tc.PollTimeout = time.Minute }, "Telegram.PollTimeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Telegram.Enabled = true
			cfg.Telegram.Token = "t"
			cfg.Telegram.ChatID = 1
			tt.modify(&cfg.Telegram)

			err := cfg.TelegramError()
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) || cfgErr.Field != tt.wantField {
				t.Errorf("Expected %s error, got %v", tt.wantField, err)
			}
		})
	}
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{Field: "Telegram.Token", Message: "bot token is required"}

	expected := "config error: Telegram.Token: bot token is required"
	if err.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, err.Error())
	}
}
