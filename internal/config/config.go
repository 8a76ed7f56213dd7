package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Type           string `yaml:"type" envconfig:"SDESK_DATABASE_TYPE"`
	URL            string `yaml:"url" envconfig:"SDESK_DATABASE_URL"`
	SQLiteFile     string `yaml:"sqlite_file" envconfig:"SDESK_DATABASE_SQLITE_FILE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"SDESK_DATABASE_MAX_CONNECTIONS"`
}

// EngineConfig tunes the recovery layer's background workers. Interval and
// delay fields are duration strings ("30s", "10m") validated at load time.
type EngineConfig struct {
	StuckAfterHours        int     `yaml:"stuck_after_hours" envconfig:"SDESK_ENGINE_STUCK_AFTER_HOURS"`
	StuckScanInterval      string  `yaml:"stuck_scan_interval" envconfig:"SDESK_ENGINE_STUCK_SCAN_INTERVAL"`
	RetryPollInterval      string  `yaml:"retry_poll_interval" envconfig:"SDESK_ENGINE_RETRY_POLL_INTERVAL"`
	RetryBaseDelay         string  `yaml:"retry_base_delay" envconfig:"SDESK_ENGINE_RETRY_BASE_DELAY"`
	RetryBackoffMultiplier float64 `yaml:"retry_backoff_multiplier" envconfig:"SDESK_ENGINE_RETRY_BACKOFF_MULTIPLIER"`
	RetryMaxDelay          string  `yaml:"retry_max_delay" envconfig:"SDESK_ENGINE_RETRY_MAX_DELAY"`
	RetryMaxAttempts       int     `yaml:"retry_max_attempts" envconfig:"SDESK_ENGINE_RETRY_MAX_ATTEMPTS"`
	ReconcileInterval      string  `yaml:"reconcile_interval" envconfig:"SDESK_ENGINE_RECONCILE_INTERVAL"`
}

// TelegramConfig holds the assignment-notification channel. An empty token
// disables Telegram delivery entirely.
type TelegramConfig struct {
	Token       string           `yaml:"token" envconfig:"SDESK_TELEGRAM_TOKEN"`
	AdminChatID int64            `yaml:"admin_chat_id" envconfig:"SDESK_TELEGRAM_ADMIN_CHAT_ID"`
	RoleChats   map[string]int64 `yaml:"role_chats"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" envconfig:"SDESK_HTTP_ADDR"`
}

type LoggingConfig struct {
	Level string `yaml:"level" envconfig:"SDESK_LOG_LEVEL"`
}

// Config aggregates all service configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Engine   EngineConfig   `yaml:"engine"`
	Telegram TelegramConfig `yaml:"telegram"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// Load reads configuration from an optional YAML file, overlays environment
// variables, applies defaults, and validates.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

const (
	defaultStuckScanInterval = "10m"
	defaultRetryPollInterval = "15s"
	defaultRetryBaseDelay    = "30s"
	defaultRetryMaxDelay     = "1h"
	defaultReconcileInterval = "1h"
)

// Normalize fills defaults and validates required fields.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	cfg.Database.Type = strings.ToUpper(strings.TrimSpace(cfg.Database.Type))
	switch cfg.Database.Type {
	case "POSTGRES", "MYSQL":
		if cfg.Database.URL == "" {
			return fmt.Errorf("database.url is required for database.type %s", cfg.Database.Type)
		}
	case "SQLLITE":
		if cfg.Database.SQLiteFile == "" {
			cfg.Database.SQLiteFile = "./servicedesk.db"
		}
	default:
		return fmt.Errorf("invalid database.type %q; allowed: POSTGRES, MYSQL, SQLLITE", cfg.Database.Type)
	}
	if cfg.Database.MaxConnections <= 0 {
		cfg.Database.MaxConnections = 10
	}

	e := &cfg.Engine
	if e.StuckAfterHours <= 0 {
		e.StuckAfterHours = 24
	}
	if e.RetryBackoffMultiplier <= 0 {
		e.RetryBackoffMultiplier = 2.0
	}
	if e.RetryMaxAttempts <= 0 {
		e.RetryMaxAttempts = 5
	}
	for _, d := range []struct {
		name  string
		value *string
		def   string
	}{
		{"engine.stuck_scan_interval", &e.StuckScanInterval, defaultStuckScanInterval},
		{"engine.retry_poll_interval", &e.RetryPollInterval, defaultRetryPollInterval},
		{"engine.retry_base_delay", &e.RetryBaseDelay, defaultRetryBaseDelay},
		{"engine.retry_max_delay", &e.RetryMaxDelay, defaultRetryMaxDelay},
		{"engine.reconcile_interval", &e.ReconcileInterval, defaultReconcileInterval},
	} {
		if *d.value == "" {
			*d.value = d.def
		}
		if _, err := time.ParseDuration(*d.value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, *d.value, err)
		}
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	return nil
}

func durationOr(s, def string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	d, _ := time.ParseDuration(def)
	return d
}

// Duration accessors. Normalize validates these fields; on an unnormalized
// Config each accessor falls back to the same default Normalize would apply.

func (e EngineConfig) StuckThreshold() time.Duration {
	return time.Duration(e.StuckAfterHours) * time.Hour
}
func (e EngineConfig) StuckScan() time.Duration {
	return durationOr(e.StuckScanInterval, defaultStuckScanInterval)
}
func (e EngineConfig) RetryPoll() time.Duration {
	return durationOr(e.RetryPollInterval, defaultRetryPollInterval)
}
func (e EngineConfig) RetryBase() time.Duration {
	return durationOr(e.RetryBaseDelay, defaultRetryBaseDelay)
}
func (e EngineConfig) RetryMax() time.Duration {
	return durationOr(e.RetryMaxDelay, defaultRetryMaxDelay)
}
func (e EngineConfig) Reconcile() time.Duration {
	return durationOr(e.ReconcileInterval, defaultReconcileInterval)
}
