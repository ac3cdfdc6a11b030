package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 8000
	DefaultBufSize        = 100
	DefaultStoreMaxUsers  = 10000
	DefaultSweepSchedule  = "0 0 0 * * *"
	DefaultPlanRetention  = "36h"
	DefaultTelegramMode   = TelegramModePolling
	DefaultTelegramPath   = "/api/telegram/webhook"
	DefaultIngestPath     = "/api/webhook/outlook"
	DefaultAPIKeyHeader   = "X-API-Key"
	TelegramModePolling   = "polling"
	TelegramModeWebhook   = "webhook"
	StoreDriverMemory     = "memory"
	StoreDriverSQLite     = "sqlite"
	configDirName         = ".dayplan"
	defaultConfigFileName = "config.json"
	dataDirName           = "data"
	defaultDBFileName     = "dayplan.db"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Webhook  WebhookConfig  `json:"webhook" yaml:"webhook"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Sweep    SweepConfig    `json:"sweep" yaml:"sweep"`
}

type TelegramConfig struct {
	Token     string   `json:"token" yaml:"token"`
	AllowFrom []string `json:"allowFrom" yaml:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty" yaml:"proxy,omitempty"`
	// Mode is "polling" (default) or "webhook". In webhook mode updates arrive
	// on the webhook server and WebhookURL is registered with Telegram.
	Mode       string `json:"mode" yaml:"mode"`
	WebhookURL string `json:"webhookUrl,omitempty" yaml:"webhookUrl,omitempty"`
}

// WebhookConfig is the HTTP server receiving calendar pushes.
type WebhookConfig struct {
	Host   string `json:"host" yaml:"host"`
	Port   int    `json:"port" yaml:"port"`
	APIKey string `json:"apiKey" yaml:"apiKey"`
}

type StoreConfig struct {
	Driver   string `json:"driver" yaml:"driver"` // "memory" (default) or "sqlite"
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	MaxUsers int    `json:"maxUsers,omitempty" yaml:"maxUsers,omitempty"`
}

// SweepConfig controls the job that drops stale cached plans.
type SweepConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Schedule  string `json:"schedule" yaml:"schedule"`
	Retention string `json:"retention" yaml:"retention"`
}

// RetentionDuration parses Retention, falling back to DefaultPlanRetention.
func (s SweepConfig) RetentionDuration() time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(s.Retention)); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(DefaultPlanRetention)
	return d
}

// DBPath is the SQLite file to use, defaulting to data/dayplan.db under
// ConfigDir.
func (s StoreConfig) DBPath() string {
	if p := strings.TrimSpace(s.Path); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), dataDirName, defaultDBFileName)
}

func DefaultConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{
			Mode: DefaultTelegramMode,
		},
		Webhook: WebhookConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Store: StoreConfig{
			Driver:   StoreDriverMemory,
			MaxUsers: DefaultStoreMaxUsers,
		},
		Sweep: SweepConfig{
			Enabled:   true,
			Schedule:  DefaultSweepSchedule,
			Retention: DefaultPlanRetention,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, configDirName)
}

// ConfigPath honours DAYPLAN_CONFIG, which may point at a .json or .yaml file.
func ConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("DAYPLAN_CONFIG")); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), defaultConfigFileName)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()
	path := ConfigPath()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if isYAML(path) {
			err = yaml.Unmarshal(data, cfg)
		} else {
			err = json.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if token := os.Getenv("DAYPLAN_TELEGRAM_TOKEN"); token != "" {
		cfg.Telegram.Token = token
	}
	if mode := os.Getenv("DAYPLAN_TELEGRAM_MODE"); mode != "" {
		cfg.Telegram.Mode = mode
	}
	if url := os.Getenv("DAYPLAN_TELEGRAM_WEBHOOK_URL"); url != "" {
		cfg.Telegram.WebhookURL = url
	}
	if key := os.Getenv("DAYPLAN_API_KEY"); key != "" {
		cfg.Webhook.APIKey = key
	}
	if port := os.Getenv("DAYPLAN_WEBHOOK_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Webhook.Port = parsed
		}
	}
	if driver := os.Getenv("DAYPLAN_STORE_DRIVER"); driver != "" {
		cfg.Store.Driver = driver
	}
	if path := os.Getenv("DAYPLAN_STORE_PATH"); path != "" {
		cfg.Store.Path = path
	}
	if maxUsers := os.Getenv("DAYPLAN_STORE_MAX_USERS"); maxUsers != "" {
		if parsed, err := strconv.Atoi(maxUsers); err == nil {
			cfg.Store.MaxUsers = parsed
		}
	}

	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.Telegram.Mode = strings.ToLower(strings.TrimSpace(c.Telegram.Mode))
	if c.Telegram.Mode == "" {
		c.Telegram.Mode = DefaultTelegramMode
	}
	if c.Webhook.Host == "" {
		c.Webhook.Host = DefaultHost
	}
	if c.Webhook.Port == 0 {
		c.Webhook.Port = DefaultPort
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreDriverMemory
	}
	if c.Store.MaxUsers <= 0 {
		c.Store.MaxUsers = DefaultStoreMaxUsers
	}
	if c.Sweep.Schedule == "" {
		c.Sweep.Schedule = DefaultSweepSchedule
	}
	if c.Sweep.Retention == "" {
		c.Sweep.Retention = DefaultPlanRetention
	}
}

// Validate reports settings the gateway cannot start without.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram token not set. Run 'dayplan onboard' or set DAYPLAN_TELEGRAM_TOKEN")
	}
	if c.Webhook.APIKey == "" {
		return fmt.Errorf("webhook api key not set. Set webhook.apiKey or DAYPLAN_API_KEY")
	}
	switch c.Telegram.Mode {
	case TelegramModePolling:
	case TelegramModeWebhook:
		if c.Telegram.WebhookURL == "" {
			return fmt.Errorf("telegram webhook mode requires telegram.webhookUrl")
		}
	default:
		return fmt.Errorf("unknown telegram mode %q", c.Telegram.Mode)
	}
	return nil
}

func SaveConfig(cfg *Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// The file holds the bot token and api key.
	return os.WriteFile(path, data, 0600)
}
