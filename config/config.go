package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Logger     LoggerConfig     `yaml:"logger"`
	Auth       AuthConfig       `yaml:"auth"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Storage    StorageConfig    `yaml:"storage"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size      int `yaml:"size"`
	QueueSize int `yaml:"queue_size" split_words:"true"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key" envconfig:"VAPID_PUBLIC_KEY"`
	PrivateKey string `yaml:"vapid_private_key" envconfig:"VAPID_PRIVATE_KEY"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether missed-dose notifications can be sent.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	RateLimitPerSec float64  `yaml:"rate_limit_per_sec" split_words:"true"`
	RateLimitBurst  int      `yaml:"rate_limit_burst" split_words:"true"`
	CacheTTLSeconds int      `yaml:"cache_ttl_seconds" split_words:"true"`
	AllowOrigins    []string `yaml:"allow_origins" split_words:"true"`
	MaxBodyBytes    int64    `yaml:"max_body_bytes" split_words:"true"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns" split_words:"true"`
	MaxIdleConns           int    `yaml:"max_idle_conns" split_words:"true"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes" split_words:"true"`
}

// LoggerConfig controls the zap logger and optional file rotation.
type LoggerConfig struct {
	Mode       string `yaml:"mode"`
	FileEnable bool   `yaml:"file_enable" split_words:"true"`
	Filename   string `yaml:"filename"`
	MaxSizeMB  int    `yaml:"max_size_mb" split_words:"true"`
	MaxBackups int    `yaml:"max_backups" split_words:"true"`
	MaxAgeDays int    `yaml:"max_age_days" split_words:"true"`
}

// AuthConfig holds the token signing settings shared with the account service.
type AuthConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTTLHours  int           `yaml:"access_ttl_hours" split_words:"true"`
	RefreshTTLHours int           `yaml:"refresh_ttl_hours" split_words:"true"`
	AccessTTL       time.Duration `yaml:"-" ignored:"true"`
	RefreshTTL      time.Duration `yaml:"-" ignored:"true"`
}

// SlotDefault is the seed row for one dispenser slot.
type SlotDefault struct {
	Number int    `yaml:"number"`
	Time   string `yaml:"time"`
	Label  string `yaml:"label"`
}

// ScheduleConfig holds the slot table and pairing defaults.
type ScheduleConfig struct {
	SlotCount          int            `yaml:"slot_count" split_words:"true"`
	Slots              []SlotDefault  `yaml:"slots" ignored:"true"`
	Timezone           string         `yaml:"timezone"`
	DefaultVolume      int            `yaml:"default_volume" split_words:"true"`
	DefaultDelay       string         `yaml:"default_delay" split_words:"true"`
	DefaultAlertOffset string         `yaml:"default_alert_offset" split_words:"true"`
	WeekdayLabels      []string       `yaml:"weekday_labels" split_words:"true"`
	Location           *time.Location `yaml:"-" ignored:"true"`
}

// StorageConfig selects the image backend.
type StorageConfig struct {
	Backend      string `yaml:"backend"`
	Dir          string `yaml:"dir"`
	BaseURL      string `yaml:"base_url" split_words:"true"`
	Bucket       string `yaml:"bucket"`
	CDNDomain    string `yaml:"cdn_domain" split_words:"true"`
	MaxImageSize int    `yaml:"max_image_size" split_words:"true"`
}

// DefaultSlots mirrors the dispenser's factory layout.
var DefaultSlots = []SlotDefault{
	{Number: 1, Time: "07:00:00", Label: "ก่อนอาหารเช้า"},
	{Number: 2, Time: "08:00:00", Label: "หลังอาหารเช้า"},
	{Number: 3, Time: "12:00:00", Label: "หลังอาหารกลางวัน"},
	{Number: 4, Time: "18:00:00", Label: "ก่อนอาหารเย็น"},
	{Number: 5, Time: "19:00:00", Label: "หลังอาหารเย็น"},
	{Number: 6, Time: "20:00:00", Label: "ก่อนนอน"},
	{Number: 7, Time: "21:00:00", Label: "เพิ่มเติม"},
}

// DefaultWeekdayLabels are indexed by time.Weekday.
var DefaultWeekdayLabels = []string{
	"วันอาทิตย์", "วันจันทร์", "วันอังคาร", "วันพุธ", "วันพฤหัสบดี", "วันศุกร์", "วันเสาร์",
}

// Load reads the configuration from the given path. Environment variables
// prefixed with PILLBOX_ override file values.
func Load(path string) (*Config, error) {
	var cfg Config

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	case os.IsNotExist(err):
		zap.S().Warnf("config file %s not found; using defaults and environment", path)
	default:
		return nil, err
	}

	if err := envconfig.Process("pillbox", &cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, for tests and
// tooling that run without a file.
func Default() *Config {
	var cfg Config
	if err := cfg.applyDefaults(); err != nil {
		panic(err)
	}
	return &cfg
}

func (cfg *Config) applyDefaults() error {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 300
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		cfg.Server.MaxBodyBytes = 8 << 20
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "pillbox.db"
	}

	if cfg.Logger.Mode == "" {
		cfg.Logger.Mode = "development"
	}
	if cfg.Logger.FileEnable && cfg.Logger.Filename == "" {
		cfg.Logger.Filename = "pillboxd.log"
	}

	if cfg.Auth.AccessTTLHours <= 0 {
		cfg.Auth.AccessTTLHours = 24
	}
	if cfg.Auth.RefreshTTLHours <= 0 {
		cfg.Auth.RefreshTTLHours = 720
	}
	cfg.Auth.AccessTTL = time.Duration(cfg.Auth.AccessTTLHours) * time.Hour
	cfg.Auth.RefreshTTL = time.Duration(cfg.Auth.RefreshTTLHours) * time.Hour

	if cfg.Schedule.SlotCount <= 0 {
		cfg.Schedule.SlotCount = 7
	}
	if len(cfg.Schedule.Slots) == 0 {
		cfg.Schedule.Slots = append([]SlotDefault(nil), DefaultSlots...)
	}
	if cfg.Schedule.Timezone == "" {
		cfg.Schedule.Timezone = "Asia/Bangkok"
	}
	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return fmt.Errorf("failed to load timezone %q: %w", cfg.Schedule.Timezone, err)
	}
	cfg.Schedule.Location = loc
	if cfg.Schedule.DefaultVolume <= 0 {
		cfg.Schedule.DefaultVolume = 50
	}
	if cfg.Schedule.DefaultDelay == "" {
		cfg.Schedule.DefaultDelay = "00:00:30"
	}
	if cfg.Schedule.DefaultAlertOffset == "" {
		cfg.Schedule.DefaultAlertOffset = "00:00:10"
	}
	if len(cfg.Schedule.WeekdayLabels) != 7 {
		cfg.Schedule.WeekdayLabels = append([]string(nil), DefaultWeekdayLabels...)
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "local"
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "./pictures"
	}
	if cfg.Storage.BaseURL == "" {
		cfg.Storage.BaseURL = "/pictures/"
	}
	if cfg.Storage.MaxImageSize <= 0 {
		cfg.Storage.MaxImageSize = 5 << 20
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		zap.S().Warn("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		cfg.WorkerPool.QueueSize = 64
	}
	return nil
}
