// Package config handles loading and validating the application configuration
// from YAML files with environment variable substitution.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Telegram Telegram `yaml:"telegram"`
	Database Database `yaml:"database"`
	Source   Source   `yaml:"source"`
	Schedule Schedule `yaml:"schedule"`
	Behavior Behavior `yaml:"behavior"`
	Engine   Engine   `yaml:"engine"`
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
}

// Telegram defines bot API settings.
type Telegram struct {
	// Token is the bot token. Empty disables delivery and the command
	// front end; dispatched messages are logged and discarded instead.
	Token string `yaml:"token"`
}

// Database defines persistence settings.
type Database struct {
	Driver   string `yaml:"driver"` // postgres, memory
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns a PostgreSQL connection string.
func (d *Database) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode,
	)
}

// Source defines price source (card API) settings.
type Source struct {
	BaseURL      string        `yaml:"base_url"`
	MaxBatchSize int           `yaml:"max_batch_size"`
	Timeout      time.Duration `yaml:"timeout"`
	RateLimit    RateLimit     `yaml:"rate_limit"`
}

// RateLimit defines courtesy limits against the price source.
type RateLimit struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// Schedule defines when ticks run. In `interval` mode a tick runs every
// IntervalMinutes; in `daily-at` mode once per day at Hour:Minute.
type Schedule struct {
	Mode            string `yaml:"mode"` // interval, daily-at
	IntervalMinutes int    `yaml:"interval_minutes"`
	Hour            int    `yaml:"hour"`
	Minute          int    `yaml:"minute"`
}

// CronSpec renders the schedule as a robfig/cron spec string.
func (s *Schedule) CronSpec() string {
	if s.Mode == "daily-at" {
		return fmt.Sprintf("%d %d * * *", s.Minute, s.Hour)
	}
	return fmt.Sprintf("@every %dm", s.IntervalMinutes)
}

// Behavior defines notification behavior flags.
type Behavior struct {
	// NotifyMode: "on-change-only" messages only changed items;
	// "always" includes every tracked item in each tick's message.
	NotifyMode string `yaml:"notify_mode"`
	// VariantTracking: "enabled" lets a follow pick a size and tracks it;
	// "disabled" always tracks the first available variant.
	VariantTracking string `yaml:"variant_tracking"`
}

// Engine defines reconciliation and dispatch tuning.
type Engine struct {
	BatchConcurrency    int           `yaml:"batch_concurrency"`
	DispatchConcurrency int           `yaml:"dispatch_concurrency"`
	FetchTimeout        time.Duration `yaml:"fetch_timeout"`
	DispatchTimeout     time.Duration `yaml:"dispatch_timeout"`
	// TickTimeout bounds one whole tick including store calls.
	TickTimeout time.Duration `yaml:"tick_timeout"`
}

// Server defines the ops HTTP server (health + metrics) settings.
type Server struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Logging defines logging settings.
type Logging struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Load reads and parses a YAML config file, performing environment variable
// substitution and validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // config path from trusted CLI flag
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyDatabaseDefaults(&cfg.Database)
	applySourceDefaults(&cfg.Source)
	applyScheduleDefaults(&cfg.Schedule)
	applyBehaviorDefaults(&cfg.Behavior)
	applyEngineDefaults(&cfg.Engine)
	applyServerDefaults(&cfg.Server)
	applyLoggingDefaults(&cfg.Logging)
}

func applyDatabaseDefaults(d *Database) {
	if d.Driver == "" {
		d.Driver = "postgres"
	}
	if d.Port == 0 {
		d.Port = 5432
	}
	if d.SSLMode == "" {
		d.SSLMode = "disable"
	}
}

func applySourceDefaults(s *Source) {
	if s.BaseURL == "" {
		s.BaseURL = "https://card.wb.ru/cards/v2/detail"
	}
	if s.MaxBatchSize == 0 {
		s.MaxBatchSize = 100
	}
	if s.Timeout == 0 {
		s.Timeout = 30 * time.Second
	}
	if s.RateLimit.PerSecond == 0 {
		s.RateLimit.PerSecond = 2.0
	}
	if s.RateLimit.Burst == 0 {
		s.RateLimit.Burst = 4
	}
}

func applyScheduleDefaults(s *Schedule) {
	if s.Mode == "" {
		s.Mode = "interval"
	}
	if s.IntervalMinutes == 0 {
		s.IntervalMinutes = 15
	}
}

func applyBehaviorDefaults(b *Behavior) {
	if b.NotifyMode == "" {
		b.NotifyMode = "on-change-only"
	}
	if b.VariantTracking == "" {
		b.VariantTracking = "enabled"
	}
}

func applyEngineDefaults(e *Engine) {
	if e.BatchConcurrency == 0 {
		e.BatchConcurrency = 4
	}
	if e.DispatchConcurrency == 0 {
		e.DispatchConcurrency = 8
	}
	if e.FetchTimeout == 0 {
		e.FetchTimeout = 30 * time.Second
	}
	if e.DispatchTimeout == 0 {
		e.DispatchTimeout = 15 * time.Second
	}
	if e.TickTimeout == 0 {
		e.TickTimeout = 5 * time.Minute
	}
}

func applyServerDefaults(s *Server) {
	if s.Host == "" {
		s.Host = "0.0.0.0"
	}
	if s.Port == 0 {
		s.Port = 8080
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 30 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 30 * time.Second
	}
}

func applyLoggingDefaults(l *Logging) {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "text"
	}
}

func validate(cfg *Config) error {
	var errs []error

	switch cfg.Database.Driver {
	case "memory":
	case "postgres":
		if cfg.Database.Host == "" {
			errs = append(errs, fmt.Errorf("database.host is required"))
		}
		if cfg.Database.Name == "" {
			errs = append(errs, fmt.Errorf("database.name is required"))
		}
		if cfg.Database.User == "" {
			errs = append(errs, fmt.Errorf("database.user is required"))
		}
	default:
		errs = append(errs, fmt.Errorf(
			"database.driver must be one of: postgres, memory (got %q)",
			cfg.Database.Driver,
		))
	}

	switch cfg.Schedule.Mode {
	case "interval":
		if cfg.Schedule.IntervalMinutes < 1 {
			errs = append(errs, fmt.Errorf("schedule.interval_minutes must be >= 1"))
		}
	case "daily-at":
		if cfg.Schedule.Hour < 0 || cfg.Schedule.Hour > 23 {
			errs = append(errs, fmt.Errorf("schedule.hour must be in 0..23"))
		}
		if cfg.Schedule.Minute < 0 || cfg.Schedule.Minute > 59 {
			errs = append(errs, fmt.Errorf("schedule.minute must be in 0..59"))
		}
	default:
		errs = append(errs, fmt.Errorf(
			"schedule.mode must be one of: interval, daily-at (got %q)",
			cfg.Schedule.Mode,
		))
	}

	switch cfg.Behavior.NotifyMode {
	case "always", "on-change-only":
	default:
		errs = append(errs, fmt.Errorf(
			"behavior.notify_mode must be one of: always, on-change-only (got %q)",
			cfg.Behavior.NotifyMode,
		))
	}

	switch cfg.Behavior.VariantTracking {
	case "enabled", "disabled":
	default:
		errs = append(errs, fmt.Errorf(
			"behavior.variant_tracking must be one of: enabled, disabled (got %q)",
			cfg.Behavior.VariantTracking,
		))
	}

	return errors.Join(errs...)
}
