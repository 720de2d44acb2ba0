// Package config provides YAML-based configuration loading for Fixline.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30m" or "48h" decode.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level Fixline configuration, loaded from config.yaml.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Bot       BotConfig       `yaml:"bot"`
	Limits    LimitsConfig    `yaml:"limits"`
	Intake    IntakeConfig    `yaml:"intake"`
	SLA       SLAConfig       `yaml:"sla"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// DatabaseConfig selects the storage backend. Driver is "mysql" (the
// default, using host/port/user/password/database) or "sqlite" (using path).
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Path     string `yaml:"path"`
}

// BotConfig selects the chat platform and its credentials. AppToken is only
// used by Slack (socket mode).
type BotConfig struct {
	Platform string   `yaml:"platform"`
	Token    string   `yaml:"token"`
	AppToken string   `yaml:"app_token"`
	Channel  string   `yaml:"channel"`
	AdminIDs []string `yaml:"admin_ids"`
}

// LimitsConfig tunes the per-user rate limits for abuse-prone actions.
type LimitsConfig struct {
	CreateRequests int      `yaml:"create_requests"`
	CreateWindow   Duration `yaml:"create_window"`
	AddComments    int      `yaml:"add_comments"`
	CommentWindow  Duration `yaml:"comment_window"`
}

// IntakeConfig tunes the conversational intake flow.
type IntakeConfig struct {
	DraftTTL Duration `yaml:"draft_ttl"`
}

// SLAConfig tunes the overdue sweep and the daily digest.
type SLAConfig struct {
	OverdueAfter  Duration `yaml:"overdue_after"`
	SweepInterval Duration `yaml:"sweep_interval"`
	DigestCron    string   `yaml:"digest_cron"`
}

// DashboardConfig holds the HTTP listen address for the triage dashboard.
type DashboardConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Database.Database == "" {
		c.Database.Database = "fixline"
	}
	if c.Limits.CreateRequests == 0 {
		c.Limits.CreateRequests = 5
	}
	if c.Limits.CreateWindow == 0 {
		c.Limits.CreateWindow = Duration(5 * time.Minute)
	}
	if c.Limits.AddComments == 0 {
		c.Limits.AddComments = 10
	}
	if c.Limits.CommentWindow == 0 {
		c.Limits.CommentWindow = Duration(5 * time.Minute)
	}
	if c.Intake.DraftTTL == 0 {
		c.Intake.DraftTTL = Duration(time.Hour)
	}
	if c.SLA.OverdueAfter == 0 {
		c.SLA.OverdueAfter = Duration(48 * time.Hour)
	}
	if c.SLA.SweepInterval == 0 {
		c.SLA.SweepInterval = Duration(time.Hour)
	}
	if c.SLA.DigestCron == "" {
		c.SLA.DigestCron = "0 9 * * *"
	}
	if c.Dashboard.Addr == "" {
		c.Dashboard.Addr = ":8090"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "mysql":
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not one of mysql, sqlite", c.Database.Driver))
	}
	switch c.Bot.Platform {
	case "telegram", "discord", "slack":
	case "":
		errs = append(errs, "bot.platform is required")
	default:
		errs = append(errs, fmt.Sprintf("bot.platform %q is not one of telegram, discord, slack", c.Bot.Platform))
	}
	if c.Bot.Token == "" {
		errs = append(errs, "bot.token is required")
	}
	if c.Limits.CreateRequests < 0 || c.Limits.AddComments < 0 {
		errs = append(errs, "limits counts must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
