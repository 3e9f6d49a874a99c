// Package config loads the warden settings file (YAML).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full settings file.
type Config struct {
	Library   Library   `yaml:"library"`
	Database  Database  `yaml:"database"`
	Engine    Engine    `yaml:"engine"`
	Scheduler Scheduler `yaml:"scheduler"`
	Pruning   Pruning   `yaml:"pruning"`
	Metrics   Metrics   `yaml:"metrics"`
}

// Library points warden at the remote media library API.
type Library struct {
	URL            string `yaml:"url"`
	AccessKey      string `yaml:"access_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the API call timeout.
func (l Library) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// Database locates the SQLite state file.
type Database struct {
	Path string `yaml:"path"`
}

// Engine tunes rule execution.
type Engine struct {
	// LastViewedThresholdSeconds excludes files viewed within this
	// window from every rule run. 0 disables the filter.
	LastViewedThresholdSeconds int `yaml:"last_viewed_threshold_seconds"`
}

// LastViewedThreshold returns the view-recency exclusion window.
func (e Engine) LastViewedThreshold() time.Duration {
	return time.Duration(e.LastViewedThresholdSeconds) * time.Second
}

// Scheduler tunes the interval scheduler.
type Scheduler struct {
	TickSeconds           int `yaml:"tick_seconds"`
	GlobalIntervalSeconds int `yaml:"global_interval_seconds"`
}

func (s Scheduler) Tick() time.Duration {
	return time.Duration(s.TickSeconds) * time.Second
}

func (s Scheduler) GlobalInterval() time.Duration {
	return time.Duration(s.GlobalIntervalSeconds) * time.Second
}

// Pruning is the nightly retention policy.
type Pruning struct {
	Enabled              bool `yaml:"enabled"`
	RunLogMaxAgeDays     int  `yaml:"run_log_max_age_days"`
	RunLogKeepPerRule    int  `yaml:"run_log_keep_per_rule"`
	DedupeFileEvents     bool `yaml:"dedupe_file_events"`
	GovernanceMaxAgeDays int  `yaml:"governance_max_age_days"`
}

func (p Pruning) RunLogMaxAge() time.Duration {
	return time.Duration(p.RunLogMaxAgeDays) * 24 * time.Hour
}

func (p Pruning) GovernanceMaxAge() time.Duration {
	return time.Duration(p.GovernanceMaxAgeDays) * 24 * time.Hour
}

// Metrics controls the Prometheus endpoint of the daemon.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the built-in settings. A settings file overlays
// these field by field.
func Default() Config {
	return Config{
		Library: Library{
			URL:            "http://127.0.0.1:45869",
			TimeoutSeconds: 60,
		},
		Database: Database{
			Path: "warden.db",
		},
		Scheduler: Scheduler{
			TickSeconds:           10,
			GlobalIntervalSeconds: 3600,
		},
		Pruning: Pruning{
			Enabled:           true,
			RunLogMaxAgeDays:  30,
			RunLogKeepPerRule: 200,
			DedupeFileEvents:  true,
		},
		Metrics: Metrics{
			Enabled: false,
			Addr:    ":9464",
		},
	}
}

// Load reads path over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(src, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields a daemon cannot run without.
func (c *Config) Validate() error {
	if c.Library.URL == "" {
		return fmt.Errorf("config: library.url is required")
	}
	if c.Library.TimeoutSeconds < 0 {
		return fmt.Errorf("config: library.timeout_seconds must be >= 0")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("config: database.path is required")
	}
	if c.Engine.LastViewedThresholdSeconds < 0 {
		return fmt.Errorf("config: engine.last_viewed_threshold_seconds must be >= 0")
	}
	if c.Scheduler.TickSeconds < 1 {
		return fmt.Errorf("config: scheduler.tick_seconds must be >= 1")
	}
	if c.Scheduler.GlobalIntervalSeconds < 1 {
		return fmt.Errorf("config: scheduler.global_interval_seconds must be >= 1")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("config: metrics.addr is required when metrics are enabled")
	}
	return nil
}
