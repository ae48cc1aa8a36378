package config

import (
	"errors"
	"strings"
	"time"
)

// Config is the bot's on-disk configuration. YAML and JSON are both
// accepted; YAML is coerced to JSON before strict decoding.
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`
	Tracker TrackerConfig `json:"tracker"`
	Poller  PollerConfig  `json:"poller"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./govbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// TrackerConfig points the bot at the issue tracker and team directory.
type TrackerConfig struct {
	BaseURL     string `json:"base_url"`
	TeamBaseURL string `json:"team_base_url"`
	Token       string `json:"token"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
}

// PollerConfig controls the due-jobs sweep.
//
// All durations are Go duration strings (e.g. "30s", "1m").
type PollerConfig struct {
	Enabled bool `json:"enabled"`
	// Interval between sweeps; default "1m".
	Interval string `json:"interval,omitempty"`
	// JobTimeout bounds a single job execution. Use "0s" to disable.
	JobTimeout string `json:"job_timeout,omitempty"`
}

// Validate rejects configs the running bot could not apply. Used both on
// startup and as the hot-reload validator, so a broken edit to the config
// file never reaches the poller or logger.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationOrDefault("poller.interval", c.Poller.Interval, time.Minute); err != nil {
		return err
	}
	if _, err := ParseDurationField("poller.job_timeout", c.Poller.JobTimeout); err != nil {
		return err
	}
	return nil
}
