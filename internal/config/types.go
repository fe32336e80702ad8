package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`

	// Adapter configures the external intent adapter (natural-language parse).
	// If omitted, the pipeline runs with the offline mock adapter: the local
	// extractor still works, and everything else degrades to a passthrough
	// candidate the user can edit by hand.
	Adapter *AdapterConfig `json:"adapter,omitempty"`

	// Retention controls periodic purging of old committed tasks.
	Retention *RetentionConfig `json:"retention,omitempty"`

	// Defaults seed per-user preferences on first use.
	Defaults DefaultsConfig `json:"defaults,omitempty"`
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

// StorageConfig controls the SQLite store.
//
// Example:
//
//	"storage": { "path": "./momentra.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// AdapterConfig controls the external intent adapter.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// APIKeyEnv names the environment variable holding the API key; the key
// itself never lives in the config file.
type AdapterConfig struct {
	Provider    string  `json:"provider,omitempty"` // "gemini" | "mock"; default "mock" when no key
	Model       string  `json:"model,omitempty"`
	APIKeyEnv   string  `json:"api_key_env,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	RatePerMin  int     `json:"rate_per_min,omitempty"`
	Timeout     string  `json:"timeout,omitempty"`
}

// RetentionConfig controls the purge job for old tasks.
//
// Schedule is a cron expression (robfig/cron, standard 5-field).
// MaxAge is a Go duration string; tasks whose end time is older than
// now-MaxAge are deleted.
type RetentionConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // default "17 3 * * *"
	MaxAge   string `json:"max_age,omitempty"`  // default "2160h" (90 days)
}

// DefaultsConfig seeds UserPreferences the first time a user shows up.
// Hours are local-day hours in [0,24); the work window is [start, end).
type DefaultsConfig struct {
	BufferMinutes          int `json:"buffer_minutes,omitempty"`
	WorkStartHour          int `json:"work_start_hour,omitempty"`
	WorkEndHour            int `json:"work_end_hour,omitempty"`
	DefaultDurationMinutes int `json:"default_duration_minutes,omitempty"`
}

// Normalized fills zero fields with runtime defaults.
func (d DefaultsConfig) Normalized() DefaultsConfig {
	if d.BufferMinutes <= 0 {
		d.BufferMinutes = 15
	}
	if d.WorkStartHour <= 0 {
		d.WorkStartHour = 9
	}
	if d.WorkEndHour <= 0 || d.WorkEndHour > 24 {
		d.WorkEndHour = 18
	}
	if d.DefaultDurationMinutes <= 0 {
		d.DefaultDurationMinutes = 60
	}
	return d
}

// Validate checks field ranges and duration strings.
// It is also installed as the watch validator so a bad edit never gets
// committed to a running process.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if c.Adapter != nil {
		if _, err := ParseDurationField("adapter.timeout", c.Adapter.Timeout); err != nil {
			return err
		}
		if c.Adapter.Temperature < 0 || c.Adapter.Temperature > 2 {
			return fmt.Errorf("adapter.temperature must be in [0,2]")
		}
		if c.Adapter.RatePerMin < 0 {
			return fmt.Errorf("adapter.rate_per_min must be >= 0")
		}
	}
	if c.Retention != nil {
		if _, err := ParseDurationField("retention.max_age", c.Retention.MaxAge); err != nil {
			return err
		}
	}
	d := c.Defaults
	if d.WorkStartHour < 0 || d.WorkStartHour > 23 {
		return fmt.Errorf("defaults.work_start_hour must be in [0,23]")
	}
	if d.WorkEndHour < 0 || d.WorkEndHour > 24 {
		return fmt.Errorf("defaults.work_end_hour must be in [0,24]")
	}
	if d.WorkEndHour != 0 && d.WorkStartHour >= d.WorkEndHour {
		return fmt.Errorf("defaults.work_start_hour must be before defaults.work_end_hour")
	}
	return nil
}

// RetentionMaxAge returns the effective purge window.
func (c *Config) RetentionMaxAge() time.Duration {
	const def = 90 * 24 * time.Hour
	if c.Retention == nil {
		return def
	}
	d, err := ParseDurationOrDefault("retention.max_age", c.Retention.MaxAge, def)
	if err != nil {
		return def
	}
	return d
}
