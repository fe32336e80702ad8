package config

import (
	"reflect"
	"sort"
	"strings"

	logx "momentra/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes API keys).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Storage
	if strings.TrimSpace(oldCfg.Storage.Path) != strings.TrimSpace(newCfg.Storage.Path) ||
		strings.TrimSpace(oldCfg.Storage.BusyTimeout) != strings.TrimSpace(newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	// Adapter (never log the key env's value; the env *name* is safe)
	oA := derefAdapter(oldCfg.Adapter)
	nA := derefAdapter(newCfg.Adapter)
	if (oldCfg.Adapter != nil) != (newCfg.Adapter != nil) || !reflect.DeepEqual(oA, nA) {
		changed = append(changed, "adapter")
		attrs = append(attrs,
			logx.String("adapter.provider", strings.TrimSpace(nA.Provider)),
			logx.String("adapter.model", strings.TrimSpace(nA.Model)),
			logx.String("adapter.api_key_env", strings.TrimSpace(nA.APIKeyEnv)),
			logx.Float64("adapter.temperature", nA.Temperature),
			logx.Int("adapter.rate_per_min", nA.RatePerMin),
		)
	}

	// Retention
	oR := derefRetention(oldCfg.Retention)
	nR := derefRetention(newCfg.Retention)
	if (oldCfg.Retention != nil) != (newCfg.Retention != nil) || !reflect.DeepEqual(oR, nR) {
		changed = append(changed, "retention")
		attrs = append(attrs,
			logx.Bool("retention.enabled", nR.Enabled),
			logx.String("retention.schedule", strings.TrimSpace(nR.Schedule)),
			logx.String("retention.max_age", strings.TrimSpace(nR.MaxAge)),
		)
	}

	// Preference defaults
	if !reflect.DeepEqual(oldCfg.Defaults, newCfg.Defaults) {
		changed = append(changed, "defaults")
		d := newCfg.Defaults.Normalized()
		attrs = append(attrs,
			logx.Int("defaults.buffer_minutes", d.BufferMinutes),
			logx.Int("defaults.work_start_hour", d.WorkStartHour),
			logx.Int("defaults.work_end_hour", d.WorkEndHour),
			logx.Int("defaults.default_duration_minutes", d.DefaultDurationMinutes),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefAdapter(a *AdapterConfig) AdapterConfig {
	if a == nil {
		return AdapterConfig{}
	}
	return *a
}

func derefRetention(r *RetentionConfig) RetentionConfig {
	if r == nil {
		return RetentionConfig{}
	}
	return *r
}
