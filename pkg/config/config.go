// Package config holds the orchestrator's own configuration: the cadences
// of its background workers and the default per-table repair thresholds.
// This package defines the shape, its defaults and validation, and parses it
// from a YAML document (Load); opening the file is the caller's concern.
package config

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v2"

	"github.com/masokol/ecchronos/pkg/repair/cache"
	"github.com/masokol/ecchronos/pkg/repair/failurelog"
	"github.com/masokol/ecchronos/pkg/repair/metrics"
	"github.com/masokol/ecchronos/pkg/repair/state"
)

// Config is the orchestrator-level configuration recognized by the core:
// background worker cadences and the default per-table repair thresholds.
type Config struct {
	RefreshIntervalMs            int64         `yaml:"refresh_interval_ms"`
	MetricsInterval              time.Duration `yaml:"metrics_interval"`
	MetricsLoggerIntervalMinutes int64         `yaml:"metrics_logger_interval_minutes"`
	FailedRepairSessionsThresh   int64         `yaml:"failed_repair_sessions_threshold"`

	DefaultRepair DefaultRepairConfig `yaml:"default_repair"`
}

// DefaultRepairConfig is the repair configuration applied to a table that
// has not been given a table-specific override.
type DefaultRepairConfig struct {
	IntervalMs            int64 `yaml:"repair_interval_ms"`
	WarningMs             int64 `yaml:"warning_ms"`
	ErrorMs               int64 `yaml:"error_ms"`
	TargetRepairSizeBytes int64 `yaml:"target_repair_size_bytes"`
}

// DefaultConfig returns the configuration the core uses when a value is
// not supplied.
func DefaultConfig() Config {
	return Config{
		RefreshIntervalMs:            cache.DefaultRefreshInterval.Milliseconds(),
		MetricsInterval:              metrics.DefaultInterval,
		MetricsLoggerIntervalMinutes: int64(failurelog.DefaultInterval / time.Minute),
		FailedRepairSessionsThresh:   1,
		DefaultRepair: DefaultRepairConfig{
			IntervalMs:            7 * 24 * time.Hour.Milliseconds(),
			WarningMs:             8 * 24 * time.Hour.Milliseconds(),
			ErrorMs:               10 * 24 * time.Hour.Milliseconds(),
			TargetRepairSizeBytes: state.FullRepair,
		},
	}
}

// RepairConfig converts the default repair thresholds into the state
// package's Config value.
func (c Config) RepairConfig() state.Config {
	return state.Config{
		IntervalMs:            c.DefaultRepair.IntervalMs,
		WarningMs:             c.DefaultRepair.WarningMs,
		ErrorMs:               c.DefaultRepair.ErrorMs,
		TargetRepairSizeBytes: c.DefaultRepair.TargetRepairSizeBytes,
	}
}

// Load reads a YAML document from r into a copy of DefaultConfig, so that
// fields the document omits keep their defaults.
func Load(r io.Reader) (Config, error) {
	c := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	return c, nil
}

// Validate reports every invalid field joined into a single error, or nil
// if the configuration is usable.
func (c Config) Validate() error {
	var err error

	if c.RefreshIntervalMs <= 0 {
		err = multierr.Append(err, errors.New("invalid refresh_interval_ms, must be > 0"))
	}
	if c.MetricsInterval <= 0 {
		err = multierr.Append(err, errors.New("invalid metrics_interval, must be > 0"))
	}
	if c.MetricsLoggerIntervalMinutes <= 0 {
		err = multierr.Append(err, errors.New("invalid metrics_logger_interval_minutes, must be > 0"))
	}
	if c.FailedRepairSessionsThresh <= 0 {
		err = multierr.Append(err, errors.New("invalid failed_repair_sessions_threshold, must be > 0"))
	}
	err = multierr.Append(err, c.DefaultRepair.validate())

	return err
}

func (c DefaultRepairConfig) validate() error {
	var err error

	if c.IntervalMs <= 0 {
		err = multierr.Append(err, errors.New("invalid repair_interval_ms, must be > 0"))
	}
	if c.WarningMs <= 0 {
		err = multierr.Append(err, errors.New("invalid warning_ms, must be > 0"))
	}
	if c.ErrorMs <= c.WarningMs {
		err = multierr.Append(err, errors.New("invalid error_ms, must be > warning_ms"))
	}
	if c.TargetRepairSizeBytes != state.FullRepair && c.TargetRepairSizeBytes <= 0 {
		err = multierr.Append(err, errors.New("invalid target_repair_size_bytes, must be > 0 or FULL_REPAIR"))
	}

	return err
}
