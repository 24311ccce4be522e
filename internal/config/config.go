// Package config loads the daemon's TOML configuration. Configuration errors
// fail fast at load time; invalid values are never silently defaulted.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/viper"
	lj "gopkg.in/natefinch/lumberjack.v2"

	"github.com/mirrorlake/warden/internal/logger"
	"github.com/mirrorlake/warden/internal/service"
	"github.com/mirrorlake/warden/internal/supervisor"
)

// Log configures the daemon's own structured log output.
type Log struct {
	Level      string `toml:"level" mapstructure:"level"`
	Color      bool   `toml:"color" mapstructure:"color"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// Writer returns the log destination: a rotating file when File is set,
// stderr otherwise.
func (l Log) Writer() io.Writer {
	if l.File == "" {
		return os.Stderr
	}
	return &lj.Logger{
		Filename:   l.File,
		MaxSize:    valOr(l.MaxSizeMB, logger.DefaultMaxSizeMB),
		MaxBackups: valOr(l.MaxBackups, logger.DefaultMaxBackups),
		MaxAge:     valOr(l.MaxAgeDays, logger.DefaultMaxAgeDays),
		Compress:   l.Compress,
	}
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Server configures the REST control plane.
type Server struct {
	Listen string `toml:"listen" mapstructure:"listen"`
}

// Metrics configures the in-memory collector.
type Metrics struct {
	Capacity int `toml:"capacity" mapstructure:"capacity"`
}

// Health configures the component checkers.
type Health struct {
	Mounts       []string      `toml:"mounts" mapstructure:"mounts"`
	DiskPath     string        `toml:"disk_path" mapstructure:"disk_path"`
	Threshold    float64       `toml:"threshold" mapstructure:"threshold"`
	ProbeTimeout time.Duration `toml:"probe_timeout" mapstructure:"probe_timeout"`
}

// API declares one external dependency probed through a circuit breaker.
type API struct {
	Name             string        `toml:"name" mapstructure:"name"`
	URL              string        `toml:"url" mapstructure:"url"`
	FailureThreshold int           `toml:"failure_threshold" mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `toml:"recovery_timeout" mapstructure:"recovery_timeout"`
}

// History configures audit event sinks by DSN.
type History struct {
	Sinks []string `toml:"sinks" mapstructure:"sinks"`
}

// Service is the TOML shape of one service descriptor.
type Service struct {
	Name       string          `toml:"name" mapstructure:"name"`
	Command    string          `toml:"command" mapstructure:"command"`
	WorkDir    string          `toml:"workdir" mapstructure:"workdir"`
	Env        []string        `toml:"env" mapstructure:"env"`
	Enabled    *bool           `toml:"enabled" mapstructure:"enabled"` // default true
	Required   bool            `toml:"required" mapstructure:"required"`
	StartOrder int             `toml:"start_order" mapstructure:"start_order"`
	Port       int             `toml:"port" mapstructure:"port"`
	Restart    RestartSection  `toml:"restart" mapstructure:"restart"`
	Health     HealthSection   `toml:"health" mapstructure:"health"`
	Log        *logger.Capture `toml:"log" mapstructure:"log"`
}

type RestartSection struct {
	MaxAttempts int           `toml:"max_attempts" mapstructure:"max_attempts"`
	Backoff     time.Duration `toml:"backoff" mapstructure:"backoff"`
}

type HealthSection struct {
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
	Timeout  time.Duration `toml:"timeout" mapstructure:"timeout"`
}

// File is the top-level TOML structure.
type File struct {
	Log        Log               `toml:"log" mapstructure:"log"`
	Server     Server            `toml:"server" mapstructure:"server"`
	Metrics    Metrics           `toml:"metrics" mapstructure:"metrics"`
	Supervisor supervisor.Config `toml:"supervisor" mapstructure:"supervisor"`
	Health     Health            `toml:"health" mapstructure:"health"`
	APIs       []API             `toml:"apis" mapstructure:"apis"`
	History    History           `toml:"history" mapstructure:"history"`
	Services   []Service         `toml:"services" mapstructure:"services"`
}

// Load reads and validates a TOML config file.
func Load(path string) (*File, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate fails fast on invalid values.
func (f *File) Validate() error {
	if f.Server.Listen == "" {
		f.Server.Listen = ":8085"
	}
	if f.Metrics.Capacity < 0 {
		return fmt.Errorf("metrics.capacity must not be negative, got %d", f.Metrics.Capacity)
	}
	if f.Health.Threshold < 0 || f.Health.Threshold > 100 {
		return fmt.Errorf("health.threshold must be within 0..100, got %v", f.Health.Threshold)
	}
	if f.Health.ProbeTimeout < 0 {
		return fmt.Errorf("health.probe_timeout must not be negative, got %v", f.Health.ProbeTimeout)
	}
	for _, a := range f.APIs {
		if !service.IsSafeName(a.Name) {
			return fmt.Errorf("api %q: invalid name", a.Name)
		}
		if a.URL == "" {
			return fmt.Errorf("api %s: url required", a.Name)
		}
		if a.FailureThreshold < 0 || a.RecoveryTimeout < 0 {
			return fmt.Errorf("api %s: failure_threshold and recovery_timeout must not be negative", a.Name)
		}
	}
	for _, d := range f.Descriptors() {
		if err := d.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Descriptors converts the service sections into supervisor descriptors.
func (f *File) Descriptors() []service.Descriptor {
	out := make([]service.Descriptor, 0, len(f.Services))
	for _, s := range f.Services {
		d := service.Descriptor{
			Name:       s.Name,
			Command:    s.Command,
			WorkDir:    s.WorkDir,
			Env:        append([]string(nil), s.Env...),
			Enabled:    s.Enabled == nil || *s.Enabled,
			Required:   s.Required,
			StartOrder: s.StartOrder,
			Port:       s.Port,
			Restart:    service.RestartPolicy{MaxAttempts: s.Restart.MaxAttempts, Backoff: s.Restart.Backoff},
			Health:     service.HealthPolicy{Interval: s.Health.Interval, Timeout: s.Health.Timeout},
		}
		if s.Log != nil {
			d.Log = *s.Log
		}
		out = append(out, d)
	}
	return out
}
