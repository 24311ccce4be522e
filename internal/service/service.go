package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mirrorlake/warden/internal/health"
	"github.com/mirrorlake/warden/internal/logger"
	"github.com/mirrorlake/warden/internal/metrics"
)

// State is the supervisor-facing lifecycle state of one service.
// failed is terminal until the whole supervisor is restarted.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateDegraded State = "degraded"
	StateFailed   State = "failed"
)

// RestartPolicy bounds supervised restarts.
type RestartPolicy struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
}

// HealthPolicy configures how often and how long a service's probe runs.
type HealthPolicy struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ProbeFunc judges one service's health. The supervisor treats healthy and
// degraded results as "up".
type ProbeFunc func(ctx context.Context) health.Result

// Descriptor is the immutable configuration of one supervised service.
// Constructed once at supervisor build time and never mutated.
type Descriptor struct {
	Name       string
	Command    string
	WorkDir    string
	Env        []string
	Enabled    bool
	Required   bool
	StartOrder int
	Port       int // 0 = no port requested
	Restart    RestartPolicy
	Health     HealthPolicy
	Log        logger.Capture

	// Probe overrides the default liveness probe. Optional.
	Probe ProbeFunc

	// Task makes this an in-process service run by a TaskRunner instead of
	// spawning Command. Optional; mutually exclusive with Command.
	Task TaskFunc
}

// Validate fails fast on configuration errors; invalid values are never
// silently defaulted.
func (d Descriptor) Validate() error {
	if !IsSafeName(d.Name) {
		return fmt.Errorf("service %q: name must match [A-Za-z0-9._-] and contain no path separators", d.Name)
	}
	if d.Command == "" && d.Task == nil {
		return fmt.Errorf("service %s: command required", d.Name)
	}
	if d.Command != "" && d.Task != nil {
		return fmt.Errorf("service %s: command and task are mutually exclusive", d.Name)
	}
	if d.Port < 0 || d.Port > 65535 {
		return fmt.Errorf("service %s: port %d out of range", d.Name, d.Port)
	}
	if d.Restart.MaxAttempts < 0 {
		return fmt.Errorf("service %s: restart.max_attempts must not be negative, got %d", d.Name, d.Restart.MaxAttempts)
	}
	if d.Restart.Backoff < 0 {
		return fmt.Errorf("service %s: restart.backoff must not be negative, got %v", d.Name, d.Restart.Backoff)
	}
	if d.Health.Interval < 0 || d.Health.Timeout < 0 {
		return fmt.Errorf("service %s: health interval/timeout must not be negative", d.Name)
	}
	return nil
}

// IsSafeName reports whether name is non-empty and free of path separators,
// traversal sequences, and shell-hostile characters.
func IsSafeName(name string) bool {
	if name == "" || strings.Contains(name, "..") {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// Status is an externally consumable snapshot of one service's runtime state.
type Status struct {
	Name            string             `json:"name"`
	State           State              `json:"state"`
	PID             int                `json:"pid,omitempty"`
	Port            int                `json:"port,omitempty"`
	RestartAttempts int                `json:"restart_attempts"`
	StartedAt       time.Time          `json:"started_at,omitzero"`
	StoppedAt       time.Time          `json:"stopped_at,omitzero"`
	ExitError       string             `json:"exit_error,omitempty"`
	LastHealth      *health.Result     `json:"last_health,omitempty"`
	Resources       *metrics.ProcStats `json:"resources,omitempty"`
}

// ErrNotFound is returned for operations on unknown service names.
var ErrNotFound = errors.New("unknown service")
