package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call without invoking the
// wrapped operation. Callers distinguish it with errors.Is.
var ErrOpen = errors.New("circuit breaker open")

// State of the failure-isolation state machine.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Severity maps states onto the monotone scale used by metrics gauges:
// closed 0, half_open 1, open 2.
func (s State) Severity() int {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

// Config for one protected call site.
type Config struct {
	Name             string        `mapstructure:"name"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
}

func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("breaker: name required")
	}
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("breaker %s: failure_threshold must be positive, got %d", c.Name, c.FailureThreshold)
	}
	if c.RecoveryTimeout <= 0 {
		return fmt.Errorf("breaker %s: recovery_timeout must be positive, got %v", c.Name, c.RecoveryTimeout)
	}
	return nil
}

// Status is the externally visible breaker state, surfaced by health results
// and the introspection API rather than as a crash.
type Status struct {
	Name             string        `json:"name"`
	State            State         `json:"state"`
	Failures         int           `json:"consecutive_failures"`
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
	LastFailureAt    time.Time     `json:"last_failure_at,omitzero"`
}

// Breaker wraps a single unreliable call site. All state lives behind one
// mutex; the wrapped operation itself runs outside the lock so slow calls do
// not block Status readers.
type Breaker struct {
	mu          sync.Mutex
	cfg         Config
	state       State
	failures    int
	lastFailure time.Time
	trialActive bool // a half-open trial is in flight

	now func() time.Time
}

// New validates cfg and returns a closed breaker.
func New(cfg Config) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Breaker{cfg: cfg, state: StateClosed, now: time.Now}, nil
}

// Do routes op through the breaker. While open and before the recovery
// timeout has elapsed, it fails fast with ErrOpen and never invokes op. The
// first call after the timeout runs as a half-open trial; any concurrent
// caller during that trial is rejected so exactly one probe tests recovery.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) (any, error)) (any, error) {
	prev, err := b.beforeCall()
	if err != nil {
		return nil, err
	}
	res, opErr := op(ctx)
	b.afterCall(prev, opErr)
	if opErr != nil {
		return nil, opErr
	}
	return res, nil
}

func (b *Breaker) beforeCall() (State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.cfg.RecoveryTimeout {
			return b.state, fmt.Errorf("%s: %w", b.cfg.Name, ErrOpen)
		}
		b.state = StateHalfOpen
		b.trialActive = true
		return StateHalfOpen, nil
	case StateHalfOpen:
		if b.trialActive {
			return b.state, fmt.Errorf("%s: trial in flight: %w", b.cfg.Name, ErrOpen)
		}
		b.trialActive = true
		return StateHalfOpen, nil
	default:
		return StateClosed, nil
	}
}

func (b *Breaker) afterCall(prev State, opErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev == StateHalfOpen {
		b.trialActive = false
	}
	if opErr == nil {
		// Success resets the consecutive failure count in both closed and
		// half-open; a successful trial closes the breaker.
		b.failures = 0
		if prev == StateHalfOpen {
			b.state = StateClosed
		}
		return
	}
	b.failures++
	b.lastFailure = b.now()
	// A failed half-open trial always re-opens regardless of threshold.
	if prev == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.state = StateOpen
	}
}

// Status returns a snapshot of the breaker.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Name:             b.cfg.Name,
		State:            b.state,
		Failures:         b.failures,
		FailureThreshold: b.cfg.FailureThreshold,
		RecoveryTimeout:  b.cfg.RecoveryTimeout,
		LastFailureAt:    b.lastFailure,
	}
}

// State returns the current state only.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
