// Package supervisor owns the fixed set of named services: ordered startup,
// per-service health probing, bounded restart with backoff, and one-shot
// cooperative shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mirrorlake/warden/internal/health"
	"github.com/mirrorlake/warden/internal/history"
	"github.com/mirrorlake/warden/internal/metrics"
	"github.com/mirrorlake/warden/internal/service"
)

var (
	// ErrPortsExhausted means no free port was found in the search window.
	ErrPortsExhausted = errors.New("no free port in search window")
	// ErrRestartsExhausted means the restart budget is spent and the service
	// is pinned failed until the supervisor itself is restarted.
	ErrRestartsExhausted = errors.New("restart attempts exhausted")
)

// Config tunes supervisor-wide timing. Zero values select the defaults.
type Config struct {
	MonitorInterval     time.Duration `mapstructure:"monitor_interval"`      // default 60s, also the per-service probe interval fallback
	StopGrace           time.Duration `mapstructure:"stop_grace"`            // default 10s
	PortWindow          int           `mapstructure:"port_window"`           // default 100 candidates
	StartupPollAttempts int           `mapstructure:"startup_poll_attempts"` // default 30
	StartupPollInterval time.Duration `mapstructure:"startup_poll_interval"` // default 1s
	ProbeTimeout        time.Duration `mapstructure:"probe_timeout"`         // default 5s, per-service fallback
}

func (c Config) withDefaults() Config {
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 60 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 10 * time.Second
	}
	if c.PortWindow <= 0 {
		c.PortWindow = 100
	}
	if c.StartupPollAttempts <= 0 {
		c.StartupPollAttempts = 30
	}
	if c.StartupPollInterval <= 0 {
		c.StartupPollInterval = time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	return c
}

type managed struct {
	desc service.Descriptor

	// startMu serializes the whole check-spawn-await sequence so concurrent
	// starters (REST call vs monitor restart) cannot double-spawn.
	startMu sync.Mutex

	mu            sync.Mutex
	state         service.State
	handle        service.Handle
	port          int
	attempts      int
	startedAt     time.Time
	stoppedAt     time.Time
	lastHealth    *health.Result
	exitErr       string
	stopRequested bool
	lastProbe     time.Time
}

// Supervisor owns every ServiceRuntimeState. Runtime state is mutated only
// here; callers observe it through Status snapshots.
type Supervisor struct {
	cfg       Config
	log       *slog.Logger
	collector *metrics.Collector
	sink      history.Sink

	procRunner service.Runner
	taskRunner service.Runner

	services map[string]*managed
	order    []string

	monitorMu     sync.Mutex
	monitorCancel context.CancelFunc
	wg            sync.WaitGroup

	shuttingDown atomic.Bool
}

// New validates the descriptors and builds the supervisor. Descriptors are
// started in StartOrder, ties broken by declaration order.
func New(cfg Config, log *slog.Logger, collector *metrics.Collector, sink history.Sink, descs ...service.Descriptor) (*Supervisor, error) {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = history.NopSink{}
	}
	s := &Supervisor{
		cfg:        cfg.withDefaults(),
		log:        log,
		collector:  collector,
		sink:       sink,
		procRunner: service.ProcessRunner{},
		taskRunner: service.TaskRunner{},
		services:   make(map[string]*managed, len(descs)),
	}
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.services[d.Name]; dup {
			return nil, fmt.Errorf("duplicate service name %q", d.Name)
		}
		s.services[d.Name] = &managed{desc: d, state: service.StateStopped}
		s.order = append(s.order, d.Name)
	}
	sort.SliceStable(s.order, func(i, j int) bool {
		return s.services[s.order[i]].desc.StartOrder < s.services[s.order[j]].desc.StartOrder
	})
	return s, nil
}

// StartAll starts every enabled service in declared order. A required
// service failing aborts the remaining startup; services already started are
// left running. Optional failures only log a warning.
func (s *Supervisor) StartAll(ctx context.Context) error {
	for _, name := range s.order {
		m := s.services[name]
		if !m.desc.Enabled {
			continue
		}
		if err := s.StartService(ctx, name); err != nil {
			if m.desc.Required {
				return fmt.Errorf("required service %s: %w", name, err)
			}
			s.log.Warn("optional service failed to start", "service", name, "error", err)
		}
	}
	return nil
}

// StartService is idempotent: an already running or degraded service with a
// live instance returns success without re-spawning. A failed service stays
// failed until the whole supervisor is restarted.
func (s *Supervisor) StartService(ctx context.Context, name string) error {
	m, ok := s.services[name]
	if !ok {
		return fmt.Errorf("%w: %s", service.ErrNotFound, name)
	}

	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.mu.Lock()
	switch {
	case (m.state == service.StateRunning || m.state == service.StateDegraded) && m.handle != nil && m.handle.Alive():
		m.mu.Unlock()
		return nil
	case m.state == service.StateFailed:
		m.mu.Unlock()
		return fmt.Errorf("service %s is failed and needs a supervisor restart", name)
	}
	prev := m.handle
	m.stopRequested = false
	m.mu.Unlock()

	// A prior start can leave an instance running that never became ready.
	// Stop it before spawning a replacement so it is not orphaned.
	if prev != nil && prev.Alive() {
		_ = prev.Stop(s.cfg.StopGrace)
	}

	s.transition(m, service.StateStarting, "")

	port := 0
	if m.desc.Port > 0 {
		p, err := findFreePort(m.desc.Port, s.cfg.PortWindow)
		if err != nil {
			s.transition(m, service.StateFailed, err.Error())
			return fmt.Errorf("service %s: %w", name, err)
		}
		port = p
		if port != m.desc.Port {
			s.log.Info("rebinding service port", "service", name, "desired", m.desc.Port, "effective", port)
		}
	}

	runner := s.procRunner
	if m.desc.Task != nil {
		runner = s.taskRunner
	}
	h, err := runner.Start(ctx, m.desc, port)
	if err != nil {
		s.transition(m, service.StateStopped, err.Error())
		return err
	}

	m.mu.Lock()
	m.handle = h
	m.port = port
	m.startedAt = time.Now()
	m.exitErr = ""
	m.mu.Unlock()
	metrics.IncStart(name)
	s.count("service_starts_total")
	s.log.Info("service spawned", "service", name, "pid", h.PID(), "port", port)

	return s.awaitReady(ctx, m)
}

// awaitReady polls the service's probe until a healthy or degraded verdict,
// bounded by StartupPollAttempts. On exhaustion the spawned instance is left
// running and an error is returned; the caller decides whether to stop it.
func (s *Supervisor) awaitReady(ctx context.Context, m *managed) error {
	probe := s.probeFor(m)
	for attempt := 0; attempt < s.cfg.StartupPollAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.StartupPollInterval):
			}
		}

		m.mu.Lock()
		h := m.handle
		m.mu.Unlock()
		if h != nil && !h.Alive() {
			detail := "exited during startup"
			if err := h.ExitError(); err != nil {
				detail = err.Error()
			}
			m.mu.Lock()
			m.exitErr = detail
			m.stoppedAt = time.Now()
			m.mu.Unlock()
			s.transition(m, service.StateStopped, detail)
			return fmt.Errorf("service %s exited during startup: %s", m.desc.Name, detail)
		}

		r := s.runProbe(ctx, m, probe)
		if r.Status == health.StatusHealthy || r.Status == health.StatusDegraded {
			s.applyVerdict(m, r)
			return nil
		}
	}
	return fmt.Errorf("service %s: not ready after %d probe attempts", m.desc.Name, s.cfg.StartupPollAttempts)
}

// StopService stops one service: graceful terminate, bounded grace, then
// force kill. Stopping an already stopped service is a no-op.
func (s *Supervisor) StopService(_ context.Context, name string) error {
	m, ok := s.services[name]
	if !ok {
		return fmt.Errorf("%w: %s", service.ErrNotFound, name)
	}
	m.mu.Lock()
	h := m.handle
	m.stopRequested = true
	m.mu.Unlock()
	if h == nil || !h.Alive() {
		if st := s.stateOf(m); st != service.StateStopped && st != service.StateFailed {
			s.transition(m, service.StateStopped, "")
		}
		return nil
	}
	err := h.Stop(s.cfg.StopGrace)
	m.mu.Lock()
	m.stoppedAt = time.Now()
	m.mu.Unlock()
	s.transition(m, service.StateStopped, "")
	metrics.IncStop(name)
	s.count("service_stops_total")
	if err != nil {
		return fmt.Errorf("service %s: %w", name, err)
	}
	return nil
}

// StopAll stops services in reverse start order.
func (s *Supervisor) StopAll(ctx context.Context) error {
	var first error
	for i := len(s.order) - 1; i >= 0; i-- {
		if err := s.StopService(ctx, s.order[i]); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Shutdown is the one-time teardown sequence. Safe under concurrent signal
// delivery: only the first caller performs work.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	if !s.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}
	s.log.Info("shutting down")
	s.StopMonitor()
	return s.StopAll(ctx)
}

// ShuttingDown reports whether Shutdown has begun.
func (s *Supervisor) ShuttingDown() bool { return s.shuttingDown.Load() }

func (s *Supervisor) count(name string) {
	if s.collector != nil {
		s.collector.Inc(name, nil)
	}
}

func (s *Supervisor) stateOf(m *managed) service.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// transition moves a service's state, records it to prometheus and the audit
// sink, and logs it. No-op when the state is unchanged.
func (s *Supervisor) transition(m *managed, to service.State, detail string) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	m.mu.Unlock()

	metrics.RecordStateTransition(m.desc.Name, string(from), string(to))
	s.log.Info("service state changed", "service", m.desc.Name, "from", from, "to", to, "detail", detail)
	s.record(history.Event{
		Time:    time.Now(),
		Kind:    history.KindLifecycle,
		Service: m.desc.Name,
		From:    string(from),
		To:      string(to),
		Detail:  detail,
	})
}

// record delivers an audit event without ever blocking supervision.
func (s *Supervisor) record(e history.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.sink.Record(ctx, e); err != nil {
			s.log.Warn("history sink record failed", "kind", e.Kind, "service", e.Service, "error", err)
		}
	}()
}

// findFreePort probes candidate ports upward from start. The probe-then-bind
// sequence is best effort: another process can claim the port between the
// probe and the service's own bind, in which case the next start_service call
// retries the search.
func findFreePort(start, window int) (int, error) {
	for p := start; p < start+window && p <= 65535; p++ {
		l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(p)))
		if err != nil {
			continue
		}
		_ = l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("%w: candidates %d..%d occupied", ErrPortsExhausted, start, start+window-1)
}
