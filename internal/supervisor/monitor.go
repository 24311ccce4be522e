package supervisor

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/mirrorlake/warden/internal/health"
	"github.com/mirrorlake/warden/internal/history"
	"github.com/mirrorlake/warden/internal/metrics"
	"github.com/mirrorlake/warden/internal/service"
)

// StartMonitor launches the background monitoring loop. Calling it twice is
// a no-op.
func (s *Supervisor) StartMonitor() {
	s.monitorMu.Lock()
	defer s.monitorMu.Unlock()
	if s.monitorCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.monitorCancel = cancel
	s.wg.Add(1)
	go s.monitorLoop(ctx)
}

// StopMonitor stops the loop and waits for it to exit.
func (s *Supervisor) StopMonitor() {
	s.monitorMu.Lock()
	cancel := s.monitorCancel
	s.monitorCancel = nil
	s.monitorMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

// monitorLoop probes each enabled service on its health interval and applies
// the bounded restart policy. The tick granularity is the smallest interval
// any service declares so nothing is probed late.
func (s *Supervisor) monitorLoop(ctx context.Context) {
	defer s.wg.Done()
	tick := s.cfg.MonitorInterval
	for _, m := range s.services {
		if iv := m.desc.Health.Interval; iv > 0 && iv < tick {
			tick = iv
		}
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.monitorCycle(ctx)
		}
	}
}

func (s *Supervisor) monitorCycle(ctx context.Context) {
	s.count("monitor_cycles_total")
	now := time.Now()
	for _, name := range s.order {
		if ctx.Err() != nil {
			return
		}
		m := s.services[name]

		m.mu.Lock()
		iv := m.desc.Health.Interval
		if iv <= 0 {
			iv = s.cfg.MonitorInterval
		}
		due := now.Sub(m.lastProbe) >= iv
		skip := !m.desc.Enabled || m.stopRequested ||
			m.state == service.StateStopped || m.state == service.StateFailed
		if due && !skip {
			m.lastProbe = now
		}
		m.mu.Unlock()
		if skip || !due {
			continue
		}

		r := s.runProbe(ctx, m, s.probeFor(m))
		s.applyVerdict(m, r)
		if r.Status == health.StatusUnhealthy {
			s.handleUnhealthy(ctx, m, r)
		}
	}
}

// handleUnhealthy applies the restart policy: below the attempt budget wait
// the backoff, increment, and start again; at the budget pin the service
// failed until the supervisor is restarted.
func (s *Supervisor) handleUnhealthy(ctx context.Context, m *managed, r health.Result) {
	m.mu.Lock()
	attempts := m.attempts
	maxAttempts := m.desc.Restart.MaxAttempts
	backoff := m.desc.Restart.Backoff
	h := m.handle
	m.mu.Unlock()

	if attempts >= maxAttempts {
		s.log.Error("service restart budget spent", "service", m.desc.Name,
			"attempts", attempts, "error", ErrRestartsExhausted)
		s.transition(m, service.StateFailed, ErrRestartsExhausted.Error())
		return
	}

	s.log.Warn("service unhealthy, scheduling restart", "service", m.desc.Name,
		"reason", r.Message, "attempt", attempts+1, "max_attempts", maxAttempts, "backoff", backoff)
	if h != nil && h.Alive() {
		_ = h.Stop(s.cfg.StopGrace)
	}
	if backoff > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}

	m.mu.Lock()
	m.attempts++
	m.mu.Unlock()
	s.transition(m, service.StateStopped, "restarting")
	metrics.IncRestart(m.desc.Name)
	s.count("service_restarts_total")

	if err := s.StartService(ctx, m.desc.Name); err != nil {
		s.log.Warn("restart attempt failed", "service", m.desc.Name, "error", err)
	}
}

// probeFor picks the service's probe: the descriptor's own when declared,
// otherwise a TCP connect to the effective port, otherwise instance liveness.
func (s *Supervisor) probeFor(m *managed) service.ProbeFunc {
	if m.desc.Probe != nil {
		return m.desc.Probe
	}
	return func(ctx context.Context) health.Result {
		m.mu.Lock()
		h := m.handle
		port := m.port
		m.mu.Unlock()
		now := time.Now()
		if h == nil || !h.Alive() {
			msg := "instance not running"
			if h != nil {
				if err := h.ExitError(); err != nil {
					msg = fmt.Sprintf("instance exited: %v", err)
				}
			}
			return health.Result{Component: m.desc.Name, Status: health.StatusUnhealthy, Message: msg, CheckedAt: now}
		}
		if port > 0 {
			var d net.Dialer
			conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
			if err != nil {
				return health.Result{Component: m.desc.Name, Status: health.StatusUnhealthy,
					Message: fmt.Sprintf("port %d not accepting connections: %v", port, err), CheckedAt: now}
			}
			_ = conn.Close()
		}
		return health.Result{Component: m.desc.Name, Status: health.StatusHealthy, Message: "alive", CheckedAt: now}
	}
}

// runProbe bounds one probe invocation by the service's timeout and converts
// a panic inside a custom probe into an unhealthy verdict.
func (s *Supervisor) runProbe(ctx context.Context, m *managed, probe service.ProbeFunc) (r health.Result) {
	timeout := m.desc.Health.Timeout
	if timeout <= 0 {
		timeout = s.cfg.ProbeTimeout
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	started := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r = health.Result{Component: m.desc.Name, Status: health.StatusUnhealthy,
				Message: fmt.Sprintf("probe panicked: %v", rec), CheckedAt: started}
		}
		metrics.ObserveProbeDuration(m.desc.Name, time.Since(started).Seconds())
	}()
	r = probe(pctx)
	if r.Component == "" {
		r.Component = m.desc.Name
	}
	return r
}

// applyVerdict folds a probe result into runtime state: healthy promotes to
// running, degraded demotes to degraded. Verdict changes are exported as
// health audit events.
func (s *Supervisor) applyVerdict(m *managed, r health.Result) {
	m.mu.Lock()
	prev := m.lastHealth
	m.lastHealth = &r
	m.mu.Unlock()

	switch r.Status {
	case health.StatusHealthy:
		s.transition(m, service.StateRunning, "")
	case health.StatusDegraded:
		s.transition(m, service.StateDegraded, r.Message)
	}

	if prev == nil || prev.Status != r.Status {
		s.record(history.Event{
			Time:    r.CheckedAt,
			Kind:    history.KindHealth,
			Service: m.desc.Name,
			From:    prevStatus(prev),
			To:      string(r.Status),
			Detail:  r.Message,
		})
	}
}

func prevStatus(r *health.Result) string {
	if r == nil {
		return ""
	}
	return string(r.Status)
}
