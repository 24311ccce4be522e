package supervisor

import (
	"fmt"

	"github.com/mirrorlake/warden/internal/metrics"
	"github.com/mirrorlake/warden/internal/service"
)

// Status returns a snapshot of one service's runtime state. Resource usage
// is sampled best effort for live external processes.
func (s *Supervisor) Status(name string) (service.Status, error) {
	m, ok := s.services[name]
	if !ok {
		return service.Status{}, fmt.Errorf("%w: %s", service.ErrNotFound, name)
	}
	return s.snapshot(m), nil
}

// Statuses returns snapshots for every service in start order.
func (s *Supervisor) Statuses() []service.Status {
	out := make([]service.Status, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.snapshot(s.services[name]))
	}
	return out
}

// Names returns the service names in start order.
func (s *Supervisor) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Supervisor) snapshot(m *managed) service.Status {
	m.mu.Lock()
	st := service.Status{
		Name:            m.desc.Name,
		State:           m.state,
		Port:            m.port,
		RestartAttempts: m.attempts,
		StartedAt:       m.startedAt,
		StoppedAt:       m.stoppedAt,
		ExitError:       m.exitErr,
		LastHealth:      m.lastHealth,
	}
	h := m.handle
	alive := h != nil && h.Alive()
	if alive {
		st.PID = h.PID()
	}
	m.mu.Unlock()

	if alive && st.PID > 0 {
		if ps, err := metrics.SampleProcess(st.PID); err == nil {
			st.Resources = &ps
		}
	}
	return st
}
