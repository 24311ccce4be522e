package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mirrorlake/warden/internal/metrics"
)

// Status is a probe verdict.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Severity orders statuses for aggregation and gauges: 0 healthy,
// 1 degraded, 2 unhealthy.
func (s Status) Severity() int {
	switch s {
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return 0
	}
}

// Worse returns the more severe of two statuses.
func Worse(a, b Status) Status {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// Result is one component verdict. Produced fresh per probe and never
// mutated afterwards.
type Result struct {
	Component string         `json:"component"`
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CheckedAt time.Time      `json:"checked_at"`
	Elapsed   time.Duration  `json:"elapsed,omitempty"`
}

// Checker inspects one domain and returns one or more results.
type Checker interface {
	Name() string
	Check(ctx context.Context) []Result
}

// Report aggregates a full probe run.
type Report struct {
	Overall   Status         `json:"overall_status"`
	Results   []Result       `json:"results"`
	Counts    map[Status]int `json:"counts"`
	CheckedAt time.Time      `json:"checked_at"`
	Elapsed   time.Duration  `json:"elapsed"`
}

// Manager runs the registered checkers and aggregates their verdicts.
// Checkers run concurrently, each bounded by its own timeout, so one slow
// probe cannot starve the rest of an iteration.
type Manager struct {
	checkers  []Checker
	timeout   time.Duration
	logger    *slog.Logger
	collector *metrics.Collector
}

const defaultProbeTimeout = 10 * time.Second

// NewManager builds a Manager. collector may be nil.
func NewManager(logger *slog.Logger, collector *metrics.Collector, probeTimeout time.Duration, checkers ...Checker) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	return &Manager{
		checkers:  checkers,
		timeout:   probeTimeout,
		logger:    logger,
		collector: collector,
	}
}

// RunAll executes every checker and returns the aggregate report. The overall
// status is the worst individual result. A checker that panics is converted
// into an unhealthy result for that component only; it never aborts the run.
func (m *Manager) RunAll(ctx context.Context) Report {
	started := time.Now()
	var (
		mu      sync.Mutex
		results []Result
		wg      sync.WaitGroup
	)
	for _, chk := range m.checkers {
		wg.Add(1)
		go func(chk Checker) {
			defer wg.Done()
			rs := m.runOne(ctx, chk)
			mu.Lock()
			results = append(results, rs...)
			mu.Unlock()
		}(chk)
	}
	wg.Wait()

	rep := Report{
		Overall:   StatusHealthy,
		Results:   results,
		Counts:    make(map[Status]int, 3),
		CheckedAt: started,
		Elapsed:   time.Since(started),
	}
	for _, r := range rep.Results {
		rep.Counts[r.Status]++
		rep.Overall = Worse(rep.Overall, r.Status)
		metrics.SetHealthStatus(r.Component, r.Status.Severity())
	}
	if m.collector != nil {
		m.collector.Inc("health_runs_total", nil)
		m.collector.Gauge("health_overall_severity", float64(rep.Overall.Severity()), nil)
		m.collector.Observe("health_run_seconds", rep.Elapsed.Seconds(), nil)
	}
	return rep
}

// runOne executes one checker bounded in wall time. The context deadline is
// cooperative; a checker stuck in an uninterruptible call (a hung mount, a
// blocked stat) is abandoned at the timeout and reported unhealthy so it
// cannot stall the whole report.
func (m *Manager) runOne(ctx context.Context, chk Checker) []Result {
	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	started := time.Now()

	ch := make(chan []Result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				m.logger.Error("health checker panicked", "checker", chk.Name(), "panic", rec)
				ch <- []Result{newResult(chk.Name(), StatusUnhealthy, fmt.Sprintf("checker panicked: %v", rec), started)}
			}
		}()
		ch <- chk.Check(cctx)
	}()

	var results []Result
	select {
	case results = <-ch:
	case <-cctx.Done():
		m.logger.Warn("health checker timed out", "checker", chk.Name(), "timeout", m.timeout)
		results = []Result{newResult(chk.Name(), StatusUnhealthy, fmt.Sprintf("probe timed out after %v", m.timeout), started)}
	}
	for _, r := range results {
		metrics.ObserveProbeDuration(r.Component, r.Elapsed.Seconds())
		if m.collector != nil {
			m.collector.Inc("health_probes_total", map[string]string{"component": r.Component})
			if r.Status != StatusHealthy {
				m.collector.Inc("health_probes_not_ok_total", map[string]string{"component": r.Component})
			}
		}
	}
	return results
}

// newResult stamps the shared Result fields checkers fill in.
func newResult(component string, status Status, message string, started time.Time) Result {
	return Result{
		Component: component,
		Status:    status,
		Message:   message,
		CheckedAt: time.Now(),
		Elapsed:   time.Since(started),
	}
}
