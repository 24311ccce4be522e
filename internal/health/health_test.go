package health

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mirrorlake/warden/internal/breaker"
	"github.com/mirrorlake/warden/internal/metrics"
)

type staticChecker struct {
	name    string
	results []Result
}

func (s staticChecker) Name() string                   { return s.name }
func (s staticChecker) Check(context.Context) []Result { return s.results }

type panicChecker struct{}

func (panicChecker) Name() string                   { return "broken" }
func (panicChecker) Check(context.Context) []Result { panic("nil map write") }

type slowChecker struct{}

func (slowChecker) Name() string { return "slow" }
func (slowChecker) Check(ctx context.Context) []Result {
	select {
	case <-ctx.Done():
		return []Result{{Component: "slow", Status: StatusUnhealthy, Message: ctx.Err().Error(), CheckedAt: time.Now()}}
	case <-time.After(10 * time.Second):
		return []Result{{Component: "slow", Status: StatusHealthy, CheckedAt: time.Now()}}
	}
}

// stuckChecker ignores its context entirely, like a stat against a hung
// mount would.
type stuckChecker struct{}

func (stuckChecker) Name() string { return "stuck" }
func (stuckChecker) Check(context.Context) []Result {
	time.Sleep(2 * time.Second)
	return []Result{{Component: "stuck", Status: StatusHealthy, CheckedAt: time.Now()}}
}

func res(component string, st Status) Result {
	return Result{Component: component, Status: st, CheckedAt: time.Now()}
}

func TestWorse(t *testing.T) {
	if Worse(StatusHealthy, StatusDegraded) != StatusDegraded {
		t.Fatal("degraded beats healthy")
	}
	if Worse(StatusUnhealthy, StatusDegraded) != StatusUnhealthy {
		t.Fatal("unhealthy beats degraded")
	}
	if Worse(StatusHealthy, StatusHealthy) != StatusHealthy {
		t.Fatal("healthy stays healthy")
	}
}

func TestRunAllWorstStatusWins(t *testing.T) {
	m := NewManager(nil, nil, time.Second,
		staticChecker{name: "a", results: []Result{res("a", StatusHealthy)}},
		staticChecker{name: "b", results: []Result{res("b1", StatusHealthy), res("b2", StatusDegraded)}},
		staticChecker{name: "c", results: []Result{res("c", StatusUnhealthy)}},
	)
	rep := m.RunAll(context.Background())
	if rep.Overall != StatusUnhealthy {
		t.Fatalf("overall = %v, want unhealthy", rep.Overall)
	}
	if len(rep.Results) != 4 {
		t.Fatalf("results = %d, want 4", len(rep.Results))
	}
	if rep.Counts[StatusHealthy] != 2 || rep.Counts[StatusDegraded] != 1 || rep.Counts[StatusUnhealthy] != 1 {
		t.Fatalf("counts = %v", rep.Counts)
	}
}

func TestRunAllDegradedWithoutUnhealthy(t *testing.T) {
	m := NewManager(nil, nil, time.Second,
		staticChecker{name: "a", results: []Result{res("a", StatusHealthy)}},
		staticChecker{name: "b", results: []Result{res("b", StatusDegraded)}},
	)
	if rep := m.RunAll(context.Background()); rep.Overall != StatusDegraded {
		t.Fatalf("overall = %v, want degraded", rep.Overall)
	}
}

func TestRunAllIsolatesPanickingChecker(t *testing.T) {
	m := NewManager(nil, nil, time.Second,
		panicChecker{},
		staticChecker{name: "ok", results: []Result{res("ok", StatusHealthy)}},
	)
	rep := m.RunAll(context.Background())
	if len(rep.Results) != 2 {
		t.Fatalf("results = %d, want 2 (panic converted, run not aborted)", len(rep.Results))
	}
	var found bool
	for _, r := range rep.Results {
		if r.Component == "broken" {
			found = true
			if r.Status != StatusUnhealthy {
				t.Fatalf("panicking checker status = %v, want unhealthy", r.Status)
			}
		}
	}
	if !found {
		t.Fatal("no result for panicking checker")
	}
	if rep.Overall != StatusUnhealthy {
		t.Fatalf("overall = %v, want unhealthy", rep.Overall)
	}
}

func TestRunAllBoundsSlowProbes(t *testing.T) {
	m := NewManager(nil, nil, 50*time.Millisecond,
		slowChecker{},
		staticChecker{name: "fast", results: []Result{res("fast", StatusHealthy)}},
	)
	started := time.Now()
	rep := m.RunAll(context.Background())
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Fatalf("run took %v; slow probe not bounded", elapsed)
	}
	if len(rep.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(rep.Results))
	}
}

func TestRunAllAbandonsCheckerIgnoringDeadline(t *testing.T) {
	m := NewManager(nil, nil, 50*time.Millisecond,
		stuckChecker{},
		staticChecker{name: "fast", results: []Result{res("fast", StatusHealthy)}},
	)
	started := time.Now()
	rep := m.RunAll(context.Background())
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("RunAll took %v; a checker ignoring its deadline must be abandoned", elapsed)
	}
	var found bool
	for _, r := range rep.Results {
		if r.Component != "stuck" {
			continue
		}
		found = true
		if r.Status != StatusUnhealthy || !strings.Contains(r.Message, "timed out") {
			t.Fatalf("abandoned checker result = %+v", r)
		}
	}
	if !found {
		t.Fatal("no result for abandoned checker")
	}
	if rep.Overall != StatusUnhealthy {
		t.Fatalf("overall = %v, want unhealthy", rep.Overall)
	}
}

func TestRunAllRecordsCollectorMetrics(t *testing.T) {
	c := metrics.NewCollector(0)
	m := NewManager(nil, c, time.Second,
		staticChecker{name: "a", results: []Result{res("a", StatusDegraded)}},
	)
	_ = m.RunAll(context.Background())
	snap := c.Summary(time.Minute)
	if sm, ok := snap.Metrics["health_runs_total"]; !ok || *sm.Sum != 1 {
		t.Fatalf("health_runs_total = %+v", sm)
	}
	if sm, ok := snap.Metrics["health_probes_not_ok_total"]; !ok || *sm.Sum != 1 {
		t.Fatalf("health_probes_not_ok_total = %+v", sm)
	}
}

func TestAPICheckerVerdicts(t *testing.T) {
	newB := func() *breaker.Breaker {
		b, err := breaker.New(breaker.Config{Name: "vendor", FailureThreshold: 3, RecoveryTimeout: time.Minute})
		if err != nil {
			t.Fatalf("breaker: %v", err)
		}
		return b
	}

	t.Run("reachable is healthy", func(t *testing.T) {
		c := NewAPIChecker("vendor-api", func(context.Context) (bool, error) { return true, nil }, newB())
		rs := c.Check(context.Background())
		if rs[0].Status != StatusHealthy {
			t.Fatalf("status = %v", rs[0].Status)
		}
		if rs[0].Details["breaker_state"] != "closed" {
			t.Fatalf("details = %v", rs[0].Details)
		}
	})

	t.Run("unreachable is degraded", func(t *testing.T) {
		c := NewAPIChecker("vendor-api", func(context.Context) (bool, error) { return false, nil }, newB())
		if rs := c.Check(context.Background()); rs[0].Status != StatusDegraded {
			t.Fatalf("status = %v", rs[0].Status)
		}
	})

	t.Run("probe error is unhealthy", func(t *testing.T) {
		c := NewAPIChecker("vendor-api", func(context.Context) (bool, error) { return false, errors.New("dial tcp: refused") }, newB())
		if rs := c.Check(context.Background()); rs[0].Status != StatusUnhealthy {
			t.Fatalf("status = %v", rs[0].Status)
		}
	})

	t.Run("open breaker is unhealthy with state detail", func(t *testing.T) {
		b := newB()
		c := NewAPIChecker("vendor-api", func(context.Context) (bool, error) { return false, errors.New("down") }, b)
		for i := 0; i < 3; i++ {
			_ = c.Check(context.Background())
		}
		rs := c.Check(context.Background())
		if rs[0].Status != StatusUnhealthy {
			t.Fatalf("status = %v", rs[0].Status)
		}
		if rs[0].Details["breaker_state"] != "open" {
			t.Fatalf("breaker_state = %v, want open", rs[0].Details["breaker_state"])
		}
	})
}

func TestResourceCheckerVerdicts(t *testing.T) {
	mk := func(u Utilization, err error) *ResourceChecker {
		c := NewResourceChecker("", 80)
		c.sample = func(context.Context, string) (Utilization, error) { return u, err }
		return c
	}

	t.Run("nominal is healthy", func(t *testing.T) {
		rs := mk(Utilization{CPU: 10, Memory: 40, Disk: 55}, nil).Check(context.Background())
		if rs[0].Status != StatusHealthy {
			t.Fatalf("status = %v", rs[0].Status)
		}
	})

	t.Run("any dimension above threshold is degraded", func(t *testing.T) {
		for _, u := range []Utilization{{CPU: 85}, {Memory: 81}, {Disk: 99.9}} {
			rs := mk(u, nil).Check(context.Background())
			if rs[0].Status != StatusDegraded {
				t.Fatalf("utilization %+v: status = %v, want degraded", u, rs[0].Status)
			}
		}
	})

	t.Run("extreme pressure is still only degraded", func(t *testing.T) {
		// Policy: resource pressure alone never yields unhealthy.
		rs := mk(Utilization{CPU: 99, Memory: 99, Disk: 99}, nil).Check(context.Background())
		if rs[0].Status != StatusDegraded {
			t.Fatalf("status = %v, want degraded", rs[0].Status)
		}
	})

	t.Run("sampling failure is unhealthy", func(t *testing.T) {
		rs := mk(Utilization{}, errors.New("proc unavailable")).Check(context.Background())
		if rs[0].Status != StatusUnhealthy {
			t.Fatalf("status = %v", rs[0].Status)
		}
	})
}
