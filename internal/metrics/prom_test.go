package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndHelpersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncStart("web")
	IncStart("web")
	IncRestart("web")
	IncStop("web")
	RecordStateTransition("web", "starting", "running")
	SetHealthStatus("storage", 1)
	SetBreakerState("vendor-api", 2)
	ObserveProbeDuration("storage", 0.05)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"warden_service_starts_total":            false,
		"warden_service_restarts_total":          false,
		"warden_service_stops_total":             false,
		"warden_service_state_transitions_total": false,
		"warden_health_component_status":         false,
		"warden_breaker_state":                   false,
		"warden_health_probe_duration_seconds":   false,
	}
	for _, mf := range mfs {
		if _, ok := wantNames[mf.GetName()]; ok {
			wantNames[mf.GetName()] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", mf.GetName())
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncStart("recorder")

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "warden_service_starts_total") {
		t.Fatal("metrics output missing starts_total")
	}
}

func TestHelpersBeforeRegisterAreNoOps(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	IncStart("x")
	IncRestart("x")
	IncStop("x")
	RecordStateTransition("x", "a", "b")
	SetHealthStatus("x", 0)
	SetBreakerState("x", 0)
	ObserveProbeDuration("x", 1)
}

func TestConcurrentHelperCalls(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncStart("c")
			IncRestart("c")
			IncStop("c")
		}()
	}
	wg.Wait()
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}
