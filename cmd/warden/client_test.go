package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewAPIClientDefaults(t *testing.T) {
	c := NewAPIClient("", 0)
	if c.baseURL != "http://127.0.0.1:8085" {
		t.Errorf("expected default baseURL http://127.0.0.1:8085, got %s", c.baseURL)
	}
	if c.client.Timeout != 10*time.Second {
		t.Errorf("expected default timeout 10s, got %v", c.client.Timeout)
	}

	c = NewAPIClient("http://example.com:9000/", 5*time.Second)
	if c.baseURL != "http://example.com:9000" {
		t.Errorf("expected trailing slash stripped, got %s", c.baseURL)
	}
	if c.client.Timeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %v", c.client.Timeout)
	}
}

func TestAPIClientStatuses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/services" && r.Method == http.MethodGet {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`[{"name":"camera-capture","state":"running","pid":4242},{"name":"indexer","state":"stopped"}]`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewAPIClient(server.URL, time.Second)
	sts, err := c.Statuses()
	if err != nil {
		t.Fatalf("Statuses: %v", err)
	}
	if len(sts) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(sts))
	}
	if sts[0].Name != "camera-capture" || string(sts[0].State) != "running" || sts[0].PID != 4242 {
		t.Errorf("unexpected first status: %+v", sts[0])
	}
}

func TestAPIClientStatusByName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/services/camera-capture" {
			_, _ = w.Write([]byte(`{"name":"camera-capture","state":"degraded","restart_attempts":1}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"unknown service"}`))
	}))
	defer server.Close()

	c := NewAPIClient(server.URL, time.Second)
	st, err := c.Status("camera-capture")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if string(st.State) != "degraded" || st.RestartAttempts != 1 {
		t.Errorf("unexpected status: %+v", st)
	}

	if _, err := c.Status("ghost"); err == nil {
		t.Fatal("expected error for unknown service")
	} else if err.Error() != "daemon error: unknown service" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestAPIClientHealthDegraded(t *testing.T) {
	// The health endpoint answers 503 with a full report body; the client
	// must surface the report, not an error.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"overall_status":"unhealthy","results":[{"component":"transcription-api","status":"unhealthy","message":"circuit open"}],"counts":{"unhealthy":1}}`))
	}))
	defer server.Close()

	c := NewAPIClient(server.URL, time.Second)
	rep, err := c.Health()
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if rep.Overall != "unhealthy" {
		t.Errorf("expected unhealthy overall status, got %s", rep.Overall)
	}
	if len(rep.Results) != 1 || rep.Results[0].Component != "transcription-api" {
		t.Errorf("unexpected results: %+v", rep.Results)
	}
}

func TestAPIClientStartStop(t *testing.T) {
	var gotPaths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		gotPaths = append(gotPaths, r.URL.Path)
		_, _ = w.Write([]byte(`{"result":"ok"}`))
	}))
	defer server.Close()

	c := NewAPIClient(server.URL, time.Second)
	if err := c.Start("indexer"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop("indexer"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(gotPaths) != 2 || gotPaths[0] != "/services/indexer/start" || gotPaths[1] != "/services/indexer/stop" {
		t.Errorf("unexpected request paths: %v", gotPaths)
	}
}

func TestAPIClientSummaryWindow(t *testing.T) {
	var gotWindow string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotWindow = r.URL.Query().Get("window")
		_, _ = w.Write([]byte(`{"window":300000000000,"metrics":{"uploads_total":{"kind":"counter","count":3,"sum":3}}}`))
	}))
	defer server.Close()

	c := NewAPIClient(server.URL, time.Second)
	snap, err := c.Summary(5 * time.Minute)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if gotWindow != "5m0s" {
		t.Errorf("expected window query 5m0s, got %q", gotWindow)
	}
	if snap.Window != 5*time.Minute {
		t.Errorf("expected 5m window, got %v", snap.Window)
	}
	sum := snap.Metrics["uploads_total"]
	if sum.Count != 3 || sum.Sum == nil || *sum.Sum != 3 {
		t.Errorf("unexpected summary: %+v", sum)
	}
}

func TestAPIClientUnreachable(t *testing.T) {
	c := NewAPIClient("http://127.0.0.1:1", 100*time.Millisecond)
	if _, err := c.Statuses(); err == nil {
		t.Fatal("expected error for unreachable daemon")
	}
}
