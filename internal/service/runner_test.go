package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mirrorlake/warden/internal/logger"
)

func waitExit(t *testing.T, h Handle, d time.Duration) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(d):
		t.Fatal("instance did not exit in time")
	}
}

func TestProcessRunnerStartAndExit(t *testing.T) {
	h, err := ProcessRunner{}.Start(context.Background(), Descriptor{Name: "quick", Command: "true"}, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if h.PID() <= 0 {
		t.Fatalf("pid = %d", h.PID())
	}
	waitExit(t, h, 5*time.Second)
	if h.Alive() {
		t.Fatal("alive after exit")
	}
	if h.ExitError() != nil {
		t.Fatalf("exit error = %v", h.ExitError())
	}
}

func TestProcessRunnerNonZeroExit(t *testing.T) {
	h, err := ProcessRunner{}.Start(context.Background(), Descriptor{Name: "bad", Command: "sh -c 'exit 3'"}, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitExit(t, h, 5*time.Second)
	if h.ExitError() == nil {
		t.Fatal("expected non-nil exit error")
	}
}

func TestProcessRunnerStopTerminates(t *testing.T) {
	h, err := ProcessRunner{}.Start(context.Background(), Descriptor{Name: "long", Command: "sleep 30"}, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !h.Alive() {
		t.Fatal("not alive after start")
	}
	started := time.Now()
	if err := h.Stop(2 * time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Fatalf("stop took %v", elapsed)
	}
	if h.Alive() {
		t.Fatal("alive after stop")
	}
}

func TestProcessRunnerStopEscalatesToKill(t *testing.T) {
	// Trap TERM so only the kill escalation can end it.
	h, err := ProcessRunner{}.Start(context.Background(),
		Descriptor{Name: "stubborn", Command: "sh -c 'trap \"\" TERM; sleep 30'"}, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if err := h.Stop(300 * time.Millisecond); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if h.Alive() {
		t.Fatal("alive after kill escalation")
	}
}

func TestProcessRunnerStopIdempotentAfterExit(t *testing.T) {
	h, err := ProcessRunner{}.Start(context.Background(), Descriptor{Name: "quick", Command: "true"}, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitExit(t, h, 5*time.Second)
	if err := h.Stop(time.Second); err != nil {
		t.Fatalf("stop after exit: %v", err)
	}
}

func TestProcessRunnerPortInEnv(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "port.txt")
	h, err := ProcessRunner{}.Start(context.Background(),
		Descriptor{Name: "porter", Command: "sh -c 'echo $PORT > " + out + "'"}, 8443)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitExit(t, h, 5*time.Second)
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := strings.TrimSpace(string(b)); got != "8443" {
		t.Fatalf("PORT = %q", got)
	}
}

func TestProcessRunnerCapturesOutput(t *testing.T) {
	dir := t.TempDir()
	d := Descriptor{
		Name:    "capture",
		Command: "sh -c 'echo out-line; echo err-line 1>&2'",
		Log:     logger.Capture{Dir: dir},
	}
	h, err := ProcessRunner{}.Start(context.Background(), d, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitExit(t, h, 5*time.Second)

	stdout, err := os.ReadFile(filepath.Join(dir, "capture.stdout.log"))
	if err != nil {
		t.Fatalf("stdout capture: %v", err)
	}
	if !strings.Contains(string(stdout), "out-line") {
		t.Fatalf("stdout = %q", stdout)
	}
	stderr, err := os.ReadFile(filepath.Join(dir, "capture.stderr.log"))
	if err != nil {
		t.Fatalf("stderr capture: %v", err)
	}
	if !strings.Contains(string(stderr), "err-line") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestProcessRunnerBadBinary(t *testing.T) {
	_, err := ProcessRunner{}.Start(context.Background(),
		Descriptor{Name: "ghost", Command: "/definitely/not/a/binary"}, 0)
	if err == nil {
		t.Fatal("expected start error")
	}
}

func TestTaskRunnerLifecycle(t *testing.T) {
	started := make(chan struct{})
	d := Descriptor{
		Name: "indexer",
		Task: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return nil
		},
	}
	h, err := TaskRunner{}.Start(context.Background(), d, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("task body never ran")
	}
	if h.PID() != 0 {
		t.Fatalf("pid = %d, want 0 for task", h.PID())
	}
	if err := h.Stop(time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if h.Alive() {
		t.Fatal("alive after stop")
	}
}

func TestTaskRunnerFailureSurfacesError(t *testing.T) {
	boom := errors.New("encoder pipeline broke")
	h, err := TaskRunner{}.Start(context.Background(),
		Descriptor{Name: "enc", Task: func(context.Context) error { return boom }}, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitExit(t, h, time.Second)
	if !errors.Is(h.ExitError(), boom) {
		t.Fatalf("exit error = %v", h.ExitError())
	}
}

func TestTaskRunnerStopTimeout(t *testing.T) {
	h, err := TaskRunner{}.Start(context.Background(),
		Descriptor{Name: "wedged", Task: func(context.Context) error { select {} }}, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.Stop(50 * time.Millisecond); err == nil {
		t.Fatal("expected stop timeout error")
	}
}

func TestTaskRunnerRequiresBody(t *testing.T) {
	if _, err := (TaskRunner{}).Start(context.Background(), Descriptor{Name: "none"}, 0); err == nil {
		t.Fatal("expected error for missing task body")
	}
}
