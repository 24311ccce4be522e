package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCaptureWritersDefaultPaths(t *testing.T) {
	dir := t.TempDir()
	c := Capture{Dir: dir}
	out, errW, err := c.Writers("recorder")
	if err != nil {
		t.Fatalf("writers: %v", err)
	}
	if out == nil || errW == nil {
		t.Fatalf("expected both writers, got %v %v", out, errW)
	}
	if _, err := out.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write stdout: %v", err)
	}
	if _, err := errW.Write([]byte("oops\n")); err != nil {
		t.Fatalf("write stderr: %v", err)
	}
	_ = out.Close()
	_ = errW.Close()
	if _, err := os.Stat(filepath.Join(dir, "recorder.stdout.log")); err != nil {
		t.Fatalf("stdout log missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "recorder.stderr.log")); err != nil {
		t.Fatalf("stderr log missing: %v", err)
	}
}

func TestCaptureExplicitPathsOverrideDir(t *testing.T) {
	dir := t.TempDir()
	c := Capture{Dir: dir, StdoutPath: filepath.Join(dir, "custom.out")}
	out, _, err := c.Writers("web")
	if err != nil {
		t.Fatalf("writers: %v", err)
	}
	if _, err := out.Write([]byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = out.Close()
	if _, err := os.Stat(filepath.Join(dir, "custom.out")); err != nil {
		t.Fatalf("explicit stdout path not used: %v", err)
	}
}

func TestCaptureDisabled(t *testing.T) {
	var c Capture
	if c.Enabled() {
		t.Fatal("zero capture should be disabled")
	}
	out, errW, err := c.Writers("noop")
	if err != nil {
		t.Fatalf("writers: %v", err)
	}
	if out != nil || errW != nil {
		t.Fatal("expected nil writers when capture is disabled")
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, "warn", false)
	lg.Info("hidden")
	lg.Warn("visible", "service", "web")
	s := buf.String()
	if strings.Contains(s, "hidden") {
		t.Fatalf("info should be filtered at warn level: %s", s)
	}
	if !strings.Contains(s, "visible") || !strings.Contains(s, "service=web") {
		t.Fatalf("warn record missing: %s", s)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
