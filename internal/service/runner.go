package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Handle is one live instance of a started service.
type Handle interface {
	PID() int // 0 for in-process tasks
	Alive() bool
	// Done is closed once the instance has exited and been reaped.
	Done() <-chan struct{}
	// ExitError reports the exit error after Done is closed.
	ExitError() error
	// Stop requests a graceful stop and escalates to a kill after grace.
	Stop(grace time.Duration) error
}

// Runner starts one instance of a descriptor. port is the resolved listen
// port, 0 when the service requested none.
type Runner interface {
	Start(ctx context.Context, d Descriptor, port int) (Handle, error)
}

// ProcessRunner spawns descriptors as OS child processes in their own process
// group, with stdout/stderr captured to rotating files when configured.
type ProcessRunner struct{}

func (ProcessRunner) Start(_ context.Context, d Descriptor, port int) (Handle, error) {
	cmd := buildCommand(d.Command)
	if d.WorkDir != "" {
		cmd.Dir = d.WorkDir
	}
	env := append(os.Environ(), d.Env...)
	if port > 0 {
		env = append(env, "PORT="+strconv.Itoa(port))
	}
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	h := &procHandle{done: make(chan struct{})}
	if d.Log.Enabled() {
		outW, errW, err := d.Log.Writers(d.Name)
		if err != nil {
			return nil, fmt.Errorf("service %s: open capture writers: %w", d.Name, err)
		}
		cmd.Stdout = outW
		cmd.Stderr = errW
		for _, c := range []io.Closer{outW, errW} {
			if c != nil {
				h.closers = append(h.closers, c)
			}
		}
	} else {
		null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if err != nil {
			return nil, fmt.Errorf("service %s: open %s: %w", d.Name, os.DevNull, err)
		}
		cmd.Stdout = null
		cmd.Stderr = null
		h.closers = []io.Closer{null}
	}

	if err := cmd.Start(); err != nil {
		h.closeWriters()
		return nil, fmt.Errorf("service %s: start %q: %w", d.Name, d.Command, err)
	}
	h.cmd = cmd
	h.pid = cmd.Process.Pid

	// Single reaper per instance. Stop never calls cmd.Wait itself; it waits
	// on done to avoid racing the reaper.
	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.exitErr = err
		h.mu.Unlock()
		h.closeWriters()
		close(h.done)
	}()
	return h, nil
}

type procHandle struct {
	cmd     *exec.Cmd
	pid     int
	done    chan struct{}
	mu      sync.Mutex
	exitErr error
	closers []io.Closer
}

func (h *procHandle) PID() int { return h.pid }

func (h *procHandle) Done() <-chan struct{} { return h.done }

func (h *procHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *procHandle) ExitError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// Stop signals the whole process group: SIGTERM first, SIGKILL once grace
// elapses. Returns nil when the instance already exited.
func (h *procHandle) Stop(grace time.Duration) error {
	select {
	case <-h.done:
		return nil
	default:
	}
	_ = syscall.Kill(-h.pid, syscall.SIGTERM)
	select {
	case <-h.done:
		return nil
	case <-time.After(grace):
	}
	_ = syscall.Kill(-h.pid, syscall.SIGKILL)
	select {
	case <-h.done:
		return nil
	case <-time.After(2 * time.Second):
		return fmt.Errorf("pid %d: not reaped after SIGKILL", h.pid)
	}
}

func (h *procHandle) closeWriters() {
	h.mu.Lock()
	cs := h.closers
	h.closers = nil
	h.mu.Unlock()
	for _, c := range cs {
		_ = c.Close()
	}
}
