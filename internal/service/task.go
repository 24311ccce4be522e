package service

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TaskFunc is a long-running in-process service body. It must return promptly
// after ctx is canceled; a nil return is a clean exit.
type TaskFunc func(ctx context.Context) error

// TaskRunner runs descriptors as goroutines instead of child processes. Used
// for built-in workers that live inside the daemon.
type TaskRunner struct{}

func (TaskRunner) Start(ctx context.Context, d Descriptor, _ int) (Handle, error) {
	if d.Task == nil {
		return nil, fmt.Errorf("service %s: no task body", d.Name)
	}
	tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &taskHandle{cancel: cancel, done: make(chan struct{})}
	go func() {
		err := d.Task(tctx)
		h.mu.Lock()
		h.exitErr = err
		h.mu.Unlock()
		close(h.done)
	}()
	return h, nil
}

type taskHandle struct {
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
	exitErr error
}

func (h *taskHandle) PID() int { return 0 }

func (h *taskHandle) Done() <-chan struct{} { return h.done }

func (h *taskHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *taskHandle) ExitError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

func (h *taskHandle) Stop(grace time.Duration) error {
	h.cancel()
	select {
	case <-h.done:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("task did not stop within %v", grace)
	}
}
