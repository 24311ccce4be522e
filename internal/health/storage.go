package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
)

// StorageChecker probes the configured media mount paths. A missing path is
// unhealthy; a path that exists but is not a real mountpoint, or a mount that
// refuses a write probe, is degraded. Free space is reported as detail only
// and never influences the verdict.
type StorageChecker struct {
	paths []string

	// overridable in tests
	isMountpoint func(path string) (bool, error)
	usage        func(path string) (*disk.UsageStat, error)
}

func NewStorageChecker(paths []string) *StorageChecker {
	return &StorageChecker{
		paths:        paths,
		isMountpoint: isMountpoint,
		usage:        disk.Usage,
	}
}

func (c *StorageChecker) Name() string { return "storage" }

func (c *StorageChecker) Check(ctx context.Context) []Result {
	results := make([]Result, 0, len(c.paths))
	for _, p := range c.paths {
		select {
		case <-ctx.Done():
			results = append(results, newResult("storage:"+p, StatusUnhealthy, "probe cancelled: "+ctx.Err().Error(), time.Now()))
			continue
		default:
		}
		results = append(results, c.checkPath(p))
	}
	return results
}

func (c *StorageChecker) checkPath(path string) Result {
	started := time.Now()
	component := "storage:" + path

	fi, err := os.Stat(path)
	if err != nil {
		return newResult(component, StatusUnhealthy, fmt.Sprintf("path not accessible: %v", err), started)
	}
	if !fi.IsDir() {
		return newResult(component, StatusUnhealthy, "path is not a directory", started)
	}

	status := StatusHealthy
	msg := "mounted and writable"
	mounted, err := c.isMountpoint(path)
	switch {
	case err != nil:
		status, msg = StatusDegraded, fmt.Sprintf("mountpoint check failed: %v", err)
	case !mounted:
		status, msg = StatusDegraded, "path exists but is not a mounted filesystem"
	default:
		if err := writeProbe(path); err != nil {
			status, msg = StatusDegraded, fmt.Sprintf("write probe failed: %v", err)
		}
	}

	res := newResult(component, status, msg, started)
	res.Details = map[string]any{"mounted": mounted}
	if u, err := c.usage(path); err == nil && u != nil {
		res.Details["free_bytes"] = u.Free
		res.Details["total_bytes"] = u.Total
		res.Details["used_percent"] = u.UsedPercent
	}
	return res
}

// writeProbe creates and deletes a small marker file to prove the mount
// accepts writes.
func writeProbe(dir string) error {
	f, err := os.CreateTemp(dir, ".warden-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	if _, err := f.Write([]byte("ok")); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Remove(name)
}

// isMountpoint reports whether path sits on a different device than its
// parent directory. The filesystem root is trivially a mountpoint.
func isMountpoint(path string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	if abs == string(filepath.Separator) {
		return true, nil
	}
	st, err := os.Stat(abs)
	if err != nil {
		return false, err
	}
	parentSt, err := os.Stat(filepath.Dir(abs))
	if err != nil {
		return false, err
	}
	sys, ok := st.Sys().(*syscall.Stat_t)
	if !ok {
		return false, fmt.Errorf("unsupported stat type %T", st.Sys())
	}
	parentSys, ok := parentSt.Sys().(*syscall.Stat_t)
	if !ok {
		return false, fmt.Errorf("unsupported stat type %T", parentSt.Sys())
	}
	return sys.Dev != parentSys.Dev, nil
}
