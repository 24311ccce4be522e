package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// DefaultResourceThreshold is the utilization percentage above which the
// resource checker reports degraded.
const DefaultResourceThreshold = 80.0

// Utilization is one sampling of system pressure, in percent.
type Utilization struct {
	CPU    float64
	Memory float64
	Disk   float64
}

// ResourceChecker samples CPU/memory/disk utilization. Any dimension above
// the threshold makes the verdict degraded. By policy resource pressure alone
// is never unhealthy: the machine is still serving, just under load, and the
// supervisor must not restart services for it.
type ResourceChecker struct {
	diskPath  string
	threshold float64

	// overridable in tests
	sample func(ctx context.Context, diskPath string) (Utilization, error)
}

// NewResourceChecker builds the checker. diskPath "" defaults to the root
// filesystem; threshold <= 0 selects DefaultResourceThreshold.
func NewResourceChecker(diskPath string, threshold float64) *ResourceChecker {
	if diskPath == "" {
		diskPath = "/"
	}
	if threshold <= 0 {
		threshold = DefaultResourceThreshold
	}
	return &ResourceChecker{diskPath: diskPath, threshold: threshold, sample: sampleUtilization}
}

func (c *ResourceChecker) Name() string { return "system" }

func (c *ResourceChecker) Check(ctx context.Context) []Result {
	started := time.Now()
	u, err := c.sample(ctx, c.diskPath)
	if err != nil {
		return []Result{newResult(c.Name(), StatusUnhealthy, fmt.Sprintf("resource sampling failed: %v", err), started)}
	}

	var over []string
	if u.CPU > c.threshold {
		over = append(over, fmt.Sprintf("cpu %.1f%%", u.CPU))
	}
	if u.Memory > c.threshold {
		over = append(over, fmt.Sprintf("memory %.1f%%", u.Memory))
	}
	if u.Disk > c.threshold {
		over = append(over, fmt.Sprintf("disk %.1f%%", u.Disk))
	}

	status := StatusHealthy
	msg := "resource utilization nominal"
	if len(over) > 0 {
		status = StatusDegraded
		msg = "high utilization: " + strings.Join(over, ", ")
	}
	r := newResult(c.Name(), status, msg, started)
	r.Details = map[string]any{
		"cpu_percent":    u.CPU,
		"memory_percent": u.Memory,
		"disk_percent":   u.Disk,
		"threshold":      c.threshold,
	}
	return []Result{r}
}

func sampleUtilization(ctx context.Context, diskPath string) (Utilization, error) {
	var u Utilization
	cpus, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return u, fmt.Errorf("cpu: %w", err)
	}
	if len(cpus) > 0 {
		u.CPU = cpus[0]
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return u, fmt.Errorf("memory: %w", err)
	}
	u.Memory = vm.UsedPercent
	du, err := disk.UsageWithContext(ctx, diskPath)
	if err != nil {
		return u, fmt.Errorf("disk: %w", err)
	}
	u.Disk = du.UsedPercent
	return u, nil
}
