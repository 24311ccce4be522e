package metrics

import (
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcStats holds a point-in-time resource sample for one spawned service
// process, surfaced as status detail only.
type ProcStats struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	NumThreads int32     `json:"num_threads"`
	SampledAt  time.Time `json:"sampled_at"`
}

// SampleProcess collects CPU/memory usage for pid. Failures are returned to
// the caller; a dead PID is a normal occurrence during restarts.
func SampleProcess(pid int) (ProcStats, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return ProcStats{}, err
	}
	st := ProcStats{PID: int32(pid), SampledAt: time.Now()}
	if cpu, err := p.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}
	if mi, err := p.MemoryInfo(); err == nil && mi != nil {
		st.MemoryMB = float64(mi.RSS) / (1024 * 1024)
	}
	if nt, err := p.NumThreads(); err == nil {
		st.NumThreads = nt
	}
	return st, nil
}
