package observability

import (
	"os"

	"github.com/shirou/gopsutil/process"
)

// ProcessStats is a point-in-time view of the relay process itself.
type ProcessStats struct {
	PID        int32   `json:"pid"`
	Status     string  `json:"status"`
	RssBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
}

// SelfStats retrieves memory, CPU and OS status of the current process.
func SelfStats() (ProcessStats, error) {
	pid := int32(os.Getpid())
	p, err := process.NewProcess(pid)
	if err != nil {
		return ProcessStats{}, err
	}
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return ProcessStats{}, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return ProcessStats{}, err
	}
	status, err := p.Status()
	if err != nil {
		return ProcessStats{}, err
	}
	return ProcessStats{PID: pid, Status: status, RssBytes: memInfo.RSS, CPUPercent: cpuPercent}, nil
}
