package pipeline

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/lookout/errors"
)

// minAvailableGB is the free memory below which detector runs are likely to
// swap or get OOM-killed
const minAvailableGB = 2.0

// SystemMetrics is host memory usage, reported by /health
type SystemMetrics struct {
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
}

// memoryStats is swapped in tests
var memoryStats = func() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// GetSystemMetrics returns current memory usage. Zero values mean the
// platform could not report it.
func GetSystemMetrics() SystemMetrics {
	total, available, err := memoryStats()
	if err != nil || total == 0 {
		return SystemMetrics{}
	}

	totalGB := float64(total) / 1024 / 1024 / 1024
	usedGB := float64(total-available) / 1024 / 1024 / 1024
	return SystemMetrics{
		MemoryUsedGB:  usedGB,
		MemoryTotalGB: totalGB,
		MemoryPercent: usedGB / totalGB * 100,
	}
}

// checkMemoryPressure returns a warning when available memory is low,
// empty string if OK or unknown
func checkMemoryPressure() string {
	total, available, err := memoryStats()
	if err != nil {
		return ""
	}

	availableGB := float64(available) / 1024 / 1024 / 1024
	totalGB := float64(total) / 1024 / 1024 / 1024
	if availableGB < minAvailableGB {
		return fmt.Sprintf(
			"only %.1f of %.1fGB memory available; detector runs may be slow or killed",
			availableGB, totalGB)
	}
	return ""
}
