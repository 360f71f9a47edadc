package ports

import "context"

// ResourceUsage is a point-in-time snapshot of host pressure
type ResourceUsage struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	MemoryTotalMB uint64  `json:"memory_total_mb"`
	DiskPercent   float64 `json:"disk_percent"`
	DiskFreeGB    float64 `json:"disk_free_gb"`
	Goroutines    int     `json:"goroutines"`
}

// SystemProbe reads host resource usage
type SystemProbe interface {
	Usage(ctx context.Context) (ResourceUsage, error)
}
