// Package system reads host resource usage for the watchdog and the metrics endpoint
package system

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"evolution-relay/internal/core/ports"
)

var _ ports.SystemProbe = (*Probe)(nil)

// Probe samples CPU, memory and disk through gopsutil
type Probe struct {
	diskPath  string
	cpuWindow time.Duration
}

// NewProbe creates a probe that measures disk usage of diskPath
func NewProbe(diskPath string) *Probe {
	if diskPath == "" {
		diskPath = "."
	}
	return &Probe{
		diskPath:  diskPath,
		cpuWindow: 200 * time.Millisecond,
	}
}

// Usage returns a point-in-time snapshot. Memory and disk are required,
// CPU is best effort.
func (p *Probe) Usage(ctx context.Context) (ports.ResourceUsage, error) {
	usage := ports.ResourceUsage{
		Goroutines: runtime.NumGoroutine(),
	}

	memStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return usage, fmt.Errorf("read memory stats: %w", err)
	}
	usage.MemoryPercent = round2(memStat.UsedPercent)
	usage.MemoryUsedMB = memStat.Used / 1024 / 1024
	usage.MemoryTotalMB = memStat.Total / 1024 / 1024

	diskStat, err := disk.UsageWithContext(ctx, p.diskPath)
	if err != nil {
		return usage, fmt.Errorf("read disk stats: %w", err)
	}
	usage.DiskPercent = round2(diskStat.UsedPercent)
	usage.DiskFreeGB = round2(float64(diskStat.Free) / 1024 / 1024 / 1024)

	if percents, err := cpu.PercentWithContext(ctx, p.cpuWindow, false); err == nil && len(percents) > 0 {
		usage.CPUPercent = round2(percents[0])
	}

	return usage, nil
}

func round2(val float64) float64 {
	return float64(int(val*100)) / 100
}
