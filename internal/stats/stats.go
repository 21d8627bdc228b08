// Package stats collects system statistics for the worker status
// heartbeat.
package stats

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is a point-in-time view of the worker host.
type Snapshot struct {
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	Arch     string `json:"arch"`

	UptimeSeconds  int64   `json:"uptime_seconds"`
	ProcessUptime  float64 `json:"process_uptime_seconds"`
	GoroutineCount int     `json:"goroutine_count"`

	CPUCores   int     `json:"cpu_cores"`
	CPUPercent float64 `json:"cpu_percent"`
	LoadAvg1m  float64 `json:"load_avg_1m"`
	LoadAvg5m  float64 `json:"load_avg_5m"`
	LoadAvg15m float64 `json:"load_avg_15m"`

	MemoryTotalBytes uint64  `json:"memory_total_bytes"`
	MemoryUsedBytes  uint64  `json:"memory_used_bytes"`
	MemoryPercent    float64 `json:"memory_percent"`

	DiskTotalBytes     uint64  `json:"disk_total_bytes"`
	DiskAvailableBytes uint64  `json:"disk_available_bytes"`
	DiskPercent        float64 `json:"disk_percent"`
}

// Collector gathers host statistics. Metrics that cannot be read on the
// current platform are left at their zero value.
type Collector struct {
	hostname  string
	startTime time.Time
	diskPath  string
}

// NewCollector creates a collector. diskPath is the directory whose
// filesystem usage is reported, typically the working storage root.
func NewCollector(diskPath string) *Collector {
	hostname, _ := os.Hostname()
	if diskPath == "" {
		diskPath, _ = os.Getwd()
	}
	return &Collector{
		hostname:  hostname,
		startTime: time.Now(),
		diskPath:  diskPath,
	}
}

// Collect gathers current system statistics.
func (c *Collector) Collect(ctx context.Context) *Snapshot {
	snap := &Snapshot{
		Hostname:       c.hostname,
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
		ProcessUptime:  time.Since(c.startTime).Seconds(),
		GoroutineCount: runtime.NumGoroutine(),
	}

	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		snap.UptimeSeconds = int64(uptime)
	}

	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		snap.CPUCores = cores
	}
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}

	if loadAvg, err := load.AvgWithContext(ctx); err == nil {
		snap.LoadAvg1m = loadAvg.Load1
		snap.LoadAvg5m = loadAvg.Load5
		snap.LoadAvg15m = loadAvg.Load15
	}

	if memInfo, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemoryTotalBytes = memInfo.Total
		snap.MemoryUsedBytes = memInfo.Used
		snap.MemoryPercent = memInfo.UsedPercent
	}

	if diskInfo, err := disk.UsageWithContext(ctx, c.diskPath); err == nil {
		snap.DiskTotalBytes = diskInfo.Total
		snap.DiskAvailableBytes = diskInfo.Free
		snap.DiskPercent = diskInfo.UsedPercent
	}

	return snap
}
