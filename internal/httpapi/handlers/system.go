package handlers

import (
	"context"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// StatsHandler serves the host statistics endpoint. Disk usage is
// reported for the storage volume, the one that fills up with
// recordings.
type StatsHandler struct {
	storageDir string
}

// NewStatsHandler creates a stats handler reporting disk usage for the
// storage directory.
func NewStatsHandler(storageDir string) *StatsHandler {
	return &StatsHandler{storageDir: storageDir}
}

// StatsInput is the input for the stats endpoint.
type StatsInput struct{}

// StatsOutput is the output for the stats endpoint.
type StatsOutput struct {
	Body StatsResponse
}

// StatsResponse is a point-in-time host snapshot. Sections the host
// refuses to report are omitted rather than failing the request.
type StatsResponse struct {
	Timestamp  string       `json:"timestamp" doc:"Snapshot time, RFC3339"`
	Goroutines int          `json:"goroutines" doc:"Live goroutine count"`
	Host       *HostStats   `json:"host,omitempty"`
	CPU        *CPUStats    `json:"cpu,omitempty"`
	Memory     *MemoryStats `json:"memory,omitempty"`
	Disk       *DiskStats   `json:"disk,omitempty"`
}

// HostStats describes the machine livarr runs on.
type HostStats struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelVersion   string `json:"kernel_version"`
	KernelArch      string `json:"kernel_arch"`
	UptimeSeconds   uint64 `json:"uptime_seconds"`
}

// CPUStats reports logical core count and total usage.
type CPUStats struct {
	LogicalCores int     `json:"logical_cores"`
	UsagePercent float64 `json:"usage_percent"`
}

// MemoryStats reports system memory in megabytes.
type MemoryStats struct {
	TotalMB     float64 `json:"total_mb"`
	AvailableMB float64 `json:"available_mb"`
	UsedMB      float64 `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// DiskStats reports storage volume usage in gigabytes.
type DiskStats struct {
	Path        string  `json:"path"`
	TotalGB     float64 `json:"total_gb"`
	FreeGB      float64 `json:"free_gb"`
	UsedGB      float64 `json:"used_gb"`
	UsedPercent float64 `json:"used_percent"`
}

// Register registers the stats route with the API.
func (h *StatsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getStats",
		Method:      "GET",
		Path:        "/stats",
		Summary:     "Host statistics",
		Description: "Returns a host snapshot: OS, CPU, memory and storage volume usage",
		Tags:        []string{"System"},
	}, h.GetStats)
}

// GetStats returns the host snapshot.
func (h *StatsHandler) GetStats(ctx context.Context, input *StatsInput) (*StatsOutput, error) {
	resp := StatsResponse{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Goroutines: runtime.NumGoroutine(),
	}

	if info, err := host.InfoWithContext(ctx); err == nil && info != nil {
		resp.Host = &HostStats{
			Hostname:        info.Hostname,
			OS:              info.OS,
			Platform:        info.Platform,
			PlatformVersion: info.PlatformVersion,
			KernelVersion:   info.KernelVersion,
			KernelArch:      info.KernelArch,
			UptimeSeconds:   info.Uptime,
		}
	}

	cpuStats := &CPUStats{}
	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		cpuStats.LogicalCores = cores
	}
	// Interval zero compares against the previous call instead of
	// blocking the request.
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		cpuStats.UsagePercent = pct[0]
	}
	if cpuStats.LogicalCores > 0 || cpuStats.UsagePercent > 0 {
		resp.CPU = cpuStats
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		resp.Memory = &MemoryStats{
			TotalMB:     float64(vm.Total) / 1024 / 1024,
			AvailableMB: float64(vm.Available) / 1024 / 1024,
			UsedMB:      float64(vm.Used) / 1024 / 1024,
			UsedPercent: vm.UsedPercent,
		}
	}

	if usage, err := disk.UsageWithContext(ctx, h.storageDir); err == nil && usage != nil {
		resp.Disk = &DiskStats{
			Path:        h.storageDir,
			TotalGB:     float64(usage.Total) / 1024 / 1024 / 1024,
			FreeGB:      float64(usage.Free) / 1024 / 1024 / 1024,
			UsedGB:      float64(usage.Used) / 1024 / 1024 / 1024,
			UsedPercent: usage.UsedPercent,
		}
	}

	return &StatsOutput{Body: resp}, nil
}
