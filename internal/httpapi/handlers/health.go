// Package handlers implements the admin API operations.
package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/livarr/livarr/internal/database"
)

// SchedulerStatus exposes the scheduler state the health endpoints
// report.
type SchedulerStatus interface {
	Jobs() []string
	LiveStreamers() []string
}

// HealthHandler serves the liveness, readiness and health endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *database.DB
	scheduler SchedulerStatus
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB attaches the database for readiness and health reporting.
func (h *HealthHandler) WithDB(db *database.DB) *HealthHandler {
	h.db = db
	return h
}

// WithScheduler attaches the scheduler for job and live-state reporting.
func (h *HealthHandler) WithScheduler(s SchedulerStatus) *HealthHandler {
	h.scheduler = s
	return h
}

// LivezInput is the input for the liveness endpoint.
type LivezInput struct{}

// LivezOutput is the output for the liveness endpoint.
type LivezOutput struct {
	Body struct {
		Status string `json:"status" doc:"Liveness status"`
	}
}

// ReadyzInput is the input for the readiness endpoint.
type ReadyzInput struct{}

// ReadyzOutput is the output for the readiness endpoint.
type ReadyzOutput struct {
	Body struct {
		Status     string            `json:"status" doc:"ready or not_ready"`
		Components map[string]string `json:"components" doc:"Per-component readiness"`
	}
}

// HealthInput is the input for the health endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// HealthResponse is the full health report.
type HealthResponse struct {
	Status        string          `json:"status" doc:"Overall service status"`
	Timestamp     string          `json:"timestamp" doc:"Report time, RFC3339"`
	Version       string          `json:"version" doc:"Build version"`
	Uptime        string          `json:"uptime" doc:"Process uptime"`
	UptimeSeconds float64         `json:"uptime_seconds" doc:"Process uptime in seconds"`
	CPU           CPUInfo         `json:"cpu"`
	Memory        MemoryInfo      `json:"memory"`
	Database      *DatabaseHealth `json:"database,omitempty"`
	Scheduler     *SchedulerInfo  `json:"scheduler,omitempty"`
}

// CPUInfo reports system load.
type CPUInfo struct {
	Cores              int     `json:"cores" doc:"Logical CPU count"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min" doc:"1min load normalized by core count"`
}

// MemoryInfo reports system and process memory in megabytes.
type MemoryInfo struct {
	TotalMemoryMB     float64           `json:"total_memory_mb"`
	UsedMemoryMB      float64           `json:"used_memory_mb"`
	FreeMemoryMB      float64           `json:"free_memory_mb"`
	AvailableMemoryMB float64           `json:"available_memory_mb"`
	SwapTotalMB       float64           `json:"swap_total_mb"`
	SwapUsedMB        float64           `json:"swap_used_mb"`
	Process           ProcessMemoryInfo `json:"process"`
}

// ProcessMemoryInfo reports the livarr process tree. Child processes
// are the ffmpeg captures and encodes in flight.
type ProcessMemoryInfo struct {
	MainProcessMB      float64 `json:"main_process_mb"`
	ChildProcessCount  int     `json:"child_process_count"`
	ChildProcessesMB   float64 `json:"child_processes_mb"`
	TotalProcessTreeMB float64 `json:"total_process_tree_mb"`
	PercentageOfSystem float64 `json:"percentage_of_system"`
	Goroutines         int     `json:"goroutines"`
}

// DatabaseHealth reports connectivity and pool state.
type DatabaseHealth struct {
	Status             string  `json:"status" doc:"ok or error"`
	Driver             string  `json:"driver"`
	ResponseTimeMS     float64 `json:"response_time_ms"`
	ResponseTimeStatus string  `json:"response_time_status" doc:"healthy, slow or error"`
	ConnectionPoolSize int     `json:"connection_pool_size"`
	ActiveConnections  int     `json:"active_connections"`
	IdleConnections    int     `json:"idle_connections"`
	Error              string  `json:"error,omitempty"`
}

// SchedulerInfo reports the registered jobs and which monitored
// streamers are currently live.
type SchedulerInfo struct {
	Jobs          []string `json:"jobs"`
	LiveStreamers []string `json:"live_streamers"`
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness probe",
		Description: "Returns ok while the process is able to serve requests",
		Tags:        []string{"System"},
	}, h.GetLivez)
	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      "GET",
		Path:        "/readyz",
		Summary:     "Readiness probe",
		Description: "Reports per-component readiness; not_ready until the database answers",
		Tags:        []string{"System"},
	}, h.GetReadyz)
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetLivez returns the liveness status.
func (h *HealthHandler) GetLivez(ctx context.Context, input *LivezInput) (*LivezOutput, error) {
	out := &LivezOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// GetReadyz returns per-component readiness. The service is ready once
// the database answers a ping; the scheduler is reported but optional.
func (h *HealthHandler) GetReadyz(ctx context.Context, input *ReadyzInput) (*ReadyzOutput, error) {
	out := &ReadyzOutput{}
	out.Body.Status = "ready"
	out.Body.Components = make(map[string]string)

	switch {
	case h.db == nil:
		out.Body.Components["database"] = "not_configured"
		out.Body.Status = "not_ready"
	case h.db.Ping(ctx) != nil:
		out.Body.Components["database"] = "error"
		out.Body.Status = "not_ready"
	default:
		out.Body.Components["database"] = "ok"
	}

	if h.scheduler == nil {
		out.Body.Components["scheduler"] = "not_configured"
	} else {
		out.Body.Components["scheduler"] = "ok"
	}

	return out, nil
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	body := HealthResponse{
		Status:        "healthy",
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		CPU:           h.cpuInfo(),
	}
	body.Memory = h.memoryInfo()
	body.Database = h.databaseHealth(ctx)

	if h.scheduler != nil {
		body.Scheduler = &SchedulerInfo{
			Jobs:          h.scheduler.Jobs(),
			LiveStreamers: h.scheduler.LiveStreamers(),
		}
	}

	return &HealthOutput{Body: body}, nil
}

// cpuInfo returns CPU load information.
func (h *HealthHandler) cpuInfo() CPUInfo {
	cores := runtime.NumCPU()
	info := CPUInfo{Cores: cores}

	loadAvg, err := load.Avg()
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
		if cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(cores)) * 100
		}
	}

	return info
}

// memoryInfo returns memory usage information.
func (h *HealthHandler) memoryInfo() MemoryInfo {
	info := MemoryInfo{}

	vmStat, err := mem.VirtualMemory()
	if err == nil && vmStat != nil {
		info.TotalMemoryMB = float64(vmStat.Total) / 1024 / 1024
		info.UsedMemoryMB = float64(vmStat.Used) / 1024 / 1024
		info.FreeMemoryMB = float64(vmStat.Free) / 1024 / 1024
		info.AvailableMemoryMB = float64(vmStat.Available) / 1024 / 1024
	}

	swapStat, err := mem.SwapMemory()
	if err == nil && swapStat != nil {
		info.SwapTotalMB = float64(swapStat.Total) / 1024 / 1024
		info.SwapUsedMB = float64(swapStat.Used) / 1024 / 1024
	}

	info.Process = h.processMemoryInfo(info.TotalMemoryMB)
	return info
}

// processMemoryInfo walks the process tree so ffmpeg children show up
// in the report.
func (h *HealthHandler) processMemoryInfo(totalSystemMB float64) ProcessMemoryInfo {
	info := ProcessMemoryInfo{Goroutines: runtime.NumGoroutine()}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return info
	}

	memInfo, err := proc.MemoryInfo()
	if err == nil && memInfo != nil {
		info.MainProcessMB = float64(memInfo.RSS) / 1024 / 1024
		info.TotalProcessTreeMB = info.MainProcessMB
		if totalSystemMB > 0 {
			info.PercentageOfSystem = (info.MainProcessMB / totalSystemMB) * 100
		}
	}

	children, err := proc.Children()
	if err == nil {
		info.ChildProcessCount = len(children)
		for _, child := range children {
			childMem, err := child.MemoryInfo()
			if err == nil && childMem != nil {
				childMB := float64(childMem.RSS) / 1024 / 1024
				info.ChildProcessesMB += childMB
				info.TotalProcessTreeMB += childMB
			}
		}
	}

	return info
}

// databaseHealth pings the database and reports pool state. Nil when
// no database is attached.
func (h *HealthHandler) databaseHealth(ctx context.Context) *DatabaseHealth {
	if h.db == nil {
		return nil
	}

	health := &DatabaseHealth{
		Status:             "ok",
		Driver:             h.db.Driver(),
		ResponseTimeStatus: "healthy",
	}

	sqlDB, err := h.db.DB.DB()
	if err != nil {
		health.Status = "error"
		health.ResponseTimeStatus = "error"
		health.Error = err.Error()
		return health
	}

	stats := sqlDB.Stats()
	health.ConnectionPoolSize = stats.MaxOpenConnections
	health.ActiveConnections = stats.InUse
	health.IdleConnections = stats.Idle

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		health.Status = "error"
		health.ResponseTimeStatus = "error"
		health.Error = err.Error()
	} else if health.ResponseTimeMS > 100 {
		health.ResponseTimeStatus = "slow"
	}

	return health
}
