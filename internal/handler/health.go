package handler

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	started  time.Time
	now      func() time.Time
	presence Pinger
	proc     *process.Process
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string      `json:"status"`
	Timestamp   string      `json:"timestamp"`
	Uptime      float64     `json:"uptime"`
	MemoryUsage MemoryUsage `json:"memoryUsage"`
}

// MemoryUsage reports process memory in bytes.
type MemoryUsage struct {
	RSS        uint64 `json:"rss"`
	HeapTotal  uint64 `json:"heapTotal"`
	HeapUsed   uint64 `json:"heapUsed"`
	External   uint64 `json:"external"`
	StackInUse uint64 `json:"stackInUse"`
	Goroutines int    `json:"goroutines"`
}

// ReadinessResponse represents readiness probe response.
type ReadinessResponse struct {
	Status   string `json:"status"`
	Presence string `json:"presence"`
}

// NewHealthHandler returns a HealthHandler whose readiness depends on presence.
func NewHealthHandler(presence Pinger) *HealthHandler {
	// without process info /health falls back to runtime figures
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &HealthHandler{
		started:  time.Now(),
		now:      time.Now,
		presence: presence,
		proc:     proc,
	}
}

// Health always returns 200 with process uptime and memory figures.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		Timestamp:   now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Uptime:      now.Sub(h.started).Seconds(),
		MemoryUsage: h.memoryUsage(),
	})
}

// Readiness returns 200 when the presence store answers a ping within two seconds.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.presence != nil {
		if err := h.presence.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, ReadinessResponse{Status: "not_ready", Presence: "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, ReadinessResponse{Status: "ready", Presence: "ok"})
}

func (h *HealthHandler) memoryUsage() MemoryUsage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	rss := ms.Sys
	if h.proc != nil {
		if info, err := h.proc.MemoryInfo(); err == nil {
			rss = info.RSS
		}
	}
	return MemoryUsage{
		RSS:        rss,
		HeapTotal:  ms.HeapSys,
		HeapUsed:   ms.HeapAlloc,
		External:   ms.Sys - ms.HeapSys,
		StackInUse: ms.StackInuse,
		Goroutines: runtime.NumGoroutine(),
	}
}
