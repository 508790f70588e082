package http

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Version   string           `json:"version,omitempty"`
	Checks    map[string]Check `json:"checks,omitempty"`
	System    *SystemInfo      `json:"system,omitempty"`
}

// Check represents a single health check result
type Check struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// SystemInfo contains system information
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	NumCPU       int    `json:"num_cpu"`
	MemAlloc     uint64 `json:"mem_alloc_mb"`
}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
)

// queueBacklogWarn is the number of waiting tasks above which the queue is
// reported as degraded.
const queueBacklogWarn = 500

// Health returns basic health status (for load balancer)
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready performs full readiness check including dependencies. Dependencies
// that are not configured are not checked.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	overallStatus := StatusHealthy

	// history is optional, so a broken database only degrades the service
	if h.DB != nil {
		dbCheck := ping(ctx, h.DB)
		checks["database"] = dbCheck
		if dbCheck.Status != StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	if h.Redis != nil {
		redisCheck := ping(ctx, h.Redis)
		checks["redis"] = redisCheck
		if redisCheck.Status != StatusHealthy && overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	if h.Tasks != nil {
		queueCheck := h.checkQueue()
		checks["queue"] = queueCheck
		if queueCheck.Status != StatusHealthy && overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	models := h.Gen.Models()
	if len(models) == 0 {
		checks["vendors"] = Check{Status: StatusUnhealthy, Message: "no generation vendor configured"}
		overallStatus = StatusUnhealthy
	} else {
		checks["vendors"] = Check{Status: StatusHealthy, Message: fmt.Sprintf("%d models available", len(models))}
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	sysInfo := &SystemInfo{
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		MemAlloc:     memStats.Alloc / 1024 / 1024,
	}

	status := http.StatusOK
	if overallStatus == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, HealthStatus{
		Status:    overallStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		System:    sysInfo,
	})
}

func ping(ctx context.Context, p Pinger) Check {
	start := time.Now()
	err := p.Ping(ctx)
	duration := time.Since(start)

	if err != nil {
		return Check{
			Status:   StatusUnhealthy,
			Message:  err.Error(),
			Duration: duration.String(),
		}
	}
	return Check{
		Status:   StatusHealthy,
		Message:  "connection successful",
		Duration: duration.String(),
	}
}

// checkQueue returns queue status
func (h *Handlers) checkQueue() Check {
	queueLen := h.Tasks.Len()

	status := StatusHealthy
	message := "queue operational"
	if queueLen > queueBacklogWarn {
		status = StatusDegraded
		message = "queue backlog detected"
	}

	return Check{
		Status:  status,
		Message: fmt.Sprintf("%s (pending: %d, in flight: %d)", message, queueLen, h.Tasks.InFlight()),
	}
}
