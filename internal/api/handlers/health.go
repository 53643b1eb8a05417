package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"runtime"
	"time"

	"github.com/xuecangming/transfer-queue/internal/service/transfer"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	service   *transfer.Service
	db        *sql.DB // nil when the history database is disabled
	startTime time.Time
}

// NewHealthHandler creates a new health handler. db may be nil.
func NewHealthHandler(service *transfer.Service, db *sql.DB) *HealthHandler {
	return &HealthHandler{
		service:   service,
		db:        db,
		startTime: time.Now(),
	}
}

// ComponentHealth represents health status of a component
type ComponentHealth struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	components := make(map[string]ComponentHealth)

	queue := h.checkQueue()
	components["queue"] = queue
	if queue.Status != "healthy" {
		status = "degraded"
	}

	db := h.checkDatabase(r.Context())
	components["database"] = db
	if db.Status == "unhealthy" {
		status = "unhealthy"
	}

	components["system"] = h.checkSystem()

	response := HealthResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Uptime:     time.Since(h.startTime).String(),
		Components: components,
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, response)
}

// checkQueue reports the orchestrator state. A stopped queue is degraded,
// not unhealthy: the API still accepts operations.
func (h *HealthHandler) checkQueue() ComponentHealth {
	stats := h.service.Statistics()
	details := map[string]interface{}{
		"running":                  h.service.IsRunning(),
		"max_concurrent_transfers": h.service.MaxConcurrentTransfers(),
		"global_speed_limit":       h.service.GlobalSpeedLimit(),
		"pending":                  stats.PendingCount,
		"active":                   stats.RunningCount,
		"failed":                   stats.FailedCount,
	}

	if !h.service.IsRunning() {
		return ComponentHealth{
			Status:  "degraded",
			Message: "Queue is stopped",
			Details: details,
		}
	}
	return ComponentHealth{Status: "healthy", Details: details}
}

// checkDatabase checks the history database
func (h *HealthHandler) checkDatabase(ctx context.Context) ComponentHealth {
	if h.db == nil {
		return ComponentHealth{
			Status:  "disabled",
			Message: "Transfer history is not enabled",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	err := h.db.PingContext(ctx)
	latency := time.Since(start)
	if err != nil {
		return ComponentHealth{
			Status:  "unhealthy",
			Message: err.Error(),
		}
	}

	stats := h.db.Stats()
	details := map[string]interface{}{
		"latency_ms": latency.Milliseconds(),
		"open_conns": stats.OpenConnections,
		"in_use":     stats.InUse,
		"idle":       stats.Idle,
		"wait_count": stats.WaitCount,
	}

	health := "healthy"
	if stats.WaitCount > 100 {
		health = "degraded"
	}
	return ComponentHealth{Status: health, Details: details}
}

// checkSystem checks system resource health
func (h *HealthHandler) checkSystem() ComponentHealth {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	details := map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"alloc_mb":   m.Alloc / 1024 / 1024,
		"sys_mb":     m.Sys / 1024 / 1024,
		"num_gc":     m.NumGC,
	}

	status := "healthy"
	// More than 1GB in use
	if m.Alloc > 1024*1024*1024 {
		status = "degraded"
	}
	if runtime.NumGoroutine() > 10000 {
		status = "degraded"
	}

	return ComponentHealth{
		Status:  status,
		Details: details,
	}
}

// Info handles GET /info
func (h *HealthHandler) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":        "Transfer Queue",
		"version":     "1.0.0",
		"api_version": "v1",
		"go_version":  runtime.Version(),
		"uptime":      time.Since(h.startTime).String(),
		"started_at":  h.startTime.Format(time.RFC3339),
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.service.IsRunning() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "not ready",
			"message": "transfer queue is not running",
		})
		return
	}
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "not ready",
				"message": "database connection not available",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Live handles GET /live
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}
