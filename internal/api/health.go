package api

import (
	"net/http"
	"time"

	"github.com/snarg/sq-engine/internal/database"
	"github.com/snarg/sq-engine/internal/queue"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

// Broker reports connectivity of the event publisher.
type Broker interface {
	IsConnected() bool
}

type HealthHandler struct {
	db        *database.DB
	queue     *queue.Queue
	broker    Broker
	version   string
	startTime time.Time
}

func NewHealthHandler(db *database.DB, q *queue.Queue, broker Broker, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		queue:     q,
		broker:    broker,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Database check
	if err := h.db.HealthCheck(r.Context()); err != nil {
		checks["database"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	// Queue check
	if h.queue != nil {
		if h.queue.Stats().IsRunning {
			checks["queue"] = "ok"
		} else {
			checks["queue"] = "stopped"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["queue"] = "not_configured"
	}

	// Broker check
	if h.broker != nil {
		if h.broker.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	})
}
