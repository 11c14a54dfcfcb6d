package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db     Pinger
	active func() []string
}

// NewHealthHandler creates a new health handler. Both arguments are optional.
func NewHealthHandler(db Pinger, active func() []string) *HealthHandler {
	return &HealthHandler{db: db, active: active}
}

// Health returns the health status of the service.
func (h *HealthHandler) Health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			body["status"] = "degraded"
			body["database"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			body["database"] = "ok"
		}
	}
	if h.active != nil {
		body["active_accounts"] = h.active()
	}
	c.JSON(status, body)
}
