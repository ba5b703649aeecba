package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/kozaktomas/face-cluster/internal/config"
)

// HealthChecker reports whether the face detector is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	config   *config.Config
	detector HealthChecker
}

// NewHealthHandler creates a new health handler. detector may be nil.
func NewHealthHandler(cfg *config.Config, detector HealthChecker) *HealthHandler {
	return &HealthHandler{config: cfg, detector: detector}
}

// Get reports service and detector status. It always answers 200; an
// unreachable detector turns the status into "degraded".
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	detectorStatus := "not configured"
	if h.detector != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.detector.Health(ctx); err != nil {
			status = "degraded"
			detectorStatus = "unreachable"
		} else {
			detectorStatus = "ok"
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"detector":  detectorStatus,
		"preset":    h.config.Clustering.Preset,
		"algorithm": h.config.Clustering.Algorithm,
		"metric":    h.config.Clustering.Metric,
	})
}
