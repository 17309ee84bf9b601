package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/asesorlab/advisor/internal/config"
	"github.com/asesorlab/advisor/internal/qdrant"
)

// HealthChecker probes the server's external dependencies.
type HealthChecker struct {
	qdrant *qdrant.Client
	cfg    config.Config
}

// NewHealthChecker creates a health checker.
func NewHealthChecker(qc *qdrant.Client, cfg config.Config) *HealthChecker {
	return &HealthChecker{
		qdrant: qc,
		cfg:    cfg,
	}
}

// HealthStatus represents the overall health status.
type HealthStatus struct {
	Status     string               `json:"status"` // healthy, degraded, unhealthy
	Timestamp  time.Time            `json:"timestamp"`
	Version    string               `json:"version,omitempty"`
	Uptime     string               `json:"uptime,omitempty"`
	Components map[string]Component `json:"components"`
}

// Component represents a component's health.
type Component struct {
	Status  string `json:"status"` // healthy, degraded, unhealthy
	Message string `json:"message,omitempty"`
	Latency int64  `json:"latency_ms,omitempty"`
}

// Check performs a full health check. The knowledge base down means
// degraded, not unhealthy: the pipeline still answers via the
// no-evidence path and the invoice tool.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Components: make(map[string]Component),
	}

	qdrantHealth := h.checkQdrant(ctx)
	status.Components["qdrant"] = qdrantHealth
	if qdrantHealth.Status != "healthy" {
		status.Status = "degraded"
	}

	geminiHealth := h.checkGemini()
	status.Components["gemini"] = geminiHealth
	if geminiHealth.Status == "unhealthy" {
		status.Status = "unhealthy"
	}

	return status
}

func (h *HealthChecker) checkQdrant(ctx context.Context) Component {
	if h.qdrant == nil {
		return Component{
			Status:  "unhealthy",
			Message: "Qdrant client not configured",
		}
	}

	start := time.Now()
	err := h.qdrant.HealthCheck(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return Component{
			Status:  "unhealthy",
			Message: err.Error(),
			Latency: latency,
		}
	}

	return Component{
		Status:  "healthy",
		Message: "connected",
		Latency: latency,
	}
}

// checkGemini verifies the generation stack is configured. A live probe
// would spend quota on every readiness poll, so only configuration is
// checked here.
func (h *HealthChecker) checkGemini() Component {
	if h.cfg.Gemini.APIKey == "" {
		return Component{
			Status:  "unhealthy",
			Message: "API key not configured",
		}
	}
	if h.cfg.Gemini.PrimaryModel == "" || h.cfg.Gemini.FallbackModel == "" {
		return Component{
			Status:  "degraded",
			Message: "model pair incomplete",
		}
	}
	return Component{
		Status:  "healthy",
		Message: "configured",
	}
}

// HealthHandler handles health check HTTP requests.
type HealthHandler struct {
	checker   *HealthChecker
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(checker *HealthChecker, version string) *HealthHandler {
	return &HealthHandler{
		checker:   checker,
		startTime: time.Now(),
		version:   version,
	}
}

// HandleHealth handles GET /healthz (simple liveness check).
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}

// HandleReady handles GET /readyz (readiness check).
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.checker.Check(ctx)
	status.Version = h.version
	status.Uptime = time.Since(h.startTime).Round(time.Second).String()

	w.Header().Set("Content-Type", "application/json")

	if status.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(status)
}

// HandleDetailedHealth handles GET /v1/health (detailed health).
func (h *HealthHandler) HandleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status := h.checker.Check(ctx)
	status.Version = h.version
	status.Uptime = time.Since(h.startTime).Round(time.Second).String()

	w.Header().Set("Content-Type", "application/json")

	if status.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(status)
}

// HandleVersion handles GET /v1/version.
func (h *HealthHandler) HandleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"version": h.version,
		"uptime":  time.Since(h.startTime).Round(time.Second).String(),
	})
}

// RegisterRoutes registers health routes with the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.HandleHealth)
	mux.HandleFunc("GET /readyz", h.HandleReady)
	mux.HandleFunc("GET /v1/version", h.HandleVersion)
	mux.HandleFunc("GET /v1/health", h.HandleDetailedHealth)
}
