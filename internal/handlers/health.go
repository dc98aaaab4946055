package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dnogares/web-sub001/internal/middleware"
	"github.com/dnogares/web-sub001/internal/registry"
	"github.com/gin-gonic/gin"
)

const (
	// APIVersion is the current version of the API
	APIVersion = "0.1.0"
	// HealthCheckTimeout is the timeout for report store health checks
	HealthCheckTimeout = 2 * time.Second
)

// Pinger is the part of the report store the readiness check needs.
// database.Database implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check and readiness endpoints.
type HealthHandler struct {
	registry  *registry.Registry
	store     Pinger
	startTime time.Time
	env       string
}

// NewHealthHandler creates a new HealthHandler instance. store may be nil when
// reports are kept on the local filesystem.
func NewHealthHandler(reg *registry.Registry, store Pinger, env string) *HealthHandler {
	return &HealthHandler{
		registry:  reg,
		store:     store,
		startTime: time.Now(),
		env:       env,
	}
}

// HealthResponse represents the basic health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Status      string `json:"status"`
	Registry    string `json:"registry"`
	ReportStore string `json:"report_store"`
}

// InfoResponse represents the API information response.
type InfoResponse struct {
	Version         string    `json:"version"`
	Environment     string    `json:"environment"`
	Uptime          string    `json:"uptime"`
	DataRoot        string    `json:"data_root"`
	TaxonomyVersion int       `json:"taxonomy_version"`
	Categories      int       `json:"categories"`
	ResolvedLayers  int       `json:"resolved_layers"`
	RegistryBuiltAt time.Time `json:"registry_built_at"`
}

// Health handles GET /health endpoint.
// It is a liveness check and never touches the data root or the store.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "healthy",
	})
}

// Ready handles GET /health/ready endpoint.
// Returns 200 once the layer registry is built and the report store answers,
// 503 otherwise.
func (h *HealthHandler) Ready(c *gin.Context) {
	response := ReadyResponse{
		Status:      "ready",
		Registry:    "built",
		ReportStore: "filesystem",
	}
	status := http.StatusOK

	if h.registry == nil {
		response.Status = "not_ready"
		response.Registry = "missing"
		status = http.StatusServiceUnavailable
	}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), HealthCheckTimeout)
		defer cancel()

		response.ReportStore = "connected"
		if err := h.store.Ping(ctx); err != nil {
			if log := middleware.GetLogger(c); log != nil {
				log.Error("Report store health check failed", err, map[string]interface{}{
					"timeout": HealthCheckTimeout.String(),
				})
			}
			response.Status = "not_ready"
			response.ReportStore = "disconnected"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, response)
}

// Info handles GET /api/v1/info endpoint.
// Returns API metadata and a summary of the layer registry.
func (h *HealthHandler) Info(c *gin.Context) {
	response := InfoResponse{
		Version:     APIVersion,
		Environment: h.env,
		Uptime:      formatUptime(time.Since(h.startTime)),
	}
	if h.registry != nil {
		response.DataRoot = h.registry.Root()
		response.TaxonomyVersion = h.registry.Taxonomy().Version
		response.Categories = h.registry.Taxonomy().Len()
		response.ResolvedLayers = h.registry.Catalog().Total
		response.RegistryBuiltAt = h.registry.BuiltAt()
	}

	c.JSON(http.StatusOK, response)
}

// formatUptime formats a duration into a human-readable string.
func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
}
