// internal/handler/health_handler.go
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"usis-service/internal/config"
	"usis-service/internal/protocol/serial"
	"usis-service/internal/utils"
)

// LinkMonitor reports the state of the serial link
type LinkMonitor interface {
	IsOpen() bool
	PortName() string
	Stats() serial.Stats
}

// DatabaseChecker reports database health; *database.DB implements it
type DatabaseChecker interface {
	HealthCheck(ctx context.Context) error
	GetStats() map[string]interface{}
}

// MigrationVersioner reports the schema version; *database.Migrator implements it
type MigrationVersioner interface {
	Version() (uint, bool, error)
}

// HealthHandler handles health check requests
type HealthHandler struct {
	link      LinkMonitor
	db        DatabaseChecker
	migrator  MigrationVersioner
	config    *config.Config
	startedAt time.Time
	logger    *utils.ServiceLogger
}

// NewHealthHandler creates a new health handler. db and migrator are nil when
// the journal is kept in memory.
func NewHealthHandler(
	link LinkMonitor,
	db DatabaseChecker,
	migrator MigrationVersioner,
	config *config.Config,
	logger *zap.Logger,
) *HealthHandler {
	return &HealthHandler{
		link:      link,
		db:        db,
		migrator:  migrator,
		config:    config,
		startedAt: time.Now(),
		logger:    utils.NewServiceLogger(logger, "health-handler"),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.HealthCheck)
	router.GET("/health/link", h.LinkHealthCheck)
	router.GET("/health/db", h.DatabaseHealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck performs general health check
// @Summary Health check
// @Description Overall service health: serial link and, when enabled, the database
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Service is healthy or degraded"
// @Failure 503 {object} HealthResponse "Service is unhealthy"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startedAt).String(),
		Checks:    make(map[string]CheckResult),
	}

	if h.link.IsOpen() {
		health.Checks["serial_link"] = CheckResult{
			Status:  "healthy",
			Message: "Serial link open",
			Data:    linkData(h.link),
		}
	} else {
		health.Status = "degraded"
		health.Checks["serial_link"] = CheckResult{
			Status:  "unhealthy",
			Message: "The USB port is not available",
			Data:    linkData(h.link),
		}
	}

	if h.db != nil {
		if err := h.db.HealthCheck(c.Request.Context()); err != nil {
			health.Status = "unhealthy"
			health.Checks["database"] = CheckResult{
				Status:  "unhealthy",
				Message: err.Error(),
			}
		} else {
			health.Checks["database"] = CheckResult{
				Status:  "healthy",
				Message: "Database connection OK",
				Data:    h.db.GetStats(),
			}
		}
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// LinkHealthCheck reports the serial link state and counters
// @Summary Serial link health
// @Tags Health
// @Produce json
// @Success 200 {object} utils.APIResponse "Link is open"
// @Failure 503 {object} utils.APIResponse "Link is not available"
// @Router /health/link [get]
func (h *HealthHandler) LinkHealthCheck(c *gin.Context) {
	data := linkData(h.link)
	if !h.link.IsOpen() {
		utils.ErrorResponseWithData(c, http.StatusServiceUnavailable, "Serial PORT not available", nil, data)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Serial link is open", data)
}

// DatabaseHealthCheck checks database connectivity
// @Summary Database health check
// @Tags Health
// @Produce json
// @Success 200 {object} utils.APIResponse "Database is healthy"
// @Failure 503 {object} utils.APIResponse "Database is unhealthy"
// @Router /health/db [get]
func (h *HealthHandler) DatabaseHealthCheck(c *gin.Context) {
	if h.db == nil {
		utils.SuccessResponse(c, http.StatusOK, "Database disabled, journal kept in memory", gin.H{
			"status": "disabled",
		})
		return
	}

	startTime := time.Now()
	if err := h.db.HealthCheck(c.Request.Context()); err != nil {
		h.logger.Error("Database health check failed", zap.Error(err))
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Database unhealthy", err)
		return
	}

	response := gin.H{
		"status":           "healthy",
		"response_time_ms": time.Since(startTime).Milliseconds(),
		"stats":            h.db.GetStats(),
	}

	if h.migrator != nil {
		version, dirty, err := h.migrator.Version()
		if err != nil {
			h.logger.Warn("Failed to read migration version", zap.Error(err))
		} else {
			response["migration_version"] = version
			response["migration_dirty"] = dirty
		}
	}

	utils.SuccessResponse(c, http.StatusOK, "Database is healthy", response)
}

// ReadinessCheck for Kubernetes readiness probe
// @Summary Readiness check
// @Tags Health
// @Produce json
// @Router /ready [get]
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if h.db != nil {
		if err := h.db.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"reason": "database not available",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "ready",
		"link_open":   h.link.IsOpen(),
		"timestamp":   time.Now(),
		"serial_port": h.link.PortName(),
	})
}

// LivenessCheck for Kubernetes liveness probe
// @Summary Liveness check
// @Tags Health
// @Produce json
// @Router /live [get]
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

func linkData(link LinkMonitor) map[string]interface{} {
	stats := link.Stats()
	return map[string]interface{}{
		"port":              link.PortName(),
		"connected":         link.IsOpen(),
		"exchange_count":    stats.ExchangeCount,
		"reply_count":       stats.ReplyCount,
		"timeout_count":     stats.TimeoutCount,
		"unavailable_count": stats.UnavailableCount,
		"transient_faults":  stats.TransientFaults,
		"bytes_written":     stats.BytesWritten,
		"bytes_read":        stats.BytesRead,
		"average_latency":   stats.AverageLatency.String(),
		"last_activity":     stats.LastActivity,
	}
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
