// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"modem-service/internal/config"
	"modem-service/internal/model"
	"modem-service/internal/utils"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	modem     ModemController
	config    *config.Config
	logger    *utils.ServiceLogger
	startedAt time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(modem ModemController, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		modem:     modem,
		config:    config,
		logger:    utils.NewServiceLogger(logger, "health-handler"),
		startedAt: time.Now(),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.HealthCheck)
	router.GET("/health/modem", h.ModemHealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck performs general health check
// @Summary Health check
// @Description Get overall service health including the modem link
// @Tags Health
// @Accept json
// @Produce json
// @Success 200 {object} HealthResponse "Service is healthy"
// @Failure 503 {object} HealthResponse "Service is unhealthy"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult),
	}

	status := h.modem.Status()
	if status.Running {
		health.Checks["modem_link"] = CheckResult{
			Status:  "healthy",
			Message: "Link " + status.Link + " is up",
		}
	} else {
		health.Status = "unhealthy"
		health.Checks["modem_link"] = CheckResult{
			Status:  "unhealthy",
			Message: status.LastError,
		}
	}

	if status.Session != nil {
		health.Checks["session"] = CheckResult{
			Status: "healthy",
			Data: map[string]interface{}{
				"association":      status.Session.Association,
				"address_acquired": status.Session.AddressAcquired,
				"multiplex":        status.Session.Multiplex,
				"inbound_dropped":  status.Session.InboundDropped,
			},
		}
	}

	if status.Transport != nil {
		check := CheckResult{
			Status: "healthy",
			Data: map[string]interface{}{
				"bytes_received": status.Transport.BytesReceived,
				"bytes_sent":     status.Transport.BytesSent,
				"overruns":       status.Transport.Overruns,
			},
		}
		if status.Transport.Overruns > 0 {
			check.Status = "degraded"
			check.Message = "Receive ring overflowed"
		}
		health.Checks["transport"] = check
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// ModemHealthCheck pings the modem
// @Summary Modem health check
// @Description Send AT and measure the round trip
// @Tags Health
// @Accept json
// @Produce json
// @Success 200 {object} utils.APIResponse "Modem is healthy"
// @Failure 503 {object} utils.APIResponse "Modem is unhealthy"
// @Router /health/modem [get]
func (h *HealthHandler) ModemHealthCheck(c *gin.Context) {
	startTime := time.Now()

	if _, err := h.modem.Execute(&model.ExecuteRequest{Command: "AT"}); err != nil {
		h.logger.Error("Modem health check failed", zap.Error(err))
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Modem unhealthy", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Modem is healthy", gin.H{
		"status":           "healthy",
		"response_time_ms": time.Since(startTime).Milliseconds(),
	})
}

// ReadinessCheck for Kubernetes readiness probe
// @Summary Readiness check
// @Description Check if the modem link is up
// @Tags Health
// @Accept json
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is ready"
// @Failure 503 {object} object{status=string,reason=string} "Service is not ready"
// @Router /ready [get]
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if !h.modem.IsRunning() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "modem link not up",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck for Kubernetes liveness probe
// @Summary Liveness check
// @Description Check if service is alive
// @Tags Health
// @Accept json
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is alive"
// @Router /live [get]
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
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
