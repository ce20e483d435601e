// internal/handler/discovery_handler.go
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"modem-service/internal/service"
	"modem-service/internal/utils"
)

// LinkDiscoverer runs link scans
type LinkDiscoverer interface {
	Scan(ctx context.Context, scanType string) (*service.ScanResult, error)
	LastScan() *service.ScanResult
	Scanners() []string
	IsScanning() bool
}

// DiscoveryHandler handles link discovery requests
type DiscoveryHandler struct {
	discoveryService LinkDiscoverer
	logger           *utils.ServiceLogger
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(discoveryService LinkDiscoverer, logger *zap.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		discoveryService: discoveryService,
		logger:           utils.NewServiceLogger(logger, "discovery-handler"),
	}
}

// RegisterRoutes registers discovery routes
func (h *DiscoveryHandler) RegisterRoutes(router *gin.RouterGroup) {
	discovery := router.Group("/discovery")
	{
		discovery.GET("/scan", h.ScanLinks)
		discovery.GET("/last", h.GetLastScan)
		discovery.GET("/scanners", h.GetScanners)
	}
}

// ScanLinks scans for candidate modem links
// @Summary Scan for modems
// @Description Look for AT modems on serial ports, USB bridges and configured TCP targets
// @Tags Discovery
// @Accept json
// @Produce json
// @Param type query string false "Scan type" Enums(all, serial, usb, tcp) default(all)
// @Param timeout query string false "Scan timeout" default(30s)
// @Success 200 {object} utils.APIResponse{data=service.ScanResult} "Link scan completed"
// @Failure 409 {object} utils.APIResponse "Scan already running"
// @Failure 500 {object} utils.APIResponse "Scan failed"
// @Router /discovery/scan [get]
func (h *DiscoveryHandler) ScanLinks(c *gin.Context) {
	scanType := c.DefaultQuery("type", "all")
	timeout, err := time.ParseDuration(c.DefaultQuery("timeout", "30s"))
	if err != nil || timeout <= 0 {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid timeout", err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	result, err := h.discoveryService.Scan(ctx, scanType)
	if err != nil {
		if errors.Is(err, service.ErrScanInProgress) {
			utils.ErrorResponse(c, http.StatusConflict, "Scan already running", err)
			return
		}
		h.logger.Error("Failed to scan links", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to scan links", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Link scan completed", result)
}

// GetLastScan returns the previous scan result
// @Summary Last scan
// @Tags Discovery
// @Produce json
// @Success 200 {object} utils.APIResponse{data=service.ScanResult} "Last scan retrieved"
// @Failure 404 {object} utils.APIResponse "No scan yet"
// @Router /discovery/last [get]
func (h *DiscoveryHandler) GetLastScan(c *gin.Context) {
	result := h.discoveryService.LastScan()
	if result == nil {
		utils.ErrorResponse(c, http.StatusNotFound, "No scan has run yet", nil)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Last scan retrieved", result)
}

// GetScanners lists the usable scanners
// @Summary Available scanners
// @Tags Discovery
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{scanners=[]string,scanning=bool}} "Scanners retrieved"
// @Router /discovery/scanners [get]
func (h *DiscoveryHandler) GetScanners(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Scanners retrieved", gin.H{
		"scanners": h.discoveryService.Scanners(),
		"scanning": h.discoveryService.IsScanning(),
	})
}
