// internal/handler/modem_handler.go
package handler

import (
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"modem-service/internal/model"
	"modem-service/internal/protocol"
	"modem-service/internal/utils"
)

// ModemController is the part of the modem service the HTTP and WebSocket
// handlers drive.
type ModemController interface {
	IsRunning() bool
	Status() model.ModemStatus
	Execute(req *model.ExecuteRequest) (*model.ExchangeResult, error)
	Query(req *model.QueryRequest) (*model.ExchangeResult, error)
	Set(req *model.SetRequest) (*model.ExchangeResult, error)
	Join(req *model.JoinRequest) error
	Leave() error
	Addresses() (map[string]string, error)
	Version() ([]string, error)
	RefreshStatus() (*protocol.Snapshot, error)
	Reset() error
	Dial(slot int, req *model.DialRequest) error
	CloseLink(slot int) error
	Send(slot int, req *model.SendRequest) (int, error)
	RegisterInbound(maxLen int) (int, error)
	CancelInbound(handle int) error
	AwaitInbound(timeout time.Duration) (*model.InboundPayload, error)
	ConfigureTimeout(className string, d time.Duration) (protocol.Timeouts, error)
}

// ModemHandler handles modem HTTP requests
type ModemHandler struct {
	modem  ModemController
	logger *utils.ServiceLogger
}

// NewModemHandler creates a new modem handler
func NewModemHandler(modem ModemController, logger *zap.Logger) *ModemHandler {
	return &ModemHandler{
		modem:  modem,
		logger: utils.NewServiceLogger(logger, "modem-handler"),
	}
}

// RegisterRoutes registers modem routes
func (h *ModemHandler) RegisterRoutes(router *gin.RouterGroup) {
	modem := router.Group("/modem")
	{
		modem.GET("/status", h.GetStatus)
		modem.POST("/status/refresh", h.RefreshStatus)
		modem.GET("/version", h.GetVersion)
		modem.POST("/reset", h.Reset)

		modem.POST("/execute", h.Execute)
		modem.POST("/query", h.Query)
		modem.POST("/set", h.Set)

		wifi := modem.Group("/wifi")
		{
			wifi.POST("/join", h.Join)
			wifi.POST("/leave", h.Leave)
			wifi.GET("/addresses", h.GetAddresses)
		}

		links := modem.Group("/links/:slot")
		{
			links.POST("", h.Dial)
			links.DELETE("", h.CloseLink)
			links.POST("/send", h.Send)
		}

		inbound := modem.Group("/inbound")
		{
			inbound.POST("", h.RegisterInbound)
			inbound.GET("/next", h.AwaitInbound)
			inbound.DELETE("/:handle", h.CancelInbound)
		}

		modem.PUT("/timeouts/:class", h.SetTimeout)
	}
}

// GetStatus returns the link and session state
// @Summary Modem status
// @Description Link state, session flags, inbound arena and transport counters
// @Tags Modem
// @Produce json
// @Success 200 {object} utils.APIResponse{data=model.ModemStatus} "Status retrieved"
// @Router /modem/status [get]
func (h *ModemHandler) GetStatus(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Status retrieved", h.modem.Status())
}

// RefreshStatus resynchronises session flags from the modem
// @Summary Refresh link table
// @Tags Modem
// @Produce json
// @Success 200 {object} utils.APIResponse{data=protocol.Snapshot} "Status refreshed"
// @Failure 502 {object} utils.APIResponse "Modem error"
// @Router /modem/status/refresh [post]
func (h *ModemHandler) RefreshStatus(c *gin.Context) {
	snap, err := h.modem.RefreshStatus()
	if err != nil {
		utils.ModemErrorResponse(c, "Failed to refresh status", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Status refreshed", snap)
}

// GetVersion returns the firmware version lines
// @Summary Firmware version
// @Tags Modem
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{version=[]string}} "Version retrieved"
// @Router /modem/version [get]
func (h *ModemHandler) GetVersion(c *gin.Context) {
	lines, err := h.modem.Version()
	if err != nil {
		utils.ModemErrorResponse(c, "Failed to read version", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Version retrieved", gin.H{"version": lines})
}

// Reset restarts the modem
// @Summary Reset modem
// @Description Restarts the co-processor, waits for ready and sets the session up again
// @Tags Modem
// @Produce json
// @Success 200 {object} utils.APIResponse "Modem reset"
// @Failure 504 {object} utils.APIResponse "Modem never reported ready"
// @Router /modem/reset [post]
func (h *ModemHandler) Reset(c *gin.Context) {
	if err := h.modem.Reset(); err != nil {
		h.logger.Error("Modem reset failed", zap.Error(err))
		utils.ModemErrorResponse(c, "Failed to reset modem", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Modem reset", nil)
}

// Execute runs a bare command
// @Summary Execute command
// @Tags Exchange
// @Accept json
// @Produce json
// @Param request body model.ExecuteRequest true "Command"
// @Success 200 {object} utils.APIResponse{data=model.ExchangeResult} "Command completed"
// @Failure 400 {object} utils.APIResponse "Invalid request"
// @Failure 502 {object} utils.APIResponse "Modem rejected the command"
// @Failure 504 {object} utils.APIResponse "Modem timed out"
// @Router /modem/execute [post]
func (h *ModemHandler) Execute(c *gin.Context) {
	var req model.ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.modem.Execute(&req)
	if err != nil {
		utils.ModemErrorResponse(c, "Command failed", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Command completed", result)
}

// Query reads a parameter
// @Summary Query parameter
// @Description Sends COMMAND? and returns the first value, or every name-echoed line with all=true
// @Tags Exchange
// @Accept json
// @Produce json
// @Param request body model.QueryRequest true "Query"
// @Success 200 {object} utils.APIResponse{data=model.ExchangeResult} "Query completed"
// @Failure 502 {object} utils.APIResponse "Modem error"
// @Router /modem/query [post]
func (h *ModemHandler) Query(c *gin.Context) {
	var req model.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.modem.Query(&req)
	if err != nil {
		utils.ModemErrorResponse(c, "Query failed", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Query completed", result)
}

// Set assigns parameters
// @Summary Set parameters
// @Tags Exchange
// @Accept json
// @Produce json
// @Param request body model.SetRequest true "Assignment"
// @Success 200 {object} utils.APIResponse{data=model.ExchangeResult} "Set completed"
// @Failure 502 {object} utils.APIResponse "Modem error"
// @Router /modem/set [post]
func (h *ModemHandler) Set(c *gin.Context) {
	var req model.SetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.modem.Set(&req)
	if err != nil {
		utils.ModemErrorResponse(c, "Set failed", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Set completed", result)
}

// Join associates with a network
// @Summary Join network
// @Tags Wi-Fi
// @Accept json
// @Produce json
// @Param request body model.JoinRequest true "Network credentials"
// @Success 200 {object} utils.APIResponse "Joined"
// @Failure 502 {object} utils.APIResponse "Join refused"
// @Router /modem/wifi/join [post]
func (h *ModemHandler) Join(c *gin.Context) {
	var req model.JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.modem.Join(&req); err != nil {
		h.logger.Warn("Join failed", zap.String("ssid", req.SSID), zap.Error(err))
		utils.ModemErrorResponse(c, "Join failed", err)
		return
	}
	h.logger.Info("Joined network", zap.String("ssid", req.SSID))
	utils.SuccessResponse(c, http.StatusOK, "Joined", gin.H{"ssid": req.SSID})
}

// Leave drops the association
// @Summary Leave network
// @Tags Wi-Fi
// @Produce json
// @Success 200 {object} utils.APIResponse "Left"
// @Router /modem/wifi/leave [post]
func (h *ModemHandler) Leave(c *gin.Context) {
	if err := h.modem.Leave(); err != nil {
		utils.ModemErrorResponse(c, "Leave failed", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Left", nil)
}

// GetAddresses returns the modem's local addresses
// @Summary Local addresses
// @Tags Wi-Fi
// @Produce json
// @Success 200 {object} utils.APIResponse{data=map[string]string} "Addresses retrieved"
// @Router /modem/wifi/addresses [get]
func (h *ModemHandler) GetAddresses(c *gin.Context) {
	addrs, err := h.modem.Addresses()
	if err != nil {
		utils.ModemErrorResponse(c, "Failed to read addresses", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Addresses retrieved", addrs)
}

// Dial opens a link slot
// @Summary Open link
// @Tags Links
// @Accept json
// @Produce json
// @Param slot path int true "Link slot" minimum(0) maximum(4)
// @Param request body model.DialRequest true "Remote endpoint"
// @Success 200 {object} utils.APIResponse "Link opened"
// @Failure 502 {object} utils.APIResponse "Modem refused"
// @Router /modem/links/{slot} [post]
func (h *ModemHandler) Dial(c *gin.Context) {
	slot, ok := h.slotParam(c)
	if !ok {
		return
	}
	var req model.DialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.modem.Dial(slot, &req); err != nil {
		utils.ModemErrorResponse(c, "Failed to open link", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Link opened", gin.H{
		"slot":    slot,
		"network": req.Network,
		"host":    req.Host,
		"port":    req.Port,
	})
}

// CloseLink closes a link slot
// @Summary Close link
// @Description Slot 5 closes every link in multiplexed mode
// @Tags Links
// @Produce json
// @Param slot path int true "Link slot" minimum(0) maximum(5)
// @Success 200 {object} utils.APIResponse "Link closed"
// @Router /modem/links/{slot} [delete]
func (h *ModemHandler) CloseLink(c *gin.Context) {
	slot, ok := h.slotParam(c)
	if !ok {
		return
	}
	if err := h.modem.CloseLink(slot); err != nil {
		utils.ModemErrorResponse(c, "Failed to close link", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Link closed", gin.H{"slot": slot})
}

// Send writes a payload to a link slot
// @Summary Send data
// @Tags Links
// @Accept json
// @Produce json
// @Param slot path int true "Link slot" minimum(0) maximum(4)
// @Param request body model.SendRequest true "Payload"
// @Success 200 {object} utils.APIResponse{data=object{slot=int,bytes=int}} "Data sent"
// @Failure 502 {object} utils.APIResponse "Send failed"
// @Router /modem/links/{slot}/send [post]
func (h *ModemHandler) Send(c *gin.Context) {
	slot, ok := h.slotParam(c)
	if !ok {
		return
	}
	var req model.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	n, err := h.modem.Send(slot, &req)
	if err != nil {
		utils.ModemErrorResponse(c, "Send failed", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Data sent", gin.H{"slot": slot, "bytes": n})
}

// RegisterInbound registers a receive buffer
// @Summary Register inbound buffer
// @Tags Inbound
// @Accept json
// @Produce json
// @Param request body model.InboundRequest true "Buffer size"
// @Success 201 {object} utils.APIResponse{data=object{handle=int,max_len=int}} "Buffer registered"
// @Failure 429 {object} utils.APIResponse "No free slot"
// @Router /modem/inbound [post]
func (h *ModemHandler) RegisterInbound(c *gin.Context) {
	var req model.InboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	handle, err := h.modem.RegisterInbound(req.MaxLen)
	if err != nil {
		utils.ModemErrorResponse(c, "Failed to register buffer", err)
		return
	}
	utils.SuccessResponse(c, http.StatusCreated, "Buffer registered", gin.H{
		"handle":  handle,
		"max_len": req.MaxLen,
	})
}

// AwaitInbound waits for the oldest registered buffer to fill
// @Summary Await inbound data
// @Tags Inbound
// @Produce json
// @Param timeout_ms query int false "Wait bound in milliseconds; default is the inbound timeout class"
// @Success 200 {object} utils.APIResponse{data=model.InboundPayload} "Data received"
// @Failure 504 {object} utils.APIResponse "Nothing arrived in time"
// @Router /modem/inbound/next [get]
func (h *ModemHandler) AwaitInbound(c *gin.Context) {
	var timeout time.Duration
	if raw := c.Query("timeout_ms"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms < 0 {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid timeout_ms", err)
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	payload, err := h.modem.AwaitInbound(timeout)
	if err != nil {
		utils.ModemErrorResponse(c, "No inbound data", err)
		return
	}
	if utf8.Valid(payload.Data) {
		payload.Text = string(payload.Data)
	}
	utils.SuccessResponse(c, http.StatusOK, "Data received", payload)
}

// CancelInbound withdraws a registered buffer
// @Summary Cancel inbound buffer
// @Tags Inbound
// @Produce json
// @Param handle path int true "Buffer handle"
// @Success 200 {object} utils.APIResponse "Buffer cancelled"
// @Router /modem/inbound/{handle} [delete]
func (h *ModemHandler) CancelInbound(c *gin.Context) {
	handle, err := strconv.Atoi(c.Param("handle"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid handle", err)
		return
	}
	if err := h.modem.CancelInbound(handle); err != nil {
		utils.ModemErrorResponse(c, "Failed to cancel buffer", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Buffer cancelled", gin.H{"handle": handle})
}

// SetTimeout changes one timeout class
// @Summary Configure timeout
// @Tags Modem
// @Accept json
// @Produce json
// @Param class path string true "Timeout class" Enums(basic, network, inbound, association, transmit)
// @Param request body model.TimeoutRequest true "Timeout"
// @Success 200 {object} utils.APIResponse{data=protocol.Timeouts} "Timeout updated"
// @Router /modem/timeouts/{class} [put]
func (h *ModemHandler) SetTimeout(c *gin.Context) {
	var req model.TimeoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	timeouts, err := h.modem.ConfigureTimeout(c.Param("class"), time.Duration(req.TimeoutMs)*time.Millisecond)
	if err != nil {
		utils.ModemErrorResponse(c, "Failed to configure timeout", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Timeout updated", timeouts)
}

func (h *ModemHandler) slotParam(c *gin.Context) (int, bool) {
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil || slot < 0 || slot > protocol.MaxSlots {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid slot", err)
		return 0, false
	}
	return slot, true
}
