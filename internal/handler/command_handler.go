// internal/handler/command_handler.go
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"usis-service/internal/model"
	"usis-service/internal/protocol"
	"usis-service/internal/repository"
	"usis-service/internal/service"
	"usis-service/internal/utils"
)

// CommandHandler exposes device commands and the exchange journal over HTTP
type CommandHandler struct {
	commandService *service.CommandService
	logger         *utils.ServiceLogger
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(commandService *service.CommandService, logger *zap.Logger) *CommandHandler {
	return &CommandHandler{
		commandService: commandService,
		logger:         utils.NewServiceLogger(logger, "command-handler"),
	}
}

// RegisterRoutes registers command routes
func (h *CommandHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/commands", h.ExecuteCommand)
	router.GET("/errors", h.ListErrorCodes)

	device := router.Group("/device")
	{
		device.GET("/version", h.GetVersion)
		device.GET("/properties", h.DescribeDevice)
		device.GET("/properties/:property/:attribute", h.GetAttribute)
		device.PUT("/properties/:property/:attribute", h.SetAttribute)
	}

	exchanges := router.Group("/exchanges")
	{
		exchanges.GET("", h.ListExchanges)
		exchanges.GET("/stats", h.GetExchangeStats)
		exchanges.GET("/:id", h.GetExchange)
	}
}

// ExecuteCommand sends a free-form command
// @Summary Execute command
// @Description Send a command line to the device and return the interpreted reply
// @Tags Commands
// @Accept json
// @Produce json
// @Param request body service.CommandRequest true "Command request"
// @Success 200 {object} utils.APIResponse{data=service.ExecutionResult} "Ok, order completed"
// @Failure 400 {object} utils.APIResponse "Invalid arguments"
// @Failure 502 {object} utils.APIResponse "Unexpected reply or checksum error"
// @Failure 503 {object} utils.APIResponse "Serial port not available"
// @Failure 504 {object} utils.APIResponse "Timeout reached"
// @Router /commands [post]
func (h *CommandHandler) ExecuteCommand(c *gin.Context) {
	var req service.CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.commandService.Execute(c.Request.Context(), &req)
	h.respond(c, result, err)
}

// GetVersion reads the firmware version
// @Summary Device version
// @Tags Device
// @Produce json
// @Success 200 {object} utils.APIResponse{data=service.ExecutionResult}
// @Router /device/version [get]
func (h *CommandHandler) GetVersion(c *gin.Context) {
	result, err := h.commandService.Version(c.Request.Context())
	h.respond(c, result, err)
}

// GetAttribute reads one property attribute
// @Summary Get attribute
// @Tags Device
// @Produce json
// @Param property path string true "Property name"
// @Param attribute path string true "Attribute name"
// @Success 200 {object} utils.APIResponse{data=service.ExecutionResult}
// @Router /device/properties/{property}/{attribute} [get]
func (h *CommandHandler) GetAttribute(c *gin.Context) {
	result, err := h.commandService.Get(c.Request.Context(), c.Param("property"), c.Param("attribute"))
	h.respond(c, result, err)
}

// SetAttribute writes one property attribute
// @Summary Set attribute
// @Tags Device
// @Accept json
// @Produce json
// @Param property path string true "Property name"
// @Param attribute path string true "Attribute name"
// @Param request body SetAttributeRequest true "New value"
// @Success 200 {object} utils.APIResponse{data=service.ExecutionResult}
// @Router /device/properties/{property}/{attribute} [put]
func (h *CommandHandler) SetAttribute(c *gin.Context) {
	var req SetAttributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.commandService.Set(c.Request.Context(), c.Param("property"), c.Param("attribute"), req.Value)
	h.respond(c, result, err)
}

// DescribeDevice lists the device properties and their attributes
// @Summary Describe device
// @Tags Device
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{count=int,properties=[]model.Property}}
// @Router /device/properties [get]
func (h *CommandHandler) DescribeDevice(c *gin.Context) {
	properties, err := h.commandService.Describe(c.Request.Context())
	if err != nil {
		var cmdErr *service.CommandError
		if errors.As(err, &cmdErr) {
			utils.ErrorResponseWithData(c, StatusForCode(cmdErr.Result.Code), cmdErr.Result.Description, err, cmdErr.Result)
			return
		}
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to describe device", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Device described", gin.H{
		"count":      len(properties),
		"properties": properties,
	})
}

// ListErrorCodes returns the result code catalogue
// @Summary Result codes
// @Tags Commands
// @Produce json
// @Router /errors [get]
func (h *CommandHandler) ListErrorCodes(c *gin.Context) {
	codes := protocol.Codes()
	catalogue := make([]gin.H, 0, len(codes))
	for _, code := range codes {
		catalogue = append(catalogue, gin.H{
			"code":        int(code),
			"description": code.Description(),
			"http_status": StatusForCode(code),
		})
	}
	utils.SuccessResponse(c, http.StatusOK, "Result codes retrieved", catalogue)
}

// ListExchanges lists journaled exchanges
// @Summary List exchanges
// @Tags Exchanges
// @Produce json
// @Param mode query string false "FRAMED or RAW"
// @Param code query int false "Result code"
// @Param since query string false "RFC3339 timestamp"
// @Param limit query int false "Maximum entries" default(100)
// @Success 200 {object} utils.APIResponse{data=object{count=int,exchanges=[]model.Exchange}}
// @Router /exchanges [get]
func (h *CommandHandler) ListExchanges(c *gin.Context) {
	filter, validationErrors := parseExchangeFilter(c)
	if len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	exchanges, err := h.commandService.History(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list exchanges", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list exchanges", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Exchanges retrieved", gin.H{
		"count":     len(exchanges),
		"exchanges": exchanges,
	})
}

// GetExchange returns one journaled exchange
// @Summary Get exchange
// @Tags Exchanges
// @Produce json
// @Param id path string true "Exchange ID"
// @Router /exchanges/{id} [get]
func (h *CommandHandler) GetExchange(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid exchange ID", err)
		return
	}

	exchange, err := h.commandService.GetExchange(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			utils.ErrorResponse(c, http.StatusNotFound, "Exchange not found", err)
			return
		}
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to get exchange", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Exchange retrieved", exchange)
}

// GetExchangeStats summarises the journal
// @Summary Exchange statistics
// @Tags Exchanges
// @Produce json
// @Router /exchanges/stats [get]
func (h *CommandHandler) GetExchangeStats(c *gin.Context) {
	stats, err := h.commandService.JournalStats(c.Request.Context())
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to get exchange stats", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Exchange stats retrieved", stats)
}

// respond writes an execution result with the status matching its code
func (h *CommandHandler) respond(c *gin.Context, result *service.ExecutionResult, err error) {
	if err != nil {
		utils.ErrorResponse(c, http.StatusRequestTimeout, "Request cancelled", err)
		return
	}

	if result.OK() {
		utils.SuccessResponse(c, http.StatusOK, result.Description, result)
		return
	}

	var detail error
	if result.Detail != "" {
		detail = errors.New(result.Detail)
	}
	utils.ErrorResponseWithData(c, StatusForCode(result.Code), result.Description, detail, result)
}

// StatusForCode maps a result code onto an HTTP status
func StatusForCode(code protocol.ErrorCode) int {
	switch code {
	case protocol.CodeOK:
		return http.StatusOK
	case protocol.CodeInvalidArguments:
		return http.StatusBadRequest
	case protocol.CodeTimeout:
		return http.StatusGatewayTimeout
	case protocol.CodePortUnavailable:
		return http.StatusServiceUnavailable
	case protocol.CodeUnexpectedReply, protocol.CodeChecksumMismatch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func parseExchangeFilter(c *gin.Context) (*repository.ExchangeFilter, map[string]string) {
	filter := &repository.ExchangeFilter{}
	validationErrors := make(map[string]string)

	if mode := c.Query("mode"); mode != "" {
		m := model.ExchangeMode(mode)
		if m != model.ExchangeModeFramed && m != model.ExchangeModeRaw {
			validationErrors["mode"] = "must be FRAMED or RAW"
		} else {
			filter.Mode = &m
		}
	}

	if code := c.Query("code"); code != "" {
		n, err := strconv.Atoi(code)
		if err != nil || n < 0 {
			validationErrors["code"] = "must be a non-negative integer"
		} else {
			filter.Code = &n
		}
	}

	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			validationErrors["since"] = "must be an RFC3339 timestamp"
		} else {
			filter.Since = &t
		}
	}

	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			validationErrors["limit"] = "must be a positive integer"
		} else {
			filter.Limit = n
		}
	}

	return filter, validationErrors
}

// SetAttributeRequest represents the body of a set request
type SetAttributeRequest struct {
	Value string `json:"value" binding:"required"`
}
