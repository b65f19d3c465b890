// internal/handler/websocket_handler.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"usis-service/internal/model"
	"usis-service/internal/service"
	"usis-service/internal/utils"
)

const (
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = 54 * time.Second
	wsWriteWait    = 10 * time.Second
	wsCommandLimit = 30 * time.Second
)

// WebSocketHandler streams exchange events and accepts commands over WebSocket
type WebSocketHandler struct {
	upgrader       websocket.Upgrader
	connections    *ConnectionManager
	commandService *service.CommandService
	eventBus       *EventBus
	logger         *utils.ServiceLogger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	commandService *service.CommandService,
	eventBus *EventBus,
	allowedOrigins []string,
	logger *zap.Logger,
) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		connections:    NewConnectionManager(),
		commandService: commandService,
		eventBus:       eventBus,
		logger:         utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

// originChecker accepts same-host requests, requests without Origin, and the listed origins
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events", h.HandleEventConnection)
	router.GET("/commands", h.HandleCommandConnection)
}

// Start forwards bus events to event clients until the bus stops
func (h *WebSocketHandler) Start() {
	events := h.eventBus.Subscribe(AllEvents)
	go func() {
		for event := range events {
			h.BroadcastEvent(event)
		}
	}()
}

// Stop disconnects every client
func (h *WebSocketHandler) Stop() {
	h.connections.Stop()
}

// HandleEventConnection handles event stream WebSocket connections
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	h.accept(c, ClientTypeEvents)
}

// HandleCommandConnection handles WebSocket connections that send commands
func (h *WebSocketHandler) HandleCommandConnection(c *gin.Context) {
	h.accept(c, ClientTypeCommands)
}

func (h *WebSocketHandler) accept(c *gin.Context, clientType string) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, 256),
		Type:        clientType,
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}

	if !h.connections.Register(client) {
		conn.Close()
		return
	}

	h.logger.Info("WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("type", clientType),
		zap.String("remote_addr", client.RemoteAddr),
	)

	h.sendMessage(client, &WebSocketMessage{
		Type: "connected",
		Data: map[string]interface{}{
			"client_id": client.ID,
			"type":      clientType,
		},
		Timestamp: time.Now(),
	})

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		client.Connection.Close()
	}()

	client.Connection.SetReadDeadline(time.Now().Add(wsPongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			break
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.logger.Warn("Failed to parse WebSocket message",
				zap.Error(err),
				zap.String("client_id", client.ID),
			)
			h.sendError(client, "", "invalid message")
			continue
		}

		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *WebSocketMessage) {
	switch message.Type {
	case "subscribe", "unsubscribe":
		h.handleSubscription(client, message)
	case "command", "version":
		if client.Type != ClientTypeCommands {
			h.sendError(client, message.RequestID, message.Type+" only available on command connections")
			return
		}
		go h.executeCommand(client, message)
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})
	default:
		h.logger.Warn("Unknown message type",
			zap.String("type", message.Type),
			zap.String("client_id", client.ID),
		)
		h.sendError(client, message.RequestID, "unknown message type: "+message.Type)
	}
}

// handleSubscription handles subscribe and unsubscribe requests
func (h *WebSocketHandler) handleSubscription(client *Client, message *WebSocketMessage) {
	data, _ := message.Data.(map[string]interface{})
	eventType, ok := data["event_type"].(string)
	if !ok || eventType == "" {
		h.sendError(client, message.RequestID, "event_type is required")
		return
	}

	if message.Type == "subscribe" {
		client.Subscribe(model.EventType(eventType))
	} else {
		client.Unsubscribe(model.EventType(eventType))
	}

	h.logger.Debug("Client subscription changed",
		zap.String("client_id", client.ID),
		zap.String("action", message.Type),
		zap.String("event_type", eventType),
	)

	h.sendMessage(client, &WebSocketMessage{
		Type: message.Type + "d",
		Data: map[string]interface{}{
			"event_type":    eventType,
			"subscriptions": client.Subscriptions(),
		},
		Timestamp: time.Now(),
		RequestID: message.RequestID,
	})
}

// executeCommand runs a command message and replies with the result
func (h *WebSocketHandler) executeCommand(client *Client, message *WebSocketMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), wsCommandLimit)
	defer cancel()

	var (
		result *service.ExecutionResult
		err    error
	)

	if message.Type == "version" {
		result, err = h.commandService.Version(ctx)
	} else {
		data, _ := message.Data.(map[string]interface{})
		text, ok := data["text"].(string)
		if !ok {
			h.sendError(client, message.RequestID, "text is required")
			return
		}
		raw, _ := data["raw"].(bool)
		result, err = h.commandService.Execute(ctx, &service.CommandRequest{Text: text, Raw: raw})
	}

	if err != nil {
		h.sendError(client, message.RequestID, err.Error())
		return
	}

	h.sendMessage(client, &WebSocketMessage{
		Type:      "command_response",
		Data:      result,
		Timestamp: time.Now(),
		RequestID: message.RequestID,
	})
}

// sendMessage sends a message to a client
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	if !h.connections.SendTo(client, messageBytes) {
		h.logger.Warn("Client gone or send channel full, dropping message",
			zap.String("client_id", client.ID),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, requestID, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type: "error",
		Data: map[string]interface{}{
			"error": errorMsg,
		},
		Timestamp: time.Now(),
		RequestID: requestID,
	})
}

// BroadcastEvent sends an event to every interested event client
func (h *WebSocketHandler) BroadcastEvent(event *model.Event) {
	messageBytes, err := json.Marshal(&WebSocketMessage{
		Type:      "event",
		Data:      event,
		Timestamp: time.Now(),
	})
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	dropped := h.connections.Broadcast(ClientTypeEvents, func(c *Client) bool {
		return c.Wants(event.EventType)
	}, messageBytes)

	for _, client := range dropped {
		h.logger.Warn("Client send channel full during broadcast",
			zap.String("client_id", client.ID),
		)
	}
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}
