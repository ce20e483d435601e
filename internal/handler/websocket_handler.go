// internal/handler/websocket_handler.go
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"modem-service/internal/model"
	"modem-service/internal/utils"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// WebSocketHandler streams modem events to WebSocket clients and accepts
// commands from them.
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	connections *ConnectionManager
	modem       ModemController
	eventBus    *EventBus
	logger      *utils.ServiceLogger

	startOnce sync.Once
	events    <-chan model.ModemEvent
	done      chan struct{}
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(modem ModemController, eventBus *EventBus, allowedOrigins []string, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		connections: NewConnectionManager(),
		modem:       modem,
		eventBus:    eventBus,
		logger:      utils.NewServiceLogger(logger, "websocket-handler"),
		done:        make(chan struct{}),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Start begins forwarding bus events to connected clients
func (h *WebSocketHandler) Start() {
	h.startOnce.Do(func() {
		h.events = h.eventBus.SubscribeAll()
		go h.forward()
	})
}

// Close stops forwarding and disconnects every client
func (h *WebSocketHandler) Close() {
	if h.events != nil {
		h.eventBus.Unsubscribe(h.events)
		<-h.done
	}
	h.connections.Close()
}

func (h *WebSocketHandler) forward() {
	defer close(h.done)
	for event := range h.events {
		payload, err := json.Marshal(&WebSocketMessage{
			Type:      "modem_event",
			Data:      event,
			Timestamp: time.Now(),
		})
		if err != nil {
			h.logger.Error("Failed to marshal modem event", zap.Error(err))
			continue
		}
		if dropped := h.connections.Broadcast(event.EventType, payload); dropped > 0 {
			h.logger.Warn("Client send channel full during broadcast",
				zap.String("event_type", string(event.EventType)),
				zap.Int("dropped", dropped),
			)
		}
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events", h.HandleEventConnection)
}

// HandleEventConnection upgrades the request and streams events to it
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, 256),
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}
	for _, topic := range c.QueryArray("type") {
		client.Subscribe(model.EventType(strings.ToUpper(topic)))
	}

	if !h.connections.Register(client) {
		conn.Close()
		return
	}
	h.logger.Info("Event WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", client.RemoteAddr),
	)

	h.sendMessage(client, &WebSocketMessage{
		Type:      "initial_status",
		Data:      h.modem.Status(),
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

	client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(pongWait))
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
			return
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.sendError(client, message.RequestID, "invalid message")
			continue
		}
		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
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
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
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
		topic, ok := stringField(message.Data, "topic")
		if !ok {
			h.sendError(client, message.RequestID, "topic is required")
			return
		}
		eventType := model.EventType(strings.ToUpper(topic))
		if message.Type == "subscribe" {
			client.Subscribe(eventType)
		} else {
			client.Unsubscribe(eventType)
		}
		h.sendMessage(client, &WebSocketMessage{
			Type:      message.Type + "d",
			Data:      gin.H{"topic": eventType},
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})
	case "command":
		go h.executeCommand(client, message)
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})
	default:
		h.sendError(client, message.RequestID, fmt.Sprintf("unknown message type: %s", message.Type))
	}
}

// executeCommand runs one exchange on behalf of a client. Data carries
// "command", an optional "kind" (execute, query, set) and "params" for set.
func (h *WebSocketHandler) executeCommand(client *Client, message *WebSocketMessage) {
	command, ok := stringField(message.Data, "command")
	if !ok || command == "" {
		h.sendError(client, message.RequestID, "command is required")
		return
	}
	kind, _ := stringField(message.Data, "kind")

	var result *model.ExchangeResult
	var err error
	switch kind {
	case "", "execute":
		result, err = h.modem.Execute(&model.ExecuteRequest{Command: command})
	case "query":
		result, err = h.modem.Query(&model.QueryRequest{Command: command})
	case "set":
		var params []interface{}
		if data, ok := message.Data.(map[string]interface{}); ok {
			params, _ = data["params"].([]interface{})
		}
		result, err = h.modem.Set(&model.SetRequest{Command: command, Params: params})
	default:
		h.sendError(client, message.RequestID, fmt.Sprintf("unknown command kind: %s", kind))
		return
	}

	data := gin.H{
		"command": command,
		"success": err == nil,
		"result":  result,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	h.sendMessage(client, &WebSocketMessage{
		Type:      "command_response",
		Data:      data,
		Timestamp: time.Now(),
		RequestID: message.RequestID,
	})
}

func stringField(data interface{}, key string) (string, bool) {
	m, ok := data.(map[string]interface{})
	if !ok {
		return "", false
	}
	s, ok := m[key].(string)
	return s, ok
}

// sendMessage sends a message to a client
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}
	if !h.connections.SendTo(client, messageBytes) {
		h.logger.Warn("Client send channel full or closed, dropping message",
			zap.String("client_id", client.ID),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, requestID, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type:      "error",
		Data:      gin.H{"error": errorMsg},
		Timestamp: time.Now(),
		RequestID: requestID,
	})
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}
