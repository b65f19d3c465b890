// internal/handler/websocket_types.go
package handler

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"usis-service/internal/model"
)

// Client types
const (
	ClientTypeEvents   = "events"
	ClientTypeCommands = "commands"
)

// Client represents a WebSocket client
type Client struct {
	ID          string          `json:"id"`
	Connection  *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	Type        string          `json:"type"` // events, commands
	UserAgent   string          `json:"user_agent"`
	RemoteAddr  string          `json:"remote_addr"`
	ConnectedAt time.Time       `json:"connected_at"`

	subMu         sync.RWMutex
	subscriptions map[model.EventType]bool
}

// Subscribe restricts the events the client receives to the subscribed types
func (c *Client) Subscribe(eventType model.EventType) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.subscriptions == nil {
		c.subscriptions = make(map[model.EventType]bool)
	}
	c.subscriptions[eventType] = true
}

// Unsubscribe drops one event type
func (c *Client) Unsubscribe(eventType model.EventType) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.subscriptions, eventType)
}

// Wants reports whether the client receives events of eventType. A client
// without subscriptions receives everything.
func (c *Client) Wants(eventType model.EventType) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions) == 0 || c.subscriptions[eventType]
}

// Subscriptions returns the subscribed event types
func (c *Client) Subscriptions() []model.EventType {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	types := make([]model.EventType, 0, len(c.subscriptions))
	for t := range c.subscriptions {
		types = append(types, t)
	}
	return types
}

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// ConnectionManager manages WebSocket connections
type ConnectionManager struct {
	clients map[string]*Client
	stopped bool
	mutex   sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		clients: make(map[string]*Client),
	}
}

// Register registers a new client. It reports false once the manager is stopped.
func (cm *ConnectionManager) Register(client *Client) bool {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if cm.stopped {
		close(client.Send)
		return false
	}
	cm.clients[client.ID] = client
	return true
}

// Unregister unregisters a client and closes its send queue
func (cm *ConnectionManager) Unregister(client *Client) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if _, ok := cm.clients[client.ID]; ok {
		delete(cm.clients, client.ID)
		close(client.Send)
	}
}

// Stop disconnects every client
func (cm *ConnectionManager) Stop() {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	cm.stopped = true
	for id, client := range cm.clients {
		delete(cm.clients, id)
		close(client.Send)
	}
}

// GetClients returns the clients of one type
func (cm *ConnectionManager) GetClients(clientType string) []*Client {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	var clients []*Client
	for _, client := range cm.clients {
		if client.Type == clientType {
			clients = append(clients, client)
		}
	}
	return clients
}

// SendTo queues a message for a registered client. It reports false when the
// client is gone or its queue is full.
func (cm *ConnectionManager) SendTo(client *Client, message []byte) bool {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	if _, ok := cm.clients[client.ID]; !ok {
		return false
	}
	select {
	case client.Send <- message:
		return true
	default:
		return false
	}
}

// Broadcast queues a message for every client of clientType accepted by keep.
// It returns the clients whose queue was full.
func (cm *ConnectionManager) Broadcast(clientType string, keep func(*Client) bool, message []byte) []*Client {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	var dropped []*Client
	for _, client := range cm.clients {
		if client.Type != clientType || (keep != nil && !keep(client)) {
			continue
		}
		select {
		case client.Send <- message:
		default:
			dropped = append(dropped, client)
		}
	}
	return dropped
}

// GetStats returns connection statistics
func (cm *ConnectionManager) GetStats() *ConnectionStats {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	stats := &ConnectionStats{
		TotalConnections: len(cm.clients),
		ByType:           make(map[string]int),
		Clients:          make([]*Client, 0, len(cm.clients)),
	}

	for _, client := range cm.clients {
		stats.ByType[client.Type]++
		stats.Clients = append(stats.Clients, client)
	}

	return stats
}

// ConnectionStats represents connection statistics
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ByType           map[string]int `json:"by_type"`
	Clients          []*Client      `json:"clients"`
}
