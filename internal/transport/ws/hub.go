package ws

import (
	"encoding/json"
	"log"
	"sync"
)

// Client is one live WebSocket connection. Outbound messages are queued
// on Send and drained by the connection's write pump.
type Client struct {
	ConnectionID string
	Send         chan []byte
}

// Hub tracks live connections and session-scoped broadcast groups.
// Subscriptions are mutated synchronously so a join is visible to the
// very next broadcast on the same connection.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client            // connectionId -> client
	groups  map[string]map[string]*Client // session code -> connectionId -> client
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		groups:  make(map[string]map[string]*Client),
	}
}

// Register adds a connection
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ConnectionID] = c
	log.Printf("Client %s connected", c.ConnectionID)
}

// Unregister removes a connection from the hub and every group and
// closes its send channel. Safe to call once per connection.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	existing, ok := h.clients[c.ConnectionID]
	if !ok || existing != c {
		return
	}
	delete(h.clients, c.ConnectionID)
	for code, members := range h.groups {
		delete(members, c.ConnectionID)
		if len(members) == 0 {
			delete(h.groups, code)
		}
	}
	close(c.Send)
	log.Printf("Client %s disconnected", c.ConnectionID)
}

// Subscribe adds the connection to a session's broadcast group.
func (h *Hub) Subscribe(code string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.groups[code] == nil {
		h.groups[code] = make(map[string]*Client)
	}
	h.groups[code][c.ConnectionID] = c
}

// DropGroup removes a session's entire broadcast group. Connections
// stay registered; only their subscription to this code goes away.
func (h *Hub) DropGroup(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.groups, code)
}

// Unsubscribe removes the connection from a session's broadcast group.
func (h *Hub) Unsubscribe(code, connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.groups[code]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(h.groups, code)
		}
	}
}

// SendToConnection sends a message to one specific connection.
func (h *Hub) SendToConnection(connectionID string, msgType MessageType, payload interface{}) {
	data := marshalMessage(msgType, payload)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.clients[connectionID]; ok {
		send(c, data)
	}
}

// SendToSession sends a message to every member of a session's group.
func (h *Hub) SendToSession(code string, msgType MessageType, payload interface{}) {
	data := marshalMessage(msgType, payload)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.groups[code] {
		send(c, data)
	}
}

// SendToOthers sends a message to every member of a session's group
// except the sender.
func (h *Hub) SendToOthers(code, senderConnectionID string, msgType MessageType, payload interface{}) {
	data := marshalMessage(msgType, payload)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.groups[code] {
		if id == senderConnectionID {
			continue
		}
		send(c, data)
	}
}

func send(c *Client, data []byte) {
	select {
	case c.Send <- data:
	default:
		// Drop message if buffer full
	}
}

func marshalMessage(msgType MessageType, payload interface{}) []byte {
	body, _ := json.Marshal(payload)
	data, _ := json.Marshal(&Message{
		Type:    msgType,
		Payload: body,
	})
	return data
}
