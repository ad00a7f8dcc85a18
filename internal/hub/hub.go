package hub

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
)

const defaultWriteTimeout = 10 * time.Second

// Conn is the part of a websocket connection the hub writes to and reads from
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one connected observer. Writes are serialised per client.
type Client struct {
	id     string
	conn   Conn
	mu     sync.Mutex
	groups map[string]struct{}
}

// ID returns the client id
func (c *Client) ID() string {
	return c.id
}

// Send writes one text message to the client
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// SendJSON marshals v and writes it to the client
func (c *Client) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.Send(data)
}

// Hub tracks connected clients and the groups they joined.
// It is the backplane frames and status messages are published through.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	groups  map[string]map[string]*Client
	logger  arbor.ILogger
}

// New creates an empty hub
func New(logger arbor.ILogger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		groups:  make(map[string]map[string]*Client),
		logger:  logger,
	}
}

// Register adds a connection and returns its client
func (h *Hub) Register(conn Conn) *Client {
	c := &Client{
		id:     uuid.New().String(),
		conn:   conn,
		groups: make(map[string]struct{}),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Str("client_id", c.id).Int("total", total).Msg("WebSocket client connected")
	return c
}

// Unregister removes a client from every group it joined
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	for group := range c.groups {
		h.leaveLocked(c, group)
	}
	delete(h.clients, c.id)
	remaining := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Str("client_id", c.id).Int("remaining", remaining).Msg("WebSocket client disconnected")
}

// Join adds a client to a group
func (h *Hub) Join(c *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]*Client)
		h.groups[group] = members
	}
	members[c.id] = c
	c.groups[group] = struct{}{}
}

// Leave removes a client from a group
func (h *Hub) Leave(c *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, group)
}

func (h *Hub) leaveLocked(c *Client, group string) {
	delete(c.groups, group)
	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, c.id)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// Groups returns the groups a client is a member of
func (h *Hub) Groups(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	groups := make([]string, 0, len(c.groups))
	for group := range c.groups {
		groups = append(groups, group)
	}
	return groups
}

// GroupSize returns the live membership count of a group
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish marshals message once and sends it to every member of group.
// Delivery failures to individual clients are logged, not returned.
func (h *Hub) Publish(group string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message for %s: %w", group, err)
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.groups[group]))
	for _, c := range h.groups[group] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		if err := c.Send(data); err != nil {
			h.logger.Warn().Err(err).Str("client_id", c.id).Str("group", group).Msg("Failed to send to client")
		}
	}
	return nil
}
