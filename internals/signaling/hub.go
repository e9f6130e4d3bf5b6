package signaling

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// HubConfig carries the websocket tunables for the hub and its clients.
type HubConfig struct {
	ReadLimit       int64
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingInterval    time.Duration
	HubPingInterval time.Duration
}

// Hub owns all connected clients and the named-group membership used for
// session broadcasts. Groups are joined dynamically; a group disappears when
// explicitly removed or when its last member disconnects.
type Hub struct {
	clients    map[string]*Client
	groups     map[string]map[string]struct{} // group -> participant IDs
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	cfg        HubConfig
	logger     *zap.Logger
}

func NewHub(cfg HubConfig, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		groups:     make(map[string]map[string]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		cfg:        cfg,
		logger:     logger,
	}
}

func (h *Hub) Run() {
	ticker := time.NewTicker(h.cfg.HubPingInterval)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()

			h.logger.Info("Client registered",
				zap.String("participantID", client.ID),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				h.dropFromGroupsLocked(client.ID)
				client.closeSend()
			}
			h.mu.Unlock()

			h.logger.Info("Client unregistered",
				zap.String("participantID", client.ID),
			)

		case <-ticker.C:
			h.pingClients()
		}
	}
}

func (h *Hub) pingClients() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	pingMessage := Message{
		Type:      MessageTypePing,
		Timestamp: time.Now(),
	}

	for _, client := range clients {
		client.SendMessage(pingMessage)
	}
}

func (h *Hub) RegisterClient(client *Client) {
	h.register <- client
}

func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}

// Send delivers a message to one participant by identity. Unknown or already
// disconnected participants are skipped.
func (h *Hub) Send(participantID string, message Message) {
	h.mu.RLock()
	client, ok := h.clients[participantID]
	h.mu.RUnlock()

	if !ok {
		return
	}

	message.To = participantID
	client.SendMessage(message)
}

// Broadcast delivers a message to every connected member of a named group.
func (h *Hub) Broadcast(group string, message Message) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.groups[group]))
	for id := range h.groups[group] {
		if client, ok := h.clients[id]; ok {
			members = append(members, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range members {
		msg := message
		msg.To = client.ID
		client.SendMessage(msg)
	}
}

// JoinGroup adds a participant to a named group, creating it if needed.
func (h *Hub) JoinGroup(group, participantID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]struct{})
		h.groups[group] = members
	}
	members[participantID] = struct{}{}
}

func (h *Hub) LeaveGroup(group, participantID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, participantID)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// RemoveGroup drops a group and all its memberships.
func (h *Hub) RemoveGroup(group string) {
	h.mu.Lock()
	delete(h.groups, group)
	h.mu.Unlock()
}

// IsConnected reports whether a participant currently has a live connection.
// This is a local membership test, not a round-trip probe.
func (h *Hub) IsConnected(participantID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.clients[participantID]
	return ok
}

func (h *Hub) GetClient(participantID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, exists := h.clients[participantID]
	return client, exists
}

// ClientCount returns the number of connected participants.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GroupSize returns the current membership count of a group.
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

func (h *Hub) dropFromGroupsLocked(participantID string) {
	for group, members := range h.groups {
		delete(members, participantID)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
}
