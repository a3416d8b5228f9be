package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/pool-rewards/internal/domain"
)

// Message types
const (
	MessageTypePoolUpdate          = "pool_update"
	MessageTypeDistributionSettled = "distribution_settled"
	MessageTypeBadgeEarned         = "badge_earned"
	MessageTypeSubscribe           = "subscribe"
	MessageTypeUnsubscribe         = "unsubscribe"
	MessageTypePing                = "ping"
	MessageTypePong                = "pong"
	MessageTypeError               = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	PoolID    string      `json:"pool_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// PoolUpdate carries a pool's running state after a contribution
type PoolUpdate struct {
	PoolID         string `json:"pool_id"`
	TotalAmount    int64  `json:"total_amount"`
	Contributions  int    `json:"contributions"`
	ContributionID string `json:"contribution_id"`
}

// BadgeEarned notifies subscribers that a user crossed a badge threshold
type BadgeEarned struct {
	UserID      string       `json:"user_id"`
	Badge       domain.Badge `json:"badge"`
	TotalTokens int64        `json:"total_tokens"`
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Registered clients by pool ID
	clients map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Inbound messages from clients
	broadcast chan *Message

	// Subscription requests
	subscribe chan *subscriptionRequest

	// Unsubscription requests
	unsubscribe chan *subscriptionRequest

	// Mutex for thread-safe operations
	mu sync.RWMutex

	// Logger
	logger *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client *Client
	poolID string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				// Remove from all pool subscriptions
				for poolID, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, poolID)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[req.poolID]; !ok {
				h.clients[req.poolID] = make(map[*Client]bool)
			}
			h.clients[req.poolID][req.client] = true
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "pool_id", req.poolID)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.poolID]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.poolID)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "pool_id", req.poolID)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to all subscribed clients
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	// If message has a pool ID, only send to subscribed clients
	if message.PoolID != "" {
		if clients, ok := h.clients[message.PoolID]; ok {
			for client := range clients {
				select {
				case client.send <- data:
				default:
					// Client's buffer is full, skip
					h.logger.Warn("client buffer full, skipping", "client_id", client.id)
				}
			}
		}
	} else {
		// Broadcast to all clients
		for client := range h.allClients {
			select {
			case client.send <- data:
			default:
				h.logger.Warn("client buffer full, skipping", "client_id", client.id)
			}
		}
	}
}

// BroadcastPoolUpdate notifies a pool's subscribers of a new contribution
func (h *Hub) BroadcastPoolUpdate(update PoolUpdate) {
	message := &Message{
		Type:      MessageTypePoolUpdate,
		PoolID:    update.PoolID,
		Data:      update,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// BroadcastDistribution notifies a pool's subscribers of its settlement
func (h *Hub) BroadcastDistribution(plan *domain.DistributionPlan) {
	message := &Message{
		Type:      MessageTypeDistributionSettled,
		PoolID:    plan.PoolID,
		Data:      plan,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// BroadcastBadgeEarned notifies all clients of a badge tier transition
func (h *Hub) BroadcastBadgeEarned(earned BadgeEarned) {
	message := &Message{
		Type:      MessageTypeBadgeEarned,
		Data:      earned,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a pool subscription
func (h *Hub) Subscribe(client *Client, poolID string) {
	h.subscribe <- &subscriptionRequest{
		client: client,
		poolID: poolID,
	}
}

// Unsubscribe removes a client from a pool subscription
func (h *Hub) Unsubscribe(client *Client, poolID string) {
	h.unsubscribe <- &subscriptionRequest{
		client: client,
		poolID: poolID,
	}
}

// GetSubscriberCount returns the number of subscribers for a pool
func (h *Hub) GetSubscriberCount(poolID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.clients[poolID]; ok {
		return len(clients)
	}
	return 0
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
