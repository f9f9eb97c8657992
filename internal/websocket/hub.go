// Package websocket pushes live stats updates to subscribed clients.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/moxie-stats/internal/domain"
)

// Message types
const (
	MessageTypeStatsUpdate = "stats_update"
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypePing        = "ping"
	MessageTypePong        = "pong"
	MessageTypeError       = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string    `json:"type"`
	FID       string    `json:"fid,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StatsUpdate is the payload of a stats_update message
type StatsUpdate struct {
	FID        string                `json:"fid"`
	Score      string                `json:"score"`
	Rank       int64                 `json:"rank"`
	Engagement []domain.MetricBucket `json:"engagement"`
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Subscribed clients by fid
	clients map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu  sync.RWMutex
	log zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client *Client
	fid    string
}

// NewHub creates a new Hub
func NewHub(log zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		log:         log.With().Str("component", "ws_hub").Logger(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.log.Info().Msg("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.log.Info().Msg("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.log.Debug().Str("client_id", client.id).Msg("Client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for fid, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, fid)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.log.Debug().Str("client_id", client.id).Msg("Client unregistered")

		case req := <-h.subscribe:
			h.mu.Lock()
			// A subscribe queued before the client disconnected must not
			// resurrect it: its send channel is already closed.
			if !h.allClients[req.client] {
				h.mu.Unlock()
				continue
			}
			if _, ok := h.clients[req.fid]; !ok {
				h.clients[req.fid] = make(map[*Client]bool)
			}
			h.clients[req.fid][req.client] = true
			h.mu.Unlock()
			h.log.Debug().Str("client_id", req.client.id).Str("fid", req.fid).Msg("Client subscribed")

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.fid]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.fid)
				}
			}
			h.mu.Unlock()
			h.log.Debug().Str("client_id", req.client.id).Str("fid", req.fid).Msg("Client unsubscribed")

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to the subscribers of its fid, or to
// everyone when it carries none.
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal message")
		return
	}

	targets := h.allClients
	if message.FID != "" {
		targets = h.clients[message.FID]
	}

	for client := range targets {
		select {
		case client.send <- data:
		default:
			h.log.Warn().Str("client_id", client.id).Msg("Client buffer full, skipping")
		}
	}
}

// BroadcastStatsUpdate notifies the subscribers of update.FID
func (h *Hub) BroadcastStatsUpdate(update StatsUpdate) {
	message := &Message{
		Type:      MessageTypeStatsUpdate,
		FID:       update.FID,
		Data:      update,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.log.Warn().Str("fid", update.FID).Msg("Broadcast channel full, dropping message")
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Subscribe adds a client to the subscribers of fid
func (h *Hub) Subscribe(client *Client, fid string) {
	select {
	case h.subscribe <- &subscriptionRequest{client: client, fid: fid}:
	case <-h.ctx.Done():
	}
}

// Unsubscribe removes a client from the subscribers of fid
func (h *Hub) Unsubscribe(client *Client, fid string) {
	select {
	case h.unsubscribe <- &subscriptionRequest{client: client, fid: fid}:
	case <-h.ctx.Done():
	}
}

// SubscriberCount returns the number of subscribers of fid
func (h *Hub) SubscriberCount(fid string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[fid])
}

// TotalConnections returns the total number of connected clients
func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
