// Package debugws is an optional local introspection feed: it
// broadcasts connection, subscribe, and durable-state transitions to
// any attached websocket client, for an operator watching the
// subscriber live. It observes the core; no subscribe/resolve/reconnect
// decision ever depends on whether a debug client is attached.
//
// Adapted directly from the teacher's websocket hub (single-goroutine
// ownership, register/unregister/broadcast channels, non-blocking
// per-client send-or-drop), with the price-feed vocabulary replaced by
// Event and the nonce-dedup machinery removed — locally generated
// events have no duplicate-delivery concern to guard against.
package debugws

import (
	"encoding/json"
	"log"
	"sync"
)

// Hub fans Event values out to every attached Client.
type Hub struct {
	clients    map[*Client]bool
	clientsMu  sync.RWMutex
	register   chan *Client
	unregister chan *Client
	broadcast  chan Event
	logger     *log.Logger
	done       chan struct{}
}

// NewHub builds a Hub. Call Run in its own goroutine before use.
func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan Event, 256),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Run is the hub's single goroutine: clients is mutated only here;
// ClientCount reads it under clientsMu.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case c, ok := <-h.register:
			if !ok {
				return
			}
			h.clientsMu.Lock()
			h.clients[c] = true
			h.clientsMu.Unlock()

		case c := <-h.unregister:
			h.clientsMu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.clientsMu.Unlock()

		case ev := <-h.broadcast:
			h.fanOut(ev)
		}
	}
}

func (h *Hub) fanOut(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		if h.logger != nil {
			h.logger.Printf("debugws: marshal event: %v", err)
		}
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			go h.forceUnregister(c)
		}
	}
}

func (h *Hub) forceUnregister(c *Client) {
	select {
	case h.unregister <- c:
	default:
	}
}

// Publish queues ev for delivery to every attached client. It never
// blocks the caller.
func (h *Hub) Publish(ev Event) {
	select {
	case h.broadcast <- ev:
	default:
		if h.logger != nil {
			h.logger.Printf("debugws: broadcast queue full, dropping %s event", ev.Type)
		}
	}
}

// RegisterClient attaches c to the hub.
func (h *Hub) RegisterClient(c *Client) { h.register <- c }

// UnregisterClient detaches c from the hub.
func (h *Hub) UnregisterClient(c *Client) { h.unregister <- c }

// ClientCount returns the number of currently attached clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Shutdown stops the hub's goroutine.
func (h *Hub) Shutdown() {
	close(h.register)
	<-h.done
}
