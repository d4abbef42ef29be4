// Package ws is the realtime relay: it fans change-feed events out to WebSocket
// subscribers, each subscribed to a set of tables.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/chatflow/internal/logger"
	"github.com/chatflow/internal/metrics"
	"github.com/chatflow/internal/model"
)

type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{}
	all        map[*Client]struct{}
	maxConns   int
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		all:        make(map[*Client]struct{}),
		maxConns:   maxConns,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, len(h.all))
	for c := range h.all {
		allClients = append(allClients, c)
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.all = make(map[*Client]struct{})
	h.mu.Unlock()
	metrics.RelayConns.Set(0)

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if len(h.all) >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting %s", h.maxConns, c.remote)
		c.Close()
		return
	}
	h.all[c] = struct{}{}
	for _, table := range c.tables {
		if _, ok := h.clients[table]; !ok {
			h.clients[table] = make(map[*Client]struct{})
		}
		h.clients[table][c] = struct{}{}
	}
	n := len(h.all)
	h.mu.Unlock()
	metrics.RelayConns.Set(float64(n))
	logger.Debugf("ws subscriber %s tables=%v", c.remote, c.tables)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.all[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.all, c)
	for _, table := range c.tables {
		if clients, ok := h.clients[table]; ok {
			delete(clients, c)
			if len(clients) == 0 {
				delete(h.clients, table)
			}
		}
	}
	n := len(h.all)
	h.mu.Unlock()
	metrics.RelayConns.Set(float64(n))

	// Network I/O outside the lock.
	c.Close()
}

// Broadcast sends ev to every subscriber of ev.Table. Its signature matches feed.Handler.
func (h *Hub) Broadcast(_ context.Context, ev model.ChangeEvent) {
	defer logger.DeferLogDuration("ws.Broadcast", time.Now())()
	h.mu.RLock()
	clients := h.clients[ev.Table]
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, ev)
	}
}

// Len is the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) sendToClient(c *Client, ev model.ChangeEvent) {
	select {
	case c.send <- ev:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client. It reconnects and reloads.
		metrics.RelayDropped.Inc()
		logger.Errorf("ws send buffer full, closing slow client %s", c.remote)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
