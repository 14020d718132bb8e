// Package server coordinates client registration, connection cleanup, and
// shutdown for the relay's WebSocket transport via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/relaychat/internal/relay"
)

// Hub owns the set of live WebSocket clients. It serializes their
// registration and unregistration and reports both to the relay, which
// handles routing and presence.
type Hub struct {
	cfg        Config
	relay      *relay.Relay
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a Hub that reports connections to r.
func NewHub(r *relay.Relay, cfg Config) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:        cfg.Sanitize(),
		relay:      r,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Register hands a client to the running hub. It returns false when the hub
// is shutting down and the client was not accepted.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Run starts the hub's main event loop. It should be called in a separate
// goroutine and returns once Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				slog.Warn("received nil client registration; skipping")
				continue
			}
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	h.clients[client] = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.relay.Connect(client.identity, client)
	slog.Info("client registered",
		"user", client.identity.Name,
		"role", client.identity.Role,
		"addr", client.addr,
		"clients", clientCount)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	clientCount := len(h.clients)
	h.mutex.Unlock()

	if err := client.Close(); err != nil {
		slog.Warn("close client", "addr", client.addr, "error", err)
	}
	h.relay.Disconnect(client)
	slog.Info("client unregistered", "user", client.identity.Name, "addr", client.addr, "clients", clientCount)
}

// snapshot returns a thread-safe copy of all current clients
func (h *Hub) snapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// shutdownClients closes every client connection and ends its session.
func (h *Hub) shutdownClients() {
	clients := h.snapshot()
	slog.Info("shutting down client connections", "clients", len(clients))

	h.mutex.Lock()
	clear(h.clients)
	h.mutex.Unlock()

	for _, client := range clients {
		if err := client.Close(); err != nil {
			slog.Warn("close client", "addr", client.addr, "error", err)
		}
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				slog.Warn("close client connection", "addr", client.addr, "error", err)
			}
		}
	}
	for _, client := range clients {
		h.relay.Disconnect(client)
	}

	slog.Info("closed client connections", "clients", len(clients))
}

// Shutdown stops the hub and waits for all client goroutines to finish.
// It returns context.DeadlineExceeded if they do not finish within timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	slog.Info("initiating hub shutdown")
	h.cancel()

	deadline := time.After(timeout)
	select {
	case <-h.done:
	case <-deadline:
		slog.Warn("hub shutdown timeout reached before the event loop stopped")
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("hub shutdown completed")
		return nil
	case <-deadline:
		slog.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
