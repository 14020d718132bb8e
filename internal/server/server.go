// Package server implements the HTTP and WebSocket transport for the relay.
package server

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/relaychat/internal/auth"
	"github.com/Tyrowin/relaychat/internal/relay"
)

// Verifier turns a raw identity token into an authenticated identity.
type Verifier interface {
	Verify(token string) (auth.Identity, error)
}

// Server bundles the relay, its hub, and the HTTP handlers that feed it.
type Server struct {
	cfg      Config
	verifier Verifier
	relay    *relay.Relay
	hub      *Hub
	upgrader websocket.Upgrader
	origins  originPolicy
}

// New creates a Server that authenticates connections with verifier and
// persists accepted messages to sink. A nil sink discards messages.
func New(cfg Config, verifier Verifier, sink relay.Sink, opts ...relay.Option) *Server {
	cfg = cfg.Sanitize()
	r := relay.New(sink, opts...)

	s := &Server{
		cfg:      cfg,
		verifier: verifier,
		relay:    r,
		hub:      NewHub(r, cfg),
		origins:  newOriginPolicy(cfg.AllowedOrigins),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	return s
}

// Hub returns the server's connection hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Relay returns the relay the server dispatches intents to.
func (s *Server) Relay() *relay.Relay {
	return s.relay
}

// StartHub starts the hub's event loop in a separate goroutine.
// This should be called before starting the HTTP server.
func (s *Server) StartHub() {
	go s.hub.Run()
	slog.Info("hub started and ready to manage WebSocket connections")
}

// Shutdown closes every client connection and waits for their goroutines.
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.hub.Shutdown(timeout)
}
