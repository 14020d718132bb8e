// Package server exposes HTTP handlers, including authenticated WebSocket
// upgrades, health checks, and session statistics.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// WebSocketHandler verifies the caller's identity token, upgrades the HTTP
// connection to WebSocket, and registers the resulting client with the hub.
// Requests without a valid token are rejected before the upgrade.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	identity, err := s.verifier.Verify(tokenFromRequest(r))
	if err != nil {
		slog.Info("websocket authentication failed", "addr", r.RemoteAddr, "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, s.hub, identity, r.RemoteAddr)

	// The hub launches the pump goroutines once it has the client.
	if !s.hub.Register(client) {
		slog.Info("rejecting connection during shutdown", "addr", r.RemoteAddr)
		_ = conn.Close()
	}
}

// tokenFromRequest reads a bearer token from the Authorization header,
// falling back to the token query parameter for browser clients.
func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "relaychat server is running!")
}

// Stats is the body returned by the stats endpoint.
type Stats struct {
	Online      int `json:"online"`
	Connections int `json:"connections"`
}

// StatsHandler reports the number of active sessions and open connections.
func (s *Server) StatsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	stats := Stats{
		Online:      s.relay.Online(),
		Connections: s.hub.ClientCount(),
	}
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		slog.Warn("write stats response", "error", err)
	}
}
