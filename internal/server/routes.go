// Package server wires HTTP handlers into a ServeMux for the relay
// application via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
// It sets up handlers for health check, statistics, and the WebSocket endpoint.
func (s *Server) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/stats", s.StatsHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	return mux
}
