// Package server implements the HTTP and WebSocket transport for relaychat.
//
// The implementation is organized into specialized files for configuration, hub
// management, clients, routing, and HTTP handlers. Chat semantics live in the
// relay package; this package authenticates connections, moves JSON frames
// between sockets and the relay, and tracks connection lifecycles.
package server
