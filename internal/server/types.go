// Package server defines shared error values and utility helpers that are
// reused across client and hub logic.
package server

import (
	"errors"
	"strings"
)

var (
	// ErrClientClosed is returned when sending to a client that has been closed.
	ErrClientClosed = errors.New("client closed")
	// ErrSendBufferFull is returned when a slow client's send buffer overflows.
	// The client is closed as part of the failed send.
	ErrSendBufferFull = errors.New("client send buffer full")
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
