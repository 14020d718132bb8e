// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/relaychat/internal/auth"
	"github.com/Tyrowin/relaychat/internal/relay"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

const rateLimitNotice = "Rate limit exceeded; message discarded."

// Client represents one authenticated WebSocket connection. It satisfies
// relay.Conn so the relay can address it directly.
type Client struct {
	id             string
	identity       auth.Identity
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	mu             sync.Mutex
	closed         bool
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
}

// NewClient creates a Client for an upgraded connection whose token already
// verified as identity. Limits come from the hub's configuration.
func NewClient(conn *websocket.Conn, hub *Hub, identity auth.Identity, addr string) *Client {
	cfg := hub.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		id:             uuid.NewString(),
		identity:       identity,
		conn:           conn,
		send:           make(chan []byte, cfg.SendBufferSize),
		hub:            hub,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
	}
}

// ID returns the connection's unique identifier.
func (c *Client) ID() string {
	return c.id
}

// Identity returns the identity the client authenticated with.
func (c *Client) Identity() auth.Identity {
	return c.identity
}

// Send encodes ev and queues it for the write pump without blocking. A client
// whose buffer is full is closed and ErrSendBufferFull is returned.
func (c *Client) Send(ev relay.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.EventType(), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.closed = true
		close(c.send)
		slog.Warn("send buffer full, closing slow client", "conn", c.id, "user", c.identity.Name, "addr", c.addr)
		return ErrSendBufferFull
	}
}

// Close stops the write pump, which sends a close frame and releases the
// socket. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.send)
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		slog.Warn("set initial read deadline", "addr", c.addr, "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			slog.Warn("set read deadline in pong handler", "addr", c.addr, "error", err)
		}
		return nil
	})
}

// logReadError logs the reason a read loop is ending at a level matching how
// expected the failure is.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		slog.Warn("message exceeded maximum size", "user", c.identity.Name, "addr", c.addr, "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		slog.Info("client disconnected", "user", c.identity.Name, "addr", c.addr, "error", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		slog.Debug("client connection closed", "user", c.identity.Name, "addr", c.addr, "error", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		slog.Warn("unexpected WebSocket close", "user", c.identity.Name, "addr", c.addr, "error", err)
	default:
		slog.Warn("WebSocket read error", "user", c.identity.Name, "addr", c.addr, "error", err)
	}
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		slog.Info("rate limit exceeded; discarding intent",
			"user", c.identity.Name,
			"addr", c.addr,
			"burst", c.rateLimit.Burst,
			"interval", c.rateLimit.RefillInterval)
		c.notify(rateLimitNotice)
		return false
	}
	return true
}

// processMessage decodes a frame into an intent and hands it to the relay.
// It returns false when the connection must be closed.
func (c *Client) processMessage(raw []byte) bool {
	intent, err := relay.DecodeIntent(raw)
	if err != nil {
		slog.Info("rejected intent", "user", c.identity.Name, "addr", c.addr, "error", err)
		c.notify("Invalid message: " + err.Error())
		return true
	}

	err = c.hub.relay.Dispatch(c, intent)
	switch {
	case err == nil:
	case errors.Is(err, relay.ErrUnauthenticated):
		slog.Warn("intent on connection without a session; closing", "conn", c.id, "addr", c.addr)
		return false
	case errors.Is(err, auth.ErrForbidden):
		slog.Info("forbidden intent", "user", c.identity.Name, "intent", intent.Type)
	default:
		slog.Warn("intent failed", "user", c.identity.Name, "intent", intent.Type, "error", err)
		c.notify("Invalid message: " + err.Error())
	}
	return true
}

func (c *Client) notify(text string) {
	if err := c.Send(relay.Notice(text)); err != nil {
		slog.Debug("notice not delivered", "conn", c.id, "error", err)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				slog.Warn("close connection in readPump", "addr", c.addr, "error", err)
			}
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		if !c.processMessage(raw) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			slog.Warn("close connection in writePump", "addr", c.addr, "error", err)
		}
	}
}

// handleMessage writes one outgoing event and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		slog.Warn("set write deadline", "addr", c.addr, "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			slog.Warn("write event", "addr", c.addr, "error", err)
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		if !isExpectedCloseError(err) {
			slog.Warn("write close message", "addr", c.addr, "error", err)
		}
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		slog.Warn("set write deadline for ping", "addr", c.addr, "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		slog.Warn("write ping", "addr", c.addr, "error", err)
		return false
	}
	return true
}
