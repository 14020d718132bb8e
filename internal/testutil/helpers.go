// Package testutil provides common utilities shared by the relay's HTTP and
// WebSocket tests.
//
// It issues identity tokens, dials authenticated WebSocket connections, and
// reads relay events with deadlines so tests never hang on a silent socket.
package testutil

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/relaychat/internal/auth"
)

// Secret is the HMAC secret test servers and tokens share.
const Secret = "relaychat-test-secret"

// DefaultTimeout bounds every read performed by the helpers.
const DefaultTimeout = 2 * time.Second

// Event is a decoded relay event. Fields absent from a given event type are
// left at their zero value.
type Event struct {
	Type      string    `json:"type"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Self      bool      `json:"self"`
	Text      string    `json:"text"`
	Names     []string  `json:"names"`
	Reason    string    `json:"reason"`
}

// Token issues a signed identity token for name with the given role.
func Token(t *testing.T, name string, role auth.Role) string {
	t.Helper()

	issuer, err := auth.NewIssuer(auth.Config{Secret: Secret})
	if err != nil {
		t.Fatalf("Failed to create issuer: %v", err)
	}
	token, err := issuer.Issue(auth.Identity{Name: name, Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	return token
}

// WebSocketURL converts an httptest server URL into its /ws endpoint.
func WebSocketURL(t *testing.T, baseURL string) string {
	t.Helper()

	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("Failed to parse test server URL: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"
	return u.String()
}

// Dial opens a WebSocket connection presenting token as a bearer token and
// origin as the Origin header. Empty values are omitted.
func Dial(wsURL, token, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := dialer.Dial(wsURL, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// Connect dials as name and fails the test if the handshake does not
// succeed. The connection is closed when the test ends.
func Connect(t *testing.T, wsURL, origin, name string, role auth.Role) *websocket.Conn {
	t.Helper()

	conn, _, err := Dial(wsURL, Token(t, name, role), origin)
	if err != nil {
		t.Fatalf("Failed to connect as %s: %v", name, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Send writes an intent as one JSON frame.
func Send(t *testing.T, conn *websocket.Conn, intent map[string]string) {
	t.Helper()

	if err := conn.WriteJSON(intent); err != nil {
		t.Fatalf("Failed to send intent: %v", err)
	}
}

// ReadEvent reads the next event, failing the test if none arrives in time.
func ReadEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(DefaultTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	return ev
}

// ReadUntil discards events until match returns true and returns the
// matching event.
func ReadUntil(t *testing.T, conn *websocket.Conn, match func(Event) bool) Event {
	t.Helper()

	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		ev := ReadEvent(t, conn)
		if match(ev) {
			return ev
		}
	}
	t.Fatalf("No matching event before deadline")
	return Event{}
}

// OfType matches events of the given type.
func OfType(eventType string) func(Event) bool {
	return func(ev Event) bool { return ev.Type == eventType }
}

// RosterOf matches a roster update listing exactly n names.
func RosterOf(n int) func(Event) bool {
	return func(ev Event) bool { return ev.Type == "rosterUpdate" && len(ev.Names) == n }
}

// ExpectNoEvent fails the test if an event arrives within timeout.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no event, but received %s", data)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return
	}
	t.Fatalf("Unexpected error while waiting for absence of event: %v", err)
}

// ExpectClosed fails the test unless the server closes conn within timeout.
// Pending events are drained first.
func ExpectClosed(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.Fatalf("Connection was not closed within %s", timeout)
			}
			return
		}
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}
