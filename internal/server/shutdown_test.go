package server_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/relaychat/internal/auth"
	"github.com/Tyrowin/relaychat/internal/relay"
	"github.com/Tyrowin/relaychat/internal/server"
	"github.com/Tyrowin/relaychat/internal/testutil"
)

// TestHubShutdownWithoutClients verifies that an idle hub stops promptly.
func TestHubShutdownWithoutClients(t *testing.T) {
	hub := server.NewHub(relay.New(nil), server.DefaultConfig())
	go hub.Run()

	if err := hub.Shutdown(5 * time.Second); err != nil {
		t.Errorf("Hub shutdown failed: %v", err)
	}
}

// TestHubShutdownTimeout verifies that Shutdown gives up when the event loop
// was never started.
func TestHubShutdownTimeout(t *testing.T) {
	hub := server.NewHub(relay.New(nil), server.DefaultConfig())

	if err := hub.Shutdown(50 * time.Millisecond); err != context.DeadlineExceeded {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}
}

// TestGracefulShutdownWithClients verifies that active connections are
// closed and their sessions ended during shutdown.
func TestGracefulShutdownWithClients(t *testing.T) {
	env := startTestServer(t, nil)

	const numClients = 5
	clients := make([]*websocket.Conn, 0, numClients)
	for i := 0; i < numClients; i++ {
		conn := testutil.Connect(t, env.wsURL, testOrigin, fmt.Sprintf("user%d", i), auth.RoleMember)
		testutil.ReadUntil(t, conn, testutil.RosterOf(i+1))
		clients = append(clients, conn)
	}

	if err := env.srv.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Server shutdown failed: %v", err)
	}

	for i, conn := range clients {
		t.Run(fmt.Sprintf("client%d", i), func(t *testing.T) {
			testutil.ExpectClosed(t, conn, testutil.DefaultTimeout)
		})
	}

	if n := env.srv.Relay().Online(); n != 0 {
		t.Errorf("Expected no sessions after shutdown, got %d", n)
	}
	if n := env.srv.Hub().ClientCount(); n != 0 {
		t.Errorf("Expected no clients after shutdown, got %d", n)
	}
}

// TestConnectAfterShutdown verifies that new connections are turned away
// once the hub has stopped.
func TestConnectAfterShutdown(t *testing.T) {
	env := startTestServer(t, nil)

	if err := env.srv.Shutdown(time.Second); err != nil {
		t.Fatalf("Server shutdown failed: %v", err)
	}

	conn, _, err := testutil.Dial(env.wsURL, testutil.Token(t, "late", auth.RoleMember), testOrigin)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()
	testutil.ExpectClosed(t, conn, testutil.DefaultTimeout)

	if n := env.srv.Relay().Online(); n != 0 {
		t.Errorf("Expected no sessions after shutdown, got %d", n)
	}
}
