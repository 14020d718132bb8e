package relay

import (
	"fmt"
	"log/slog"

	"github.com/Tyrowin/relaychat/internal/auth"
	"github.com/Tyrowin/relaychat/internal/registry"
)

const (
	evictedReason   = "You have been removed by admin."
	forbiddenNotice = "You are not authorized to remove users."
)

// Evictor forcibly disconnects a session on behalf of an admin.
type Evictor struct {
	sessions *registry.Registry[Conn]
	presence *Presence
}

// RequestEviction logs target out on behalf of requester. A requester
// without the admin role gets a notice and an error wrapping
// auth.ErrForbidden; nothing else changes. An offline target is not an
// error.
func (e *Evictor) RequestEviction(requester Conn, target string) error {
	id, ok := e.sessions.Resolve(requester)
	if !ok {
		return ErrUnauthenticated
	}
	if err := id.Authorize(auth.ActionEvict); err != nil {
		slog.Warn("eviction denied", "user", id.Name, "target", target)
		deliver(requester, Notice(forbiddenNotice))
		return fmt.Errorf("evict %q: %w", target, err)
	}

	conn, ok := e.sessions.Lookup(target)
	if !ok {
		deliver(requester, Notice(fmt.Sprintf("%s is not online.", target)))
		return nil
	}

	deliver(conn, Logout(evictedReason))
	// Unregister before closing so the target's own disconnect path finds
	// no session and does not announce a second departure.
	removed, ok := e.sessions.Unregister(conn)
	closeConn(conn)
	if !ok {
		return nil
	}

	slog.Info("session evicted", "user", removed.Name, "by", id.Name, "conn", conn.ID())
	e.presence.AnnounceRemoval(removed)
	return nil
}
