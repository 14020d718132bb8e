// Package relay implements the chat core: routing broadcast and direct
// messages between sessions, announcing presence changes, and admin
// eviction. It is transport-agnostic; connections are reached only
// through the Conn interface.
package relay

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/relaychat/internal/auth"
	"github.com/Tyrowin/relaychat/internal/registry"
)

// Conn is a live connection as seen by the relay. Send must not block on
// network I/O; Close must be safe to call more than once.
type Conn interface {
	registry.Conn
	Send(Event) error
	Close() error
}

const replacedReason = "You signed in from another connection."

// Option configures a Relay.
type Option func(*Relay)

// WithClock overrides the clock used to timestamp messages.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.router.now = now }
}

// WithMessageIDs overrides the generator of message IDs.
func WithMessageIDs(next func() string) Option {
	return func(r *Relay) { r.router.newID = next }
}

// Relay wires the session registry to the router, presence broadcaster
// and eviction coordinator.
type Relay struct {
	sessions *registry.Registry[Conn]
	router   *Router
	presence *Presence
	evictor  *Evictor
}

// New creates a Relay that hands accepted messages to sink.
func New(sink Sink, opts ...Option) *Relay {
	if sink == nil {
		sink = Discard
	}
	sessions := registry.New[Conn]()
	presence := &Presence{sessions: sessions}
	r := &Relay{
		sessions: sessions,
		router: &Router{
			sessions: sessions,
			sink:     sink,
			now:      time.Now,
			newID:    uuid.NewString,
		},
		presence: presence,
		evictor:  &Evictor{sessions: sessions, presence: presence},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect registers a verified identity on conn and announces the join.
// A session already held by the same name is logged out and closed first.
func (r *Relay) Connect(id auth.Identity, conn Conn) {
	res := r.sessions.Register(id, conn)
	slog.Info("session registered", "user", id.Name, "role", id.Role, "conn", conn.ID(), "online", len(res.Roster))

	if res.Replaced != nil {
		old := res.Replaced.Conn
		slog.Info("session replaced", "user", id.Name, "old_conn", old.ID(), "conn", conn.ID())
		deliver(old, Logout(replacedReason))
		closeConn(old)
		r.presence.AnnounceLeave(res.Replaced.Identity)
	}
	r.presence.AnnounceJoin(id)
}

// Disconnect tears down the session held by conn, if any, and announces
// the departure. It reports whether a session was removed; calling it again
// for the same connection is a no-op.
func (r *Relay) Disconnect(conn Conn) bool {
	id, ok := r.sessions.Unregister(conn)
	if !ok {
		return false
	}
	slog.Info("session unregistered", "user", id.Name, "conn", conn.ID(), "online", r.sessions.Len())
	r.presence.AnnounceLeave(id)
	return true
}

// Dispatch routes one decoded intent from conn.
func (r *Relay) Dispatch(conn Conn, in Intent) error {
	switch in.Type {
	case IntentBroadcast:
		return r.router.HandleBroadcast(conn, in.Body)
	case IntentDirect:
		return r.router.HandleDirect(conn, in.To, in.Body)
	case IntentEvict:
		return r.evictor.RequestEviction(conn, in.Target)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownIntent, in.Type)
	}
}

// Resolve returns the identity bound to conn.
func (r *Relay) Resolve(conn Conn) (auth.Identity, bool) {
	return r.sessions.Resolve(conn)
}

// Roster returns the sorted names of everyone online.
func (r *Relay) Roster() []string {
	return r.sessions.Snapshot()
}

// Online returns the number of active sessions.
func (r *Relay) Online() int {
	return r.sessions.Len()
}

func deliver(conn Conn, ev Event) {
	if err := conn.Send(ev); err != nil {
		slog.Debug("delivery failed", "conn", conn.ID(), "event", ev.EventType(), "error", err)
	}
}

func closeConn(conn Conn) {
	if err := conn.Close(); err != nil {
		slog.Debug("close failed", "conn", conn.ID(), "error", err)
	}
}
