package relay

import (
	"errors"
	"log/slog"
	"time"

	"github.com/Tyrowin/relaychat/internal/registry"
)

// ErrUnauthenticated is returned when an intent arrives on a connection
// without a session. The transport closes such connections.
var ErrUnauthenticated = errors.New("connection has no session")

// Router turns accepted intents into messages, persists them and delivers
// them. For one sender, intents are handled in submission order, and each
// recipient's connection queues them in that order.
type Router struct {
	sessions *registry.Registry[Conn]
	sink     Sink
	now      func() time.Time
	newID    func() string
}

// HandleBroadcast delivers body from sender to every live connection,
// the sender included.
func (r *Router) HandleBroadcast(sender Conn, body string) error {
	from, ok := r.sessions.Resolve(sender)
	if !ok {
		return ErrUnauthenticated
	}

	m := r.accept(from.Name, BroadcastRecipient, body)
	ev := broadcastEvent(m)
	recipients := r.sessions.Connections()
	for _, conn := range recipients {
		deliver(conn, ev)
	}
	slog.Debug("broadcast delivered", "from", from.Name, "message", m.ID, "recipients", len(recipients))
	return nil
}

// HandleDirect delivers body to the session named target, if online, and
// echoes it back to sender with Self set. A message to an offline target
// is still persisted.
func (r *Router) HandleDirect(sender Conn, target, body string) error {
	from, ok := r.sessions.Resolve(sender)
	if !ok {
		return ErrUnauthenticated
	}

	m := r.accept(from.Name, target, body)
	if conn, ok := r.sessions.Lookup(target); ok && conn.ID() != sender.ID() {
		deliver(conn, directEvent(m, false))
	} else if !ok {
		slog.Debug("direct message recipient offline", "from", from.Name, "to", target, "message", m.ID)
	}
	deliver(sender, directEvent(m, true))
	return nil
}

func (r *Router) accept(from, to, body string) Message {
	m := Message{
		ID:        r.newID(),
		From:      from,
		To:        to,
		Body:      body,
		Timestamp: r.now().UTC(),
	}
	r.sink.Persist(m)
	return m
}
