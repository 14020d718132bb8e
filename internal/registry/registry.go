// Package registry holds the authoritative mapping between verified
// identities and live connections.
//
// Both directions (name -> connection, connection -> identity) are kept in
// one structure behind one mutex, and every mutation moves them together
// from one consistent state to the next. The lock is held only for map
// access: callers receive connection handles and perform any network I/O
// (delivery, closing) after the registry has been released.
package registry

import (
	"slices"
	"sync"

	"github.com/Tyrowin/relaychat/internal/auth"
)

// Conn is the minimal view of a live connection the registry needs. The
// transport owns the connection; the registry only references it.
type Conn interface {
	// ID is unique per connection for the lifetime of the process.
	ID() string
}

// Session binds a verified identity to one live connection.
type Session[C Conn] struct {
	Identity auth.Identity
	Conn     C
}

// RegisterResult describes the registry state right after Register.
type RegisterResult[C Conn] struct {
	// Replaced is the session previously held by the same name, already
	// removed from the registry. The caller must close its connection.
	Replaced *Session[C]
	// Roster is the sorted set of online names after the update.
	Roster []string
}

// Registry maps identities to connections and back.
type Registry[C Conn] struct {
	mu     sync.RWMutex
	byName map[string]*Session[C]
	byConn map[string]*Session[C]
}

// New creates an empty registry.
func New[C Conn]() *Registry[C] {
	return &Registry[C]{
		byName: make(map[string]*Session[C]),
		byConn: make(map[string]*Session[C]),
	}
}

// Register installs a session for id on conn. If id.Name is already online
// the old session is removed in the same step, so no observer ever sees two
// connections for one name.
func (r *Registry[C]) Register(id auth.Identity, conn C) RegisterResult[C] {
	r.mu.Lock()
	defer r.mu.Unlock()

	var replaced *Session[C]
	if old, ok := r.byName[id.Name]; ok {
		delete(r.byConn, old.Conn.ID())
		delete(r.byName, id.Name)
		replaced = old
	}
	// A connection carries exactly one identity.
	if prev, ok := r.byConn[conn.ID()]; ok {
		delete(r.byName, prev.Identity.Name)
		delete(r.byConn, conn.ID())
	}

	s := &Session[C]{Identity: id, Conn: conn}
	r.byName[id.Name] = s
	r.byConn[conn.ID()] = s

	return RegisterResult[C]{Replaced: replaced, Roster: r.rosterLocked()}
}

// Unregister removes the session held by conn and returns its identity.
// It reports false if conn has no session, which makes repeated calls
// harmless.
func (r *Registry[C]) Unregister(conn C) (auth.Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byConn[conn.ID()]
	if !ok {
		return auth.Identity{}, false
	}
	delete(r.byConn, conn.ID())
	if cur, ok := r.byName[s.Identity.Name]; ok && cur == s {
		delete(r.byName, s.Identity.Name)
	}
	return s.Identity, true
}

// Resolve returns the identity bound to conn.
func (r *Registry[C]) Resolve(conn C) (auth.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byConn[conn.ID()]
	if !ok {
		return auth.Identity{}, false
	}
	return s.Identity, true
}

// Lookup returns the connection currently bound to name.
func (r *Registry[C]) Lookup(name string) (C, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byName[name]
	if !ok {
		var zero C
		return zero, false
	}
	return s.Conn, true
}

// Snapshot returns the sorted roster of online names.
func (r *Registry[C]) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rosterLocked()
}

// Connections returns the connections of every active session.
func (r *Registry[C]) Connections() []C {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]C, 0, len(r.byConn))
	for _, s := range r.byConn {
		conns = append(conns, s.Conn)
	}
	return conns
}

// Len returns the number of active sessions.
func (r *Registry[C]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

func (r *Registry[C]) rosterLocked() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
