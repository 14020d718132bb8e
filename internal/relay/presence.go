package relay

import (
	"fmt"
	"sync"

	"github.com/Tyrowin/relaychat/internal/auth"
	"github.com/Tyrowin/relaychat/internal/registry"
)

// Presence tells every live connection about membership changes: first a
// system notice, then the full roster. Announcements are serialized so the
// last roster a connection receives is always the newest snapshot.
type Presence struct {
	mu       sync.Mutex
	sessions *registry.Registry[Conn]
}

// AnnounceJoin announces that id came online.
func (p *Presence) AnnounceJoin(id auth.Identity) {
	p.announce(fmt.Sprintf("%s joined the chat", id.Name))
}

// AnnounceLeave announces that id went offline.
func (p *Presence) AnnounceLeave(id auth.Identity) {
	p.announce(fmt.Sprintf("%s left the chat", id.Name))
}

// AnnounceRemoval announces that an admin evicted id.
func (p *Presence) AnnounceRemoval(id auth.Identity) {
	p.announce(fmt.Sprintf("%s was removed by admin.", id.Name))
}

// announce holds p.mu from the snapshot through the enqueue loop. Conn.Send
// does not block on network I/O.
func (p *Presence) announce(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns := p.sessions.Connections()
	notice := Notice(text)
	for _, conn := range conns {
		deliver(conn, notice)
	}

	roster := Roster(p.sessions.Snapshot())
	for _, conn := range conns {
		deliver(conn, roster)
	}
}
