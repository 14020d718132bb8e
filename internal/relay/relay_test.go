package relay

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/relaychat/internal/auth"
)

type recordingConn struct {
	id string

	mu     sync.Mutex
	events []Event
	closed int
}

func newConn(id string) *recordingConn { return &recordingConn{id: id} }

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed > 0 {
		return errors.New("closed")
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *recordingConn) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func (c *recordingConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed > 0
}

func (c *recordingConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

func (c *recordingConn) LastRoster(t *testing.T) []string {
	t.Helper()
	events := c.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if r, ok := events[i].(RosterUpdate); ok {
			return r.Names
		}
	}
	t.Fatalf("connection %s received no roster update", c.id)
	return nil
}

func ofType[T Event](events []Event) []T {
	var out []T
	for _, ev := range events {
		if v, ok := ev.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

type recordingSink struct {
	mu       sync.Mutex
	messages []Message
}

func (s *recordingSink) Persist(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

func (s *recordingSink) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

var (
	alice = auth.Identity{Name: "alice", Role: auth.RoleMember}
	bob   = auth.Identity{Name: "bob", Role: auth.RoleAdmin}
	fixed = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
)

func newTestRelay(sink Sink) *Relay {
	n := 0
	return New(sink,
		WithClock(func() time.Time { return fixed }),
		WithMessageIDs(func() string { n++; return fmt.Sprintf("msg-%d", n) }),
	)
}

// connectAliceAndBob covers the first scenario: both see {alice, bob}.
func connectAliceAndBob(t *testing.T, r *Relay) (*recordingConn, *recordingConn) {
	t.Helper()
	a, b := newConn("conn-a"), newConn("conn-b")
	r.Connect(alice, a)
	r.Connect(bob, b)
	require.Equal(t, []string{"alice", "bob"}, a.LastRoster(t))
	require.Equal(t, []string{"alice", "bob"}, b.LastRoster(t))
	a.Reset()
	b.Reset()
	return a, b
}

func TestConnect_AnnouncesJoinThenRoster(t *testing.T) {
	r := newTestRelay(nil)
	a := newConn("conn-a")
	r.Connect(alice, a)

	events := a.Events()
	require.Len(t, events, 2)
	assert.Equal(t, Notice("alice joined the chat"), events[0])
	assert.Equal(t, Roster([]string{"alice"}), events[1])

	b := newConn("conn-b")
	r.Connect(bob, b)
	assert.Equal(t, []string{"alice", "bob"}, a.LastRoster(t))
	assert.Equal(t, []string{"alice", "bob"}, b.LastRoster(t))
	assert.Equal(t, []string{"alice", "bob"}, r.Roster())
	assert.Equal(t, 2, r.Online())
}

func TestBroadcast_DeliveredToEveryone(t *testing.T) {
	sink := &recordingSink{}
	r := newTestRelay(sink)
	a, b := connectAliceAndBob(t, r)

	require.NoError(t, r.Dispatch(a, Intent{Type: IntentBroadcast, Body: "hi"}))

	want := BroadcastDelivered{Type: EventBroadcastDelivered, From: "alice", Body: "hi", Timestamp: fixed}
	assert.Equal(t, []Event{want}, a.Events())
	assert.Equal(t, []Event{want}, b.Events())

	require.Len(t, sink.Messages(), 1)
	assert.Equal(t, Message{ID: "msg-1", From: "alice", To: BroadcastRecipient, Body: "hi", Timestamp: fixed}, sink.Messages()[0])
	assert.True(t, sink.Messages()[0].IsBroadcast())
}

func TestBroadcast_PreservesSenderOrder(t *testing.T) {
	r := newTestRelay(nil)
	a, b := connectAliceAndBob(t, r)

	bodies := []string{"a", "b", "c", "d"}
	for _, body := range bodies {
		require.NoError(t, r.Dispatch(a, Intent{Type: IntentBroadcast, Body: body}))
	}

	for _, conn := range []*recordingConn{a, b} {
		got := ofType[BroadcastDelivered](conn.Events())
		require.Len(t, got, len(bodies))
		for i, ev := range got {
			assert.Equal(t, bodies[i], ev.Body)
		}
	}
}

func TestDirect_DeliversAndEchoes(t *testing.T) {
	sink := &recordingSink{}
	r := newTestRelay(sink)
	a, b := connectAliceAndBob(t, r)

	require.NoError(t, r.Dispatch(a, Intent{Type: IntentDirect, To: "bob", Body: "psst"}))

	toBob := ofType[DirectDelivered](b.Events())
	require.Len(t, toBob, 1)
	assert.Equal(t, DirectDelivered{Type: EventDirectDelivered, From: "alice", To: "bob", Body: "psst", Timestamp: fixed, Self: false}, toBob[0])

	echo := ofType[DirectDelivered](a.Events())
	require.Len(t, echo, 1)
	assert.True(t, echo[0].Self)
	assert.Equal(t, "bob", echo[0].To)

	require.Len(t, sink.Messages(), 1)
	assert.Equal(t, "bob", sink.Messages()[0].To)
}

func TestDirect_OfflineRecipientIsPersistedOnly(t *testing.T) {
	sink := &recordingSink{}
	r := newTestRelay(sink)
	a, b := connectAliceAndBob(t, r)

	err := r.Dispatch(a, Intent{Type: IntentDirect, To: "carol", Body: "anyone?"})
	require.NoError(t, err)

	assert.Empty(t, b.Events())
	// The sender's own echo is the only event.
	echo := ofType[DirectDelivered](a.Events())
	require.Len(t, echo, 1)
	assert.True(t, echo[0].Self)

	require.Len(t, sink.Messages(), 1)
	assert.Equal(t, "carol", sink.Messages()[0].To)
}

func TestDirect_ToSelfIsEchoedOnce(t *testing.T) {
	r := newTestRelay(nil)
	a, _ := connectAliceAndBob(t, r)

	require.NoError(t, r.Dispatch(a, Intent{Type: IntentDirect, To: "alice", Body: "note"}))

	got := ofType[DirectDelivered](a.Events())
	require.Len(t, got, 1)
	assert.True(t, got[0].Self)
}

func TestRouting_UnauthenticatedConnection(t *testing.T) {
	sink := &recordingSink{}
	r := newTestRelay(sink)
	stranger := newConn("stranger")

	for _, in := range []Intent{
		{Type: IntentBroadcast, Body: "x"},
		{Type: IntentDirect, To: "bob", Body: "x"},
		{Type: IntentEvict, Target: "bob"},
	} {
		err := r.Dispatch(stranger, in)
		assert.ErrorIs(t, err, ErrUnauthenticated, "intent %s", in.Type)
	}
	assert.Empty(t, sink.Messages())
	assert.Empty(t, stranger.Events())
}

func TestDispatch_UnknownIntent(t *testing.T) {
	r := newTestRelay(nil)
	a, _ := connectAliceAndBob(t, r)
	assert.ErrorIs(t, r.Dispatch(a, Intent{Type: "shout"}), ErrUnknownIntent)
}

func TestEvict_ByAdmin(t *testing.T) {
	r := newTestRelay(nil)
	a, b := connectAliceAndBob(t, r)

	require.NoError(t, r.Dispatch(b, Intent{Type: IntentEvict, Target: "alice"}))

	events := a.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, Logout(evictedReason), events[0])
	assert.True(t, a.Closed())

	assert.Equal(t, []string{"bob"}, r.Roster())
	bobEvents := b.Events()
	require.Len(t, bobEvents, 2)
	assert.Equal(t, Notice("alice was removed by admin."), bobEvents[0])
	assert.Equal(t, Roster([]string{"bob"}), bobEvents[1])

	// The evicted connection's own teardown announces nothing more.
	assert.False(t, r.Disconnect(a))
	assert.Len(t, b.Events(), 2)
}

func TestEvict_ByMemberIsRejected(t *testing.T) {
	r := newTestRelay(nil)
	a, b := connectAliceAndBob(t, r)

	err := r.Dispatch(a, Intent{Type: IntentEvict, Target: "bob"})
	require.ErrorIs(t, err, auth.ErrForbidden)

	assert.Equal(t, []Event{Notice(forbiddenNotice)}, a.Events())
	assert.Empty(t, b.Events())
	assert.False(t, a.Closed())
	assert.False(t, b.Closed())
	assert.Equal(t, []string{"alice", "bob"}, r.Roster())
}

func TestEvict_OfflineTargetIsNoop(t *testing.T) {
	r := newTestRelay(nil)
	a, b := connectAliceAndBob(t, r)

	require.NoError(t, r.Dispatch(b, Intent{Type: IntentEvict, Target: "carol"}))

	assert.Equal(t, []Event{Notice("carol is not online.")}, b.Events())
	assert.Empty(t, a.Events())
	assert.Equal(t, []string{"alice", "bob"}, r.Roster())
}

func TestConnect_ReplacesExistingSession(t *testing.T) {
	r := newTestRelay(nil)
	first, b := connectAliceAndBob(t, r)

	second := newConn("conn-a2")
	r.Connect(alice, second)

	firstEvents := first.Events()
	require.NotEmpty(t, firstEvents)
	assert.Equal(t, Logout(replacedReason), firstEvents[0])
	assert.True(t, first.Closed())
	assert.False(t, second.Closed())

	notices := ofType[SystemNotice](b.Events())
	require.Len(t, notices, 2)
	assert.Equal(t, "alice left the chat", notices[0].Text)
	assert.Equal(t, "alice joined the chat", notices[1].Text)
	assert.Equal(t, []string{"alice", "bob"}, b.LastRoster(t))

	conn, ok := r.sessions.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "conn-a2", conn.ID())

	// Late teardown of the superseded connection leaves the new one alone.
	assert.False(t, r.Disconnect(first))
	_, ok = r.Resolve(second)
	assert.True(t, ok)
}

func TestDisconnect_AnnouncesLeaveOnce(t *testing.T) {
	r := newTestRelay(nil)
	a, b := connectAliceAndBob(t, r)

	assert.True(t, r.Disconnect(a))
	assert.False(t, r.Disconnect(a))

	notices := ofType[SystemNotice](b.Events())
	require.Len(t, notices, 1)
	assert.Equal(t, "alice left the chat", notices[0].Text)
	assert.Equal(t, []string{"bob"}, b.LastRoster(t))
}

func TestRoster_EmptyIsEncodedAsList(t *testing.T) {
	assert.NotNil(t, Roster(nil).Names)
}

func TestConcurrentDispatchAndDisconnect(t *testing.T) {
	r := newTestRelay(&recordingSink{})

	conns := make([]*recordingConn, 10)
	for i := range conns {
		conns[i] = newConn(fmt.Sprintf("conn-%d", i))
		r.Connect(auth.Identity{Name: fmt.Sprintf("user-%d", i)}, conns[i])
	}

	var wg sync.WaitGroup
	for i, c := range conns {
		wg.Add(1)
		go func(i int, c *recordingConn) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = r.Dispatch(c, Intent{Type: IntentBroadcast, Body: "x"})
				_ = r.Dispatch(c, Intent{Type: IntentDirect, To: fmt.Sprintf("user-%d", (i+1)%10), Body: "y"})
			}
			if i%2 == 0 {
				r.Disconnect(c)
			}
		}(i, c)
	}
	wg.Wait()

	assert.Equal(t, 5, r.Online())
}

// pausingConn stalls its first roster delivery once armed, until released.
type pausingConn struct {
	*recordingConn
	armed   atomic.Bool
	once    sync.Once
	paused  chan struct{}
	release chan struct{}
}

func newPausingConn(id string) *pausingConn {
	return &pausingConn{
		recordingConn: newConn(id),
		paused:        make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (c *pausingConn) Send(ev Event) error {
	if _, ok := ev.(RosterUpdate); ok && c.armed.Load() {
		c.once.Do(func() {
			close(c.paused)
			<-c.release
		})
	}
	return c.recordingConn.Send(ev)
}

func TestPresence_ConcurrentAnnouncementsEndOnLatestRoster(t *testing.T) {
	r := newTestRelay(nil)

	admin := newConn("conn-bob")
	obs := newPausingConn("conn-obs")
	carol := newConn("conn-carol")
	dave := newConn("conn-dave")
	r.Connect(bob, admin)
	r.Connect(auth.Identity{Name: "obs", Role: auth.RoleMember}, obs)
	r.Connect(auth.Identity{Name: "carol", Role: auth.RoleMember}, carol)
	r.Connect(auth.Identity{Name: "dave", Role: auth.RoleMember}, dave)
	obs.armed.Store(true)

	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		r.Disconnect(carol)
	}()

	select {
	case <-obs.paused:
	case <-time.After(2 * time.Second):
		t.Fatal("leave announcement never reached obs")
	}

	evicted := make(chan error, 1)
	go func() {
		evicted <- r.Dispatch(admin, Intent{Type: IntentEvict, Target: "dave"})
	}()

	// Give the eviction time to run while the leave roster is still in flight.
	var evictErr error
	evictDone := false
	select {
	case evictErr = <-evicted:
		evictDone = true
	case <-time.After(50 * time.Millisecond):
	}
	close(obs.release)

	<-disconnected
	if !evictDone {
		select {
		case evictErr = <-evicted:
		case <-time.After(2 * time.Second):
			t.Fatal("eviction did not finish")
		}
	}
	require.NoError(t, evictErr)

	assert.Equal(t, []string{"bob", "obs"}, r.Roster())
	assert.Equal(t, r.Roster(), obs.LastRoster(t))
	assert.Equal(t, r.Roster(), admin.LastRoster(t))
}
