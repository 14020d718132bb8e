package relay

import "time"

// EventType names a server-to-client event on the wire.
type EventType string

const (
	EventBroadcastDelivered EventType = "broadcastDelivered"
	EventDirectDelivered    EventType = "directDelivered"
	EventSystemNotice       EventType = "systemNotice"
	EventRosterUpdate       EventType = "rosterUpdate"
	EventForcedLogout       EventType = "forcedLogout"
)

// Event is anything the relay delivers to a connection. Every concrete
// event encodes its EventType in a "type" field.
type Event interface {
	EventType() EventType
}

// BroadcastDelivered carries a message addressed to everyone.
type BroadcastDelivered struct {
	Type      EventType `json:"type"`
	From      string    `json:"from"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

func (BroadcastDelivered) EventType() EventType { return EventBroadcastDelivered }

// DirectDelivered carries a direct message. Self is set on the copy echoed
// back to the sender.
type DirectDelivered struct {
	Type      EventType `json:"type"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Self      bool      `json:"self"`
}

func (DirectDelivered) EventType() EventType { return EventDirectDelivered }

// SystemNotice is a human-readable server message.
type SystemNotice struct {
	Type EventType `json:"type"`
	Text string    `json:"text"`
}

func (SystemNotice) EventType() EventType { return EventSystemNotice }

// RosterUpdate replaces the client's view of who is online.
type RosterUpdate struct {
	Type  EventType `json:"type"`
	Names []string  `json:"names"`
}

func (RosterUpdate) EventType() EventType { return EventRosterUpdate }

// ForcedLogout precedes the server closing the connection.
type ForcedLogout struct {
	Type   EventType `json:"type"`
	Reason string    `json:"reason"`
}

func (ForcedLogout) EventType() EventType { return EventForcedLogout }

// Notice builds a SystemNotice.
func Notice(text string) SystemNotice {
	return SystemNotice{Type: EventSystemNotice, Text: text}
}

// Roster builds a RosterUpdate. A nil slice is sent as an empty list.
func Roster(names []string) RosterUpdate {
	if names == nil {
		names = []string{}
	}
	return RosterUpdate{Type: EventRosterUpdate, Names: names}
}

// Logout builds a ForcedLogout.
func Logout(reason string) ForcedLogout {
	return ForcedLogout{Type: EventForcedLogout, Reason: reason}
}

func broadcastEvent(m Message) BroadcastDelivered {
	return BroadcastDelivered{
		Type:      EventBroadcastDelivered,
		From:      m.From,
		Body:      m.Body,
		Timestamp: m.Timestamp,
	}
}

func directEvent(m Message, self bool) DirectDelivered {
	return DirectDelivered{
		Type:      EventDirectDelivered,
		From:      m.From,
		To:        m.To,
		Body:      m.Body,
		Timestamp: m.Timestamp,
		Self:      self,
	}
}
