package relay

import "time"

// BroadcastRecipient is the To value of a message addressed to everyone.
const BroadcastRecipient = "all"

// Message is created by the router when it accepts an intent and is never
// mutated afterwards.
type Message struct {
	ID        string
	From      string
	To        string
	Body      string
	Timestamp time.Time
}

// IsBroadcast reports whether the message is addressed to everyone.
func (m Message) IsBroadcast() bool {
	return m.To == BroadcastRecipient
}

// Sink receives every accepted message for durable storage. Persist must
// not block on the write completing; failures are the sink's to log.
type Sink interface {
	Persist(Message)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Message)

// Persist calls f(m).
func (f SinkFunc) Persist(m Message) { f(m) }

// Discard is a Sink that drops every message.
var Discard Sink = SinkFunc(func(Message) {})
