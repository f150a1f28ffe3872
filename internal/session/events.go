package session

import "github.com/muurk/tuyalink/internal/protocol"

// Event is a session notification. The set of events is closed: a value is
// always one of ConnectedEvent, DisconnectedEvent, ConnectionError or
// MessageReceived.
type Event interface {
	// Name is a short lowercase label for logs and feeds.
	Name() string
	isEvent()
}

// Handler receives session events. It runs on the reactor goroutine, so it
// must not block; it may call Send, Start, Stop and Retarget.
type Handler func(s *Session, ev Event)

// ConnectedEvent is emitted when the TCP connection is established.
type ConnectedEvent struct{}

// DisconnectedEvent is emitted when Stop takes a session out of any other state.
type DisconnectedEvent struct{}

// ConnectionError is emitted when a connection fails or is lost. A retry
// has already been scheduled when it is delivered.
type ConnectionError struct {
	Err error
}

// MessageReceived carries one decoded frame from the device.
type MessageReceived struct {
	Message protocol.Message
}

func (ConnectedEvent) Name() string    { return "connected" }
func (DisconnectedEvent) Name() string { return "disconnected" }
func (ConnectionError) Name() string   { return "connection_error" }
func (MessageReceived) Name() string   { return "message" }

func (ConnectedEvent) isEvent()    {}
func (DisconnectedEvent) isEvent() {}
func (ConnectionError) isEvent()   {}
func (MessageReceived) isEvent()   {}
