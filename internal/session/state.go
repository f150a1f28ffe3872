package session

import "fmt"

// State is the connection state of a Session.
type State int32

const (
	// Disconnected means the session is idle; Start or Send connects it.
	Disconnected State = iota
	// Connecting means a dial is in flight.
	Connecting
	// Connected means the TCP connection is up and the queue is drained.
	Connected
	// Error means the connection failed and a retry is scheduled.
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}
