// Package state defines the connection lifecycle states of a racefeed channel.
package state

import "fmt"

// ConnectionState is the lifecycle position of one channel.
type ConnectionState int

const (
	Idle       ConnectionState = iota // never connected
	Connecting                        // dial in flight
	Open                              // transport open, frames flowing
	Closing                           // caller-initiated close in progress
	Closed                            // closed, possibly waiting for a retry
	Failed                            // retry budget exhausted (terminal)
)

// CanConnect reports whether Connect may start a new attempt from this state.
func (s ConnectionState) CanConnect() bool {
	switch s {
	case Idle, Closed, Failed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether automatic recovery has stopped.
func (s ConnectionState) IsTerminal() bool {
	return s == Failed
}

// String returns string representation.
func (s ConnectionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("invalid(%d)", int(s))
	}
}

// Change is one observed transition.
type Change struct {
	From ConnectionState
	To   ConnectionState
}

func (c Change) String() string {
	return c.From.String() + "->" + c.To.String()
}
