// Package types defines the consumer-facing callback types of a racefeed channel.
package types

import (
	"github.com/st-keller/racefeed-client/message"
	"github.com/st-keller/racefeed-client/state"
)

// MessageHandler receives parsed frames (read-only, by value).
type MessageHandler func(msg message.Inbound)

// ErrorHandler receives ParseError, TransportError and, last of all,
// ErrConnectionExhausted.
type ErrorHandler func(err error)

// StateHandler observes lifecycle transitions.
type StateHandler func(change state.Change)

// Subscriber is the single consumer of a channel. Nil handlers are skipped.
type Subscriber struct {
	OnMessage     MessageHandler
	OnError       ErrorHandler
	OnStateChange StateHandler
}

// Unsubscribe detaches a subscriber. Calling it after the subscriber has
// already been replaced is a no-op.
type Unsubscribe func()
