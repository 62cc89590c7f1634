package racefeed

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Send when the channel is not Open.
	ErrNotConnected = errors.New("racefeed: channel not connected")

	// ErrConnectionExhausted is the final error a subscriber receives when
	// the retry budget is spent. The channel is Failed afterwards.
	ErrConnectionExhausted = errors.New("racefeed: connection attempts exhausted")
)

// ParseError reports a frame that could not be decoded. The frame is
// dropped; the connection stays up.
type ParseError struct {
	Frame []byte
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("racefeed: malformed frame (%d bytes): %v", len(e.Frame), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TransportError wraps a failure of the underlying stream. Op is "dial",
// "read" or "write".
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("racefeed: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
