// Package transport provides the bidirectional frame stream a channel runs on.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by ReadFrame after a clean close from either side.
var ErrClosed = errors.New("transport closed")

// Conn is one open frame stream. ReadFrame is called from a single goroutine;
// WriteFrame may be called concurrently with ReadFrame and with itself.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close() error
}

// Dialer opens a Conn. Dial blocks until the stream is open, ctx is done or
// the dial fails.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, endpoint string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, endpoint string) (Conn, error) {
	return f(ctx, endpoint)
}
