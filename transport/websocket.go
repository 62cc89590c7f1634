package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/net/websocket"
)

// DefaultOrigin is sent when no Origin is configured.
const DefaultOrigin = "http://localhost/"

// WebSocketDialer dials text-frame WebSocket streams.
type WebSocketDialer struct {
	Origin    string
	TLSConfig *tls.Config // used for wss:// endpoints
	Header    http.Header
}

// Dial opens a WebSocket connection to endpoint.
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	origin := d.Origin
	if origin == "" {
		origin = DefaultOrigin
	}

	config, err := websocket.NewConfig(endpoint, origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	config.TlsConfig = d.TLSConfig
	for k, vs := range d.Header {
		for _, v := range vs {
			config.Header.Add(k, v)
		}
	}

	ws, err := config.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", endpoint, err)
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	var frame []byte
	if err := websocket.Message.Receive(c.ws, &frame); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return frame, nil
}

// WriteFrame sends frame as a text message; the feed speaks JSON text.
func (c *wsConn) WriteFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return websocket.Message.Send(c.ws, string(frame))
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
