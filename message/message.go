// Package message defines the JSON wire envelope exchanged with a race feed.
package message

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Frame types known to the feed. Unknown types are passed through untouched.
const (
	TypePing            = "ping"
	TypePong            = "pong"
	TypeTelemetryUpdate = "telemetry_update"
	TypeSessionUpdate   = "session_update"
	TypeTimingUpdate    = "timing_update"
	TypeBroadcast       = "broadcast"
	TypeCachedData      = "cached_data"
	TypeInfo            = "info"
	TypeError           = "error"
)

// ErrMissingType is returned by Parse for frames without a "type" string.
var ErrMissingType = errors.New("frame has no type")

// Inbound is one parsed frame. Data is left raw; consumers decode it
// according to Type.
type Inbound struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`

	// Raw is the whole frame as received.
	Raw json.RawMessage `json:"-"`
}

// Parse decodes a frame. It never panics on malformed input.
func Parse(raw []byte) (Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Inbound{}, fmt.Errorf("invalid json: %w", err)
	}
	if msg.Type == "" {
		return Inbound{}, ErrMissingType
	}
	msg.Raw = append(json.RawMessage(nil), raw...)
	return msg, nil
}

// IsKeepalive reports whether the frame belongs to the ping/pong exchange.
func (m Inbound) IsKeepalive() bool {
	return m.Type == TypePing || m.Type == TypePong
}

// Time parses Timestamp. The backend emits naive ISO-8601 UTC timestamps.
func (m Inbound) Time() (time.Time, bool) {
	return ParseTimestamp(m.Timestamp)
}

// Decode unmarshals Data into v.
func (m Inbound) Decode(v interface{}) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s frame has no data", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s data: %w", m.Type, err)
	}
	return nil
}

// Checksum returns a content hash of Data, used to detect repeated frames.
func (m Inbound) Checksum() string {
	return Checksum(m.Data)
}

// Outbound is a frame written to the feed. No acknowledgement is tracked.
type Outbound struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Encode serializes the frame.
func (o Outbound) Encode() ([]byte, error) {
	if o.Type == "" {
		return nil, ErrMissingType
	}
	b, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", o.Type, err)
	}
	return b, nil
}

// Ping is the keepalive probe.
func Ping() Outbound { return Outbound{Type: TypePing} }

// Pong answers a server ping.
func Pong() Outbound { return Outbound{Type: TypePong} }

// Broadcast builds a frame for the broadcast stream, which rebroadcasts any
// {type, data} frame to the session.
func Broadcast(text string) Outbound {
	return Outbound{Type: TypeBroadcast, Data: BroadcastData{Message: text}}
}

// Checksum hashes arbitrary JSON bytes.
func Checksum(b []byte) string {
	hash := sha256.Sum256(b)
	return hex.EncodeToString(hash[:])
}

const naiveLayout = "2006-01-02T15:04:05.999999"

// ParseTimestamp accepts RFC 3339 as well as timezone-less ISO-8601 (UTC).
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.ParseInLocation(naiveLayout, s, time.UTC); err == nil {
		return t, true
	}
	return time.Time{}, false
}
