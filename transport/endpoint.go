package transport

import (
	"fmt"
	"net/url"
	"strings"
)

// Stream selects which feed endpoint to open.
type Stream string

const (
	StreamTelemetry Stream = "telemetry"
	StreamBroadcast Stream = "broadcast"
)

// APIPath is the versioned prefix of every feed route.
const APIPath = "/api/v1"

// Valid reports whether s is a known stream.
func (s Stream) Valid() bool {
	return s == StreamTelemetry || s == StreamBroadcast
}

// Endpoint builds {base}/api/v1/ws/{stream}/{session}[?driver_id=...].
// base must be a ws:// or wss:// URL; an existing path on base is kept as a
// prefix.
func Endpoint(base string, stream Stream, sessionID, driverID string) (string, error) {
	if !stream.Valid() {
		return "", fmt.Errorf("unknown stream %q", stream)
	}
	if sessionID == "" {
		return "", fmt.Errorf("sessionID required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("base url scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url has no host")
	}

	prefix := strings.TrimSuffix(u.Path, "/") + APIPath + "/ws/" + string(stream) + "/"
	u.Path = prefix + sessionID
	u.RawPath = (&url.URL{Path: prefix}).EscapedPath() + url.PathEscape(sessionID)
	q := url.Values{}
	if driverID != "" {
		q.Set("driver_id", driverID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
