// Package snapshot fetches the current telemetry state over REST, used to seed
// consumers before the live stream delivers its first frame.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/st-keller/racefeed-client/diagnostics"
	"github.com/st-keller/racefeed-client/message"
	"github.com/st-keller/racefeed-client/transport"
)

// ServiceName is the connectivity key used for snapshot requests.
const ServiceName = "snapshot"

// StatusError is returned for non-200 responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Client fetches live telemetry from {BaseURL}/api/v1/telemetry/live/{session}.
type Client struct {
	baseURL      string
	http         *http.Client
	connectivity *diagnostics.ConnectivityTracker
}

// New creates a snapshot client. httpClient may be nil; connectivity may be
// nil.
func New(baseURL string, httpClient *http.Client, connectivity *diagnostics.ConnectivityTracker) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api url scheme must be http or https, got %q", u.Scheme)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if connectivity == nil {
		connectivity = diagnostics.NewConnectivityTracker()
	}
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		http:         httpClient,
		connectivity: connectivity,
	}, nil
}

// Live returns the latest telemetry for a session, optionally filtered to
// one driver.
func (c *Client) Live(ctx context.Context, sessionID, driverID string) (message.TelemetryResponse, error) {
	if sessionID == "" {
		return message.TelemetryResponse{}, fmt.Errorf("sessionID required")
	}

	endpoint := c.baseURL + transport.APIPath + "/telemetry/live/" + url.PathEscape(sessionID)
	if driverID != "" {
		endpoint += "?" + url.Values{"driver_id": []string{driverID}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return message.TelemetryResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	startTime := time.Now()
	resp, err := c.http.Do(req)
	latency := time.Since(startTime)
	if err != nil {
		c.connectivity.TrackFailure(ServiceName, c.baseURL, latency, err.Error())
		return message.TelemetryResponse{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		c.connectivity.TrackFailure(ServiceName, c.baseURL, latency, statusErr.Error())
		return message.TelemetryResponse{}, statusErr
	}

	c.connectivity.TrackSuccess(ServiceName, c.baseURL, latency)

	var out message.TelemetryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return message.TelemetryResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}
