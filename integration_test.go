package racefeed

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/st-keller/racefeed-client/message"
	"github.com/st-keller/racefeed-client/mockfeed"
	"github.com/st-keller/racefeed-client/state"
	"github.com/st-keller/racefeed-client/transport"
)

func startFeed(t *testing.T) (*mockfeed.Server, string) {
	t.Helper()
	feed := mockfeed.New(mockfeed.Options{})
	ts := httptest.NewServer(feed)
	t.Cleanup(func() {
		feed.Close()
		ts.Close()
	})
	return feed, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestTelemetryAgainstMockFeed(t *testing.T) {
	feed, url := startFeed(t)
	feed.SetTelemetry(message.TelemetryResponse{
		SessionID: "12345",
		DriverID:  "HAM",
		Data:      []message.TelemetryDataPoint{{Timestamp: "2024-05-01T12:00:00"}},
	})

	c, err := New(Config{
		URL:               url,
		SessionID:         "12345",
		DriverID:          "HAM",
		BaseDelay:         20 * time.Millisecond,
		KeepaliveInterval: -1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Disconnect)

	rec := newRecorder()
	c.Subscribe(rec.subscriber())
	c.Connect()

	// The feed sends its cache on connect and answers the hello ping.
	if msg := recv(t, rec.messages); msg.Type != message.TypeCachedData {
		t.Fatalf("first message: want=cached_data got=%s", msg.Type)
	}
	msg := recv(t, rec.messages)
	resp, err := msg.Telemetry()
	if msg.Type != message.TypeTelemetryUpdate || err != nil || resp.DriverID != "HAM" {
		t.Fatalf("unexpected update %s %+v %v", msg.Type, resp, err)
	}
	waitFor(t, "pong", func() bool { return !c.LastPong().IsZero() })

	feed.DropAll()

	var changes []string
	for len(changes) < 5 {
		changes = append(changes, recv(t, rec.changes).String())
	}
	want := []string{"idle->connecting", "connecting->open", "open->closed", "closed->connecting", "connecting->open"}
	if strings.Join(changes, " ") != strings.Join(want, " ") {
		t.Fatalf("transitions: want=%v got=%v", want, changes)
	}
	if msg := recv(t, rec.messages); msg.Type != message.TypeCachedData {
		t.Fatalf("after reconnect: want=cached_data got=%s", msg.Type)
	}
	if c.Attempts() != 0 {
		t.Fatalf("attempts after reconnect: %d", c.Attempts())
	}
}

func TestBroadcastAgainstMockFeed(t *testing.T) {
	_, url := startFeed(t)

	c, err := New(Config{URL: url, Stream: transport.StreamBroadcast, SessionID: "12345"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Disconnect)

	rec := newRecorder()
	c.Subscribe(rec.subscriber())
	c.Connect()

	if msg := recv(t, rec.messages); msg.Type != message.TypeInfo {
		t.Fatalf("want info welcome, got %s", msg.Type)
	}
	waitState(t, c, state.Open)

	if err := c.Send(message.Broadcast("box box")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msg := recv(t, rec.messages)
	payload, err := msg.BroadcastPayload()
	if msg.Type != message.TypeBroadcast || err != nil || payload.Message != "box box" {
		t.Fatalf("unexpected rebroadcast %+v", msg)
	}
	if _, ok := msg.Time(); !ok {
		t.Fatalf("rebroadcast timestamp %q", msg.Timestamp)
	}
}

func TestUnreachableFeedExhaustsRetries(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ts.Close()

	c, err := New(Config{
		URL:               url,
		SessionID:         "12345",
		MaxAttempts:       2,
		BaseDelay:         5 * time.Millisecond,
		KeepaliveInterval: -1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Disconnect)

	rec := newRecorder()
	c.Subscribe(rec.subscriber())
	c.Connect()

	for {
		err := recv(t, rec.errs)
		if errors.Is(err, ErrConnectionExhausted) {
			break
		}
		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if c.State() != state.Failed {
		t.Fatalf("state: want=failed got=%s", c.State())
	}
}
