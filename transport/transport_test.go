package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"
)

func TestEndpoint(t *testing.T) {
	cases := []struct {
		name    string
		base    string
		stream  Stream
		session string
		driver  string
		want    string
	}{
		{"telemetry with driver", "ws://localhost:8000", StreamTelemetry, "12345", "HAM", "ws://localhost:8000/api/v1/ws/telemetry/12345?driver_id=HAM"},
		{"broadcast no driver", "wss://feed.example.com/", StreamBroadcast, "race-7", "", "wss://feed.example.com/api/v1/ws/broadcast/race-7"},
		{"base path kept", "ws://proxy:80/f1", StreamTelemetry, "s1", "", "ws://proxy:80/f1/api/v1/ws/telemetry/s1"},
		{"session escaped", "ws://localhost", StreamTelemetry, "race 1", "", "ws://localhost/api/v1/ws/telemetry/race%201"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Endpoint(tc.base, tc.stream, tc.session, tc.driver)
			if err != nil {
				t.Fatalf("Endpoint: %v", err)
			}
			if got != tc.want {
				t.Fatalf("want=%s got=%s", tc.want, got)
			}
		})
	}
}

func TestEndpointRejectsBadInput(t *testing.T) {
	if _, err := Endpoint("http://localhost", StreamTelemetry, "s", ""); err == nil {
		t.Error("http scheme should be rejected")
	}
	if _, err := Endpoint("ws://", StreamTelemetry, "s", ""); err == nil {
		t.Error("missing host should be rejected")
	}
	if _, err := Endpoint("ws://localhost", Stream("timing"), "s", ""); err == nil {
		t.Error("unknown stream should be rejected")
	}
	if _, err := Endpoint("ws://localhost", StreamTelemetry, "", ""); err == nil {
		t.Error("empty session should be rejected")
	}
}

func TestTLSFilesValidate(t *testing.T) {
	if err := (TLSFiles{}).Validate(); err != nil {
		t.Fatalf("empty files should be valid: %v", err)
	}
	if err := (TLSFiles{CertPath: "c"}).Validate(); err == nil {
		t.Fatal("partial files should be rejected")
	}
	if _, err := BuildTLSConfig(TLSFiles{}); err == nil {
		t.Fatal("BuildTLSConfig without files should fail")
	}
}

func TestBuildTLSConfigMissingFiles(t *testing.T) {
	dir := t.TempDir()
	files := TLSFiles{
		CertPath: filepath.Join(dir, "client.cert.pem"),
		KeyPath:  filepath.Join(dir, "client.key.pem"),
		CAPath:   filepath.Join(dir, "ca.cert.pem"),
	}
	if _, err := BuildTLSConfig(files); err == nil || !strings.Contains(err.Error(), "client certificate") {
		t.Fatalf("want client certificate error, got %v", err)
	}
	if _, err := BuildHTTP2Client(files, time.Second); err == nil {
		t.Fatal("BuildHTTP2Client should propagate the error")
	}
}

func TestBuildHTTPClientPlain(t *testing.T) {
	client, err := BuildHTTPClient(TLSFiles{}, 3*time.Second)
	if err != nil {
		t.Fatalf("BuildHTTPClient: %v", err)
	}
	if client.Timeout != 3*time.Second {
		t.Fatalf("timeout not applied")
	}
	if client.Transport != nil {
		t.Fatalf("plain client should use the default transport")
	}
}

func TestWebSocketDialerRoundTrip(t *testing.T) {
	srv := httptest.NewServer(websocket.Handler(func(ws *websocket.Conn) {
		var frame string
		if err := websocket.Message.Receive(ws, &frame); err != nil {
			return
		}
		_ = websocket.Message.Send(ws, "echo:"+frame)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	dialer := &WebSocketDialer{Header: http.Header{"X-Client": []string{"racefeed"}}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := dialer.Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteFrame([]byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	frame, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(frame) != `echo:{"type":"ping"}` {
		t.Fatalf("unexpected frame %s", frame)
	}

	// Handler returned, so the server closed the stream.
	if _, err := conn.ReadFrame(); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed after server close, got %v", err)
	}
}

func TestWebSocketDialerFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := (&WebSocketDialer{}).Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err == nil {
		t.Fatal("dial against a non-websocket endpoint should fail")
	}

	if _, err := (&WebSocketDialer{}).Dial(ctx, "::not a url"); err == nil {
		t.Fatal("invalid endpoint should fail")
	}
}

func TestDialerFunc(t *testing.T) {
	called := ""
	d := DialerFunc(func(ctx context.Context, endpoint string) (Conn, error) {
		called = endpoint
		return nil, os.ErrNotExist
	})
	if _, err := d.Dial(context.Background(), "ws://x"); !errors.Is(err, os.ErrNotExist) || called != "ws://x" {
		t.Fatalf("DialerFunc did not forward: %v %q", err, called)
	}
}
