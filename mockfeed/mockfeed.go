// Package mockfeed serves a local race feed with the same routes and frames as
// the production backend. It backs the integration tests and cmd/mockfeed.
package mockfeed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/st-keller/racefeed-client/logger"
	"github.com/st-keller/racefeed-client/message"
	"github.com/st-keller/racefeed-client/transport"
)

// timestampLayout matches the backend's naive UTC isoformat().
const timestampLayout = "2006-01-02T15:04:05.000000"

// Options configures a Server.
type Options struct {
	// TickInterval pushes telemetry_update to every telemetry client on this
	// period. Zero only pushes in reply to client frames and on Publish.
	TickInterval time.Duration
	Logger       *logger.Logger
}

// frame is what the server writes. The backend always stamps a timestamp.
type frame struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp string      `json:"timestamp"`
}

type telemetryKey struct {
	session string
	driver  string
}

// Server is an http.Handler for the feed routes.
type Server struct {
	log      *logger.Logger
	tick     time.Duration
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	now      func() time.Time

	mu        sync.Mutex
	sessions  map[string]map[*client]struct{}
	telemetry map[telemetryKey]message.TelemetryResponse
	closed    bool
}

// New creates a Server. Nothing listens until it is mounted on an http.Server
// or httptest.Server.
func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		log:  log,
		tick: opts.TickInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		mux:       http.NewServeMux(),
		now:       time.Now,
		sessions:  make(map[string]map[*client]struct{}),
		telemetry: make(map[telemetryKey]message.TelemetryResponse),
	}

	s.mux.HandleFunc("GET "+transport.APIPath+"/ws/telemetry/{session}", s.handleTelemetry)
	s.mux.HandleFunc("GET "+transport.APIPath+"/ws/broadcast/{session}", s.handleBroadcast)
	s.mux.HandleFunc("POST "+transport.APIPath+"/ws/broadcast/{session}", s.handleBroadcastPost)
	s.mux.HandleFunc("GET "+transport.APIPath+"/telemetry/live/{session}", s.handleLive)
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// SetTelemetry stores resp as the current state for its session and driver.
// An empty DriverID is the whole-session view.
func (s *Server) SetTelemetry(resp message.TelemetryResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telemetry[telemetryKey{resp.SessionID, resp.DriverID}] = resp
}

func (s *Server) lookup(session, driver string) (message.TelemetryResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.telemetry[telemetryKey{session, driver}]
	return resp, ok
}

// Publish stores resp and pushes it as telemetry_update to the session's
// telemetry clients whose driver filter matches. It returns the number of
// clients written to.
func (s *Server) Publish(resp message.TelemetryResponse) int {
	s.SetTelemetry(resp)

	sent := 0
	for _, c := range s.clients(resp.SessionID) {
		if c.stream != transport.StreamTelemetry || c.driver != resp.DriverID {
			continue
		}
		if c.send(frame{Type: message.TypeTelemetryUpdate, Data: resp, Timestamp: s.timestamp()}) == nil {
			sent++
		}
	}
	return sent
}

// Broadcast sends a frame to every client in the session, on either stream.
func (s *Server) Broadcast(session, msgType string, data interface{}) int {
	sent := 0
	for _, c := range s.clients(session) {
		if c.send(frame{Type: msgType, Data: data, Timestamp: s.timestamp()}) == nil {
			sent++
		}
	}
	return sent
}

// Clients returns how many connections are open for a session.
func (s *Server) Clients(session string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions[session])
}

// DropAll closes every open connection without a close handshake, the way a
// crashed backend would. It returns the number dropped.
func (s *Server) DropAll() int {
	s.mu.Lock()
	var all []*client
	for _, set := range s.sessions {
		for c := range set {
			all = append(all, c)
		}
	}
	s.mu.Unlock()

	for _, c := range all {
		_ = c.conn.Close()
	}
	if len(all) > 0 {
		s.log.Warn("Dropped all connections", "count", len(all))
	}
	return len(all)
}

// Close drops every connection and refuses new ones.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.DropAll()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) clients(session string) []*client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*client, 0, len(s.sessions[session]))
	for c := range s.sessions[session] {
		out = append(out, c)
	}
	return out
}

func (s *Server) register(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	set, ok := s.sessions[c.session]
	if !ok {
		set = make(map[*client]struct{})
		s.sessions[c.session] = set
	}
	set[c] = struct{}{}
	return true
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	set := s.sessions[c.session]
	delete(set, c)
	if len(set) == 0 {
		delete(s.sessions, c.session)
	}
	s.mu.Unlock()

	_ = c.conn.Close()
	s.log.Info("WebSocket disconnected", "client_id", c.id, "session", c.session, "stream", string(c.stream))
}

func (s *Server) timestamp() string {
	return s.now().UTC().Format(timestampLayout)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ============================================================================
// CLIENTS
// ============================================================================

type client struct {
	id      string
	session string
	driver  string
	stream  transport.Stream
	conn    *websocket.Conn

	writeMu sync.Mutex
}

func newClient(conn *websocket.Conn, stream transport.Stream, session, driver string) *client {
	return &client{
		id:      uuid.NewString(),
		session: session,
		driver:  driver,
		stream:  stream,
		conn:    conn,
	}
}

// send writes one JSON text frame. gorilla allows a single concurrent writer.
func (c *client) send(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(f)
}
