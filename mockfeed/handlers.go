package mockfeed

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/st-keller/racefeed-client/message"
	"github.com/st-keller/racefeed-client/transport"
)

func (s *Server) accept(w http.ResponseWriter, r *http.Request, stream transport.Stream) (*client, bool) {
	if s.isClosed() {
		http.Error(w, "feed closed", http.StatusServiceUnavailable)
		return nil, false
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Warn("WebSocket upgrade failed", "error", err)
		return nil, false
	}

	c := newClient(conn, stream, r.PathValue("session"), r.URL.Query().Get("driver_id"))
	if !s.register(c) {
		_ = conn.Close()
		return nil, false
	}
	s.log.Info("WebSocket connected", "client_id", c.id, "session", c.session, "stream", string(stream), "driver_id", c.driver)
	return c, true
}

// handleTelemetry sends cached_data on connect, answers ping with pong and
// follows every client frame with the latest telemetry.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	c, ok := s.accept(w, r, transport.StreamTelemetry)
	if !ok {
		return
	}
	defer s.unregister(c)

	if cached, ok := s.lookup(c.session, c.driver); ok {
		if err := c.send(frame{Type: message.TypeCachedData, Data: cached, Timestamp: s.timestamp()}); err != nil {
			return
		}
	}

	done := make(chan struct{})
	defer close(done)
	if s.tick > 0 {
		go s.pushLoop(c, done)
	}

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var in struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			s.log.Warn("Invalid client frame", "client_id", c.id, "error", err)
			return
		}

		if in.Type == message.TypePing {
			if err := c.send(frame{Type: message.TypePong, Timestamp: s.timestamp()}); err != nil {
				return
			}
		}
		if live, ok := s.lookup(c.session, c.driver); ok {
			if err := c.send(frame{Type: message.TypeTelemetryUpdate, Data: live, Timestamp: s.timestamp()}); err != nil {
				return
			}
		}
	}
}

func (s *Server) pushLoop(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			live, ok := s.lookup(c.session, c.driver)
			if !ok {
				continue
			}
			if err := c.send(frame{Type: message.TypeTelemetryUpdate, Data: live, Timestamp: s.timestamp()}); err != nil {
				return
			}
		}
	}
}

// handleBroadcast welcomes the client and rebroadcasts every valid
// {type, data} frame to the whole session. Keepalive pings get a pong so
// clients can share one keepalive policy across both streams.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	c, ok := s.accept(w, r, transport.StreamBroadcast)
	if !ok {
		return
	}
	defer s.unregister(c)

	welcome := frame{
		Type:      message.TypeInfo,
		Message:   fmt.Sprintf("Connected to broadcast channel for session %s", c.session),
		Timestamp: s.timestamp(),
	}
	if err := c.send(welcome); err != nil {
		return
	}

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var in map[string]json.RawMessage
		if err := json.Unmarshal(raw, &in); err != nil {
			s.log.Warn("Invalid client frame", "client_id", c.id, "error", err)
			return
		}

		var msgType string
		data, hasData := in["data"]
		err = json.Unmarshal(in["type"], &msgType)
		if err == nil && msgType == message.TypePing {
			if err := c.send(frame{Type: message.TypePong, Timestamp: s.timestamp()}); err != nil {
				return
			}
			continue
		}
		if err != nil || msgType == "" || !hasData {
			if err := c.send(frame{Type: message.TypeError, Message: "Invalid message format", Timestamp: s.timestamp()}); err != nil {
				return
			}
			continue
		}

		s.Broadcast(c.session, msgType, data)
	}
}

// handleBroadcastPost pushes a server-originated broadcast to the session.
func (s *Server) handleBroadcastPost(w http.ResponseWriter, r *http.Request) {
	session := r.PathValue("session")

	var body message.BroadcastData
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "message required"})
		return
	}

	s.Broadcast(session, message.TypeBroadcast, body)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "Message broadcast initiated",
		"recipients": s.Clients(session),
	})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	resp, ok := s.lookup(r.PathValue("session"), r.URL.Query().Get("driver_id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "No live telemetry data available"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
