// Package store keeps the latest telemetry state fed by a channel or a REST
// snapshot, with per-driver history and duplicate-frame suppression.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/st-keller/racefeed-client/message"
	"github.com/st-keller/racefeed-client/state"
	"github.com/st-keller/racefeed-client/types"
)

// DefaultMaxHistory bounds the samples kept per driver.
const DefaultMaxHistory = 100

// Store is safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	maxHistory int
	now        func() time.Time

	// drivers: driverID ("" for whole-session frames) -> cached state
	drivers map[string]*driverState

	lastBroadcast *message.BroadcastData
	lastError     string
	connection    state.ConnectionState
	stats         Stats
}

type driverState struct {
	lastRawJSON  []byte // compared before hashing
	lastChecksum string
	latest       message.TelemetryResponse
	history      []message.TelemetryDataPoint
	lastSample   time.Time
	lastUpdate   time.Time
}

// Stats counts what Apply has seen.
type Stats struct {
	Applied    int `json:"applied"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
}

// New creates a Store keeping at most maxHistory samples per driver
// (DefaultMaxHistory if <= 0).
func New(maxHistory int) *Store {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Store{
		maxHistory: maxHistory,
		now:        time.Now,
		drivers:    make(map[string]*driverState),
		connection: state.Idle,
	}
}

// Apply records a telemetry response. It returns false when the response is
// byte-identical to the last one for the same driver.
func (s *Store) Apply(resp message.TelemetryResponse) (bool, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return false, fmt.Errorf("failed to marshal telemetry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.drivers[resp.DriverID]
	if d == nil {
		d = &driverState{}
		s.drivers[resp.DriverID] = d
	}

	if bytes.Equal(d.lastRawJSON, raw) {
		s.stats.Duplicates++
		return false, nil
	}

	d.lastRawJSON = raw
	d.lastChecksum = message.Checksum(raw)
	d.latest = resp
	d.lastUpdate = s.now()
	s.appendHistoryLocked(d, resp.Data)
	s.stats.Applied++
	return true, nil
}

// appendHistoryLocked keeps samples newer than the last one stored. The
// backend resends its latest window on every update, so older samples are
// repeats. Samples without a parseable timestamp are always kept.
func (s *Store) appendHistoryLocked(d *driverState, points []message.TelemetryDataPoint) {
	for _, p := range points {
		ts, ok := message.ParseTimestamp(p.Timestamp)
		if ok {
			if !d.lastSample.IsZero() && !ts.After(d.lastSample) {
				continue
			}
			d.lastSample = ts
		}
		d.history = append(d.history, p)
	}
	if over := len(d.history) - s.maxHistory; over > 0 {
		d.history = append([]message.TelemetryDataPoint(nil), d.history[over:]...)
	}
}

// Latest returns the last response for driverID ("" for session-wide).
func (s *Store) Latest(driverID string) (message.TelemetryResponse, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.drivers[driverID]
	if d == nil {
		return message.TelemetryResponse{}, false
	}
	return d.latest, true
}

// Checksum returns the checksum of the last response for driverID.
func (s *Store) Checksum(driverID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d := s.drivers[driverID]; d != nil {
		return d.lastChecksum
	}
	return ""
}

// History returns a copy of the retained samples for driverID, oldest first.
func (s *Store) History(driverID string) []message.TelemetryDataPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.drivers[driverID]
	if d == nil {
		return nil
	}
	return append([]message.TelemetryDataPoint(nil), d.history...)
}

// Drivers returns the driver IDs with data, sorted.
func (s *Store) Drivers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.drivers))
	for id := range s.drivers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LastBroadcast returns the most recent broadcast payload.
func (s *Store) LastBroadcast() (message.BroadcastData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastBroadcast == nil {
		return message.BroadcastData{}, false
	}
	return *s.lastBroadcast, true
}

// LastError returns the last error reported by the channel.
func (s *Store) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// Connection returns the last connection state seen.
func (s *Store) Connection() state.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connection
}

// Stats returns counters since creation.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// ============================================================================
// CHANNEL SUBSCRIBER
// ============================================================================

// Subscriber adapts the store to a channel subscription. Telemetry and
// cached frames are applied, broadcasts recorded and other types ignored.
func (s *Store) Subscriber() types.Subscriber {
	return types.Subscriber{
		OnMessage:     s.handleMessage,
		OnError:       s.handleError,
		OnStateChange: s.handleStateChange,
	}
}

func (s *Store) handleMessage(msg message.Inbound) {
	switch msg.Type {
	case message.TypeTelemetryUpdate, message.TypeCachedData:
		resp, err := msg.Telemetry()
		if err != nil {
			s.reject(fmt.Errorf("%s frame: %w", msg.Type, err))
			return
		}
		if _, err := s.Apply(resp); err != nil {
			s.reject(err)
		}
	case message.TypeBroadcast:
		data, err := msg.BroadcastPayload()
		if err != nil {
			s.reject(fmt.Errorf("broadcast frame: %w", err))
			return
		}
		s.mu.Lock()
		s.lastBroadcast = &data
		s.mu.Unlock()
	case message.TypeError:
		s.handleError(fmt.Errorf("feed error: %s", msg.Message))
	}
}

func (s *Store) reject(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Rejected++
	s.lastError = err.Error()
}

func (s *Store) handleError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err.Error()
}

func (s *Store) handleStateChange(change state.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connection = change.To
	if change.To == state.Open {
		s.lastError = ""
	}
}
