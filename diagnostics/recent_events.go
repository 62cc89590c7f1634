// Package diagnostics keeps in-memory channel health data for dashboards.
package diagnostics

import (
	"sync"
	"time"

	"github.com/st-keller/racefeed-client/logger"
)

// Level represents the severity of an event.
type Level string

const (
	LevelError Level = "ERROR"
	LevelWarn  Level = "WARN"
	LevelInfo  Level = "INFO"
	LevelDebug Level = "DEBUG"
)

// Event is one recorded lifecycle event.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     Level                  `json:"level"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// RecentEvents is a bounded ring of channel events. Every event is also
// written to the logger.
type RecentEvents struct {
	mu         sync.Mutex
	log        *logger.Logger
	entries    []Event
	maxEntries int
}

// NewRecentEvents creates a ring holding at most maxEntries events.
func NewRecentEvents(log *logger.Logger, maxEntries int) *RecentEvents {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RecentEvents{
		log:        log,
		entries:    make([]Event, 0, maxEntries),
		maxEntries: maxEntries,
	}
}

// Record appends an event and forwards it to the logger.
func (r *RecentEvents) Record(level Level, message string, context map[string]interface{}) {
	r.mu.Lock()
	r.entries = append(r.entries, Event{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   context,
	})
	if len(r.entries) > r.maxEntries {
		r.entries = r.entries[len(r.entries)-r.maxEntries:]
	}
	r.mu.Unlock()

	kv := make([]interface{}, 0, len(context)*2)
	for k, v := range context {
		kv = append(kv, k, v)
	}
	switch level {
	case LevelError:
		r.log.Error(message, kv...)
	case LevelWarn:
		r.log.Warn(message, kv...)
	case LevelInfo:
		r.log.Info(message, kv...)
	default:
		r.log.Debug(message, kv...)
	}
}

func (r *RecentEvents) Error(message string, context map[string]interface{}) {
	r.Record(LevelError, message, context)
}

func (r *RecentEvents) Warn(message string, context map[string]interface{}) {
	r.Record(LevelWarn, message, context)
}

func (r *RecentEvents) Info(message string, context map[string]interface{}) {
	r.Record(LevelInfo, message, context)
}

func (r *RecentEvents) Debug(message string, context map[string]interface{}) {
	r.Record(LevelDebug, message, context)
}

// Entries returns a copy of the ring, oldest first.
func (r *RecentEvents) Entries() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.entries))
	copy(out, r.entries)
	return out
}

// GetData returns the ring plus per-level counts.
func (r *RecentEvents) GetData() map[string]interface{} {
	entries := r.Entries()

	var errorCount, warnCount, infoCount, debugCount int
	for _, entry := range entries {
		switch entry.Level {
		case LevelError:
			errorCount++
		case LevelWarn:
			warnCount++
		case LevelInfo:
			infoCount++
		case LevelDebug:
			debugCount++
		}
	}

	return map[string]interface{}{
		"entries": entries,
		"stats": map[string]interface{}{
			"total_count":    len(entries),
			"errors_count":   errorCount,
			"warnings_count": warnCount,
			"info_count":     infoCount,
			"debug_count":    debugCount,
			"max_entries":    r.maxEntries,
		},
	}
}
