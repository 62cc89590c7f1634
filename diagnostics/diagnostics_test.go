package diagnostics

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/st-keller/racefeed-client/logger"
)

func TestRecentEventsRingAndLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	events := NewRecentEvents(&logger.Logger{SugaredLogger: zap.New(core).Sugar()}, 3)

	events.Info("connecting", map[string]interface{}{"attempt": 0})
	events.Warn("retry scheduled", map[string]interface{}{"attempt": 1})
	events.Error("dial failed", map[string]interface{}{"error": "refused"})
	events.Debug("frame", nil)

	entries := events.Entries()
	if len(entries) != 3 {
		t.Fatalf("ring size: want=3 got=%d", len(entries))
	}
	if entries[0].Message != "retry scheduled" || entries[2].Message != "frame" {
		t.Fatalf("oldest entry should be evicted, got %v", entries)
	}
	if logs.Len() != 4 {
		t.Fatalf("every event should reach the logger, got %d", logs.Len())
	}
	if logs.All()[2].Level != zap.ErrorLevel {
		t.Fatalf("error event logged at %v", logs.All()[2].Level)
	}

	stats := events.GetData()["stats"].(map[string]interface{})
	if stats["warnings_count"] != 1 || stats["errors_count"] != 1 || stats["debug_count"] != 1 {
		t.Fatalf("unexpected stats %v", stats)
	}
}

func TestRecentEventsDefaultSize(t *testing.T) {
	events := NewRecentEvents(nil, 0)
	if events.maxEntries != 100 {
		t.Fatalf("default size: got %d", events.maxEntries)
	}
}

func TestConnectivityStatus(t *testing.T) {
	tracker := NewConnectivityTracker()

	for i := 0; i < 18; i++ {
		tracker.TrackSuccess("feed", "ws://feed/a", time.Duration(i+1)*time.Millisecond)
	}
	tracker.TrackFailure("feed", "ws://feed/a", 5*time.Millisecond, "connection refused")
	tracker.TrackFailure("feed", "ws://feed/a", 5*time.Millisecond, "connection reset")
	tracker.TrackSuccess("snapshot", "http://api", 20*time.Millisecond)

	summaries := tracker.Summaries()
	if len(summaries) != 2 {
		t.Fatalf("summaries: want=2 got=%d", len(summaries))
	}
	feed := summaries[0]
	if feed.Service != "feed" {
		t.Fatalf("summaries should be sorted, got %s first", feed.Service)
	}
	if feed.TotalCalls != 20 || feed.SuccessRate != 0.9 {
		t.Fatalf("unexpected totals %+v", feed)
	}
	if feed.Status != "degraded" {
		t.Fatalf("90%% success should be degraded, got %s", feed.Status)
	}
	if len(feed.RecentErrors) != 2 || feed.RecentErrors[0] != "connection refused" {
		t.Fatalf("recent errors %v", feed.RecentErrors)
	}
	if feed.LatencyP99 < feed.LatencyP50 {
		t.Fatalf("p99 below p50: %+v", feed)
	}
	if summaries[1].Status != "healthy" {
		t.Fatalf("snapshot should be healthy")
	}
}

func TestConnectivityPrunesOldCalls(t *testing.T) {
	tracker := NewConnectivityTracker()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	now := start
	tracker.now = func() time.Time { return now }

	tracker.TrackFailure("feed", "ws://feed", time.Millisecond, "down")
	now = start.Add(2 * time.Hour)

	if got := tracker.Summaries(); len(got) != 0 {
		t.Fatalf("calls older than the window should be dropped, got %+v", got)
	}

	tracker.TrackSuccess("feed", "ws://feed", time.Millisecond)
	got := tracker.Summaries()
	if len(got) != 1 || got[0].TotalCalls != 1 || got[0].Status != "healthy" {
		t.Fatalf("unexpected %+v", got)
	}
}
