package usage

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"
)

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	tracker, err := NewTracker(t.TempDir())
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	t.Cleanup(func() { tracker.Close() })
	return tracker
}

func TestTracker_TrackAggregates(t *testing.T) {
	tracker := newTracker(t)
	ctx := context.Background()

	for _, d := range []time.Duration{time.Second, 3 * time.Second} {
		if err := tracker.Track(ctx, ActionTurn, d); err != nil {
			t.Fatalf("Track: %v", err)
		}
	}
	if err := tracker.Track(ctx, "run_python", 500*time.Millisecond); err != nil {
		t.Fatalf("Track: %v", err)
	}

	stats, err := tracker.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if len(stats.Actions) != 2 {
		t.Fatalf("Actions=%+v, want 2 entries", stats.Actions)
	}
	// Ordered by action name.
	if got := stats.Actions[0]; got.Action != "run_python" || got.Count != 1 || got.AvgDuration != 500*time.Millisecond {
		t.Fatalf("Actions[0]=%+v", got)
	}
	if got := stats.Actions[1]; got.Action != ActionTurn || got.Count != 2 || got.AvgDuration != 2*time.Second {
		t.Fatalf("Actions[1]=%+v", got)
	}
}

func TestTracker_TokensByModel(t *testing.T) {
	tracker := newTracker(t)
	ctx := WithSession(context.Background(), "sess_1")

	_ = tracker.TrackTokens(ctx, "gemini", "gemini-2.5-flash", 10, 5)
	_ = tracker.TrackTokens(ctx, "gemini", "gemini-2.5-flash", 2, 3)
	_ = tracker.TrackTokens(ctx, "openai", "gpt-4o", 1, 1)

	stats, err := tracker.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if got := stats.ByModel["gemini-2.5-flash"]; got.Input != 12 || got.Output != 8 || got.Total != 20 {
		t.Fatalf("ByModel[gemini-2.5-flash]=%+v, want input=12 output=8 total=20", got)
	}
	if stats.Total.Total != 22 {
		t.Fatalf("Total=%+v, want 22", stats.Total)
	}
}

func TestTracker_ReportErrorPersistsProperties(t *testing.T) {
	tracker := newTracker(t)
	ctx := WithSession(context.Background(), "sess_2")

	if err := tracker.ReportError(ctx, map[string]any{"error": "model unavailable", "model": "gpt-4o"}); err != nil {
		t.Fatalf("ReportError: %v", err)
	}

	stats, err := tracker.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.Errors != 1 {
		t.Fatalf("Errors=%d, want 1", stats.Errors)
	}

	db, err := sql.Open("sqlite", tracker.Path())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var session, props string
	row := db.QueryRow(`SELECT session_id, properties FROM usage_data WHERE action = ?`, ActionErrored)
	if err := row.Scan(&session, &props); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if session != "sess_2" {
		t.Fatalf("session_id=%q, want sess_2", session)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(props), &decoded); err != nil {
		t.Fatalf("properties not JSON: %v", err)
	}
	if decoded["error"] != "model unavailable" {
		t.Fatalf("properties=%v", decoded)
	}
}

func TestTracker_Reopen(t *testing.T) {
	dir := t.TempDir()
	first, err := NewTracker(dir)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	_ = first.Track(context.Background(), ActionTurn, time.Second)
	first.Close()

	second, err := NewTracker(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	stats, err := second.Statistics(context.Background())
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if len(stats.Actions) != 1 || stats.Actions[0].Count != 1 {
		t.Fatalf("Actions=%+v, want one persisted turn", stats.Actions)
	}
}

func TestTracker_ContextHelpers(t *testing.T) {
	tracker := newTracker(t)

	ctx := NewContext(context.Background(), tracker)
	if got := FromContext(ctx); got != tracker {
		t.Fatalf("FromContext mismatch")
	}
	if FromContext(context.Background()) != nil {
		t.Fatalf("FromContext on empty context should be nil")
	}
	if got := SessionFromContext(WithSession(ctx, "abc")); got != "abc" {
		t.Fatalf("SessionFromContext=%q", got)
	}
}
