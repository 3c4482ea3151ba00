package activity

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempLog(t *testing.T) *Log {
	t.Helper()
	return NewLog(filepath.Join(t.TempDir(), "agent-activity.jsonl"))
}

func TestRecordAndAll(t *testing.T) {
	log := tempLog(t)

	if err := log.Record(EventSpawn, "BlueLake", map[string]string{"type": "backend"}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := log.Record(EventClaim, "BlueLake", map[string]string{"task": "bd-1"}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := log.Record(EventSpawn, "AmberPeak", nil); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	events, err := log.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Event != EventSpawn || events[0].Agent != "BlueLake" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Payload["task"] != "bd-1" {
		t.Errorf("payload not preserved: %+v", events[1].Payload)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			t.Errorf("events out of order at %d", i)
		}
	}
}

func TestAllSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	content := `{"timestamp":"2026-08-24T10:00:00Z","agent":"A","event":"spawn"}
this is not json
{"timestamp":"2026-08-24T10:01:00Z","agent":"B","event":"claim"}
{"truncated`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	events, err := NewLog(path).All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 parseable events, got %d", len(events))
	}
	if events[0].Agent != "A" || events[1].Agent != "B" {
		t.Errorf("wrong events: %+v", events)
	}
}

func TestTail(t *testing.T) {
	log := tempLog(t)
	for i := 0; i < 5; i++ {
		if err := log.Record(EventHeartbeat, "A", nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := log.Record(EventIdle, "A", nil); err != nil {
		t.Fatal(err)
	}

	tail, err := log.Tail(2)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(tail) != 2 {
		t.Fatalf("expected 2, got %d", len(tail))
	}
	if tail[1].Event != EventIdle {
		t.Errorf("last event = %q, want idle", tail[1].Event)
	}

	// Tail larger than the log returns everything.
	all, err := log.Tail(100)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 6 {
		t.Errorf("expected 6, got %d", len(all))
	}
}

func TestSince(t *testing.T) {
	log := tempLog(t)
	if err := log.Append(Event{Timestamp: time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC), Agent: "old", Event: EventSpawn}); err != nil {
		t.Fatal(err)
	}
	if err := log.Append(Event{Timestamp: time.Date(2026, 8, 24, 11, 0, 0, 0, time.UTC), Agent: "new", Event: EventSpawn}); err != nil {
		t.Fatal(err)
	}

	events, err := log.Since(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Agent != "new" {
		t.Errorf("Since returned %+v", events)
	}
}

func TestLastEventPerAgent(t *testing.T) {
	log := tempLog(t)
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	for i, ev := range []Event{
		{Agent: "A", Event: EventSpawn},
		{Agent: "B", Event: EventSpawn},
		{Agent: "A", Event: EventClaim},
	} {
		ev.Timestamp = base.Add(time.Duration(i) * time.Minute)
		if err := log.Append(ev); err != nil {
			t.Fatal(err)
		}
	}

	last, err := log.LastEventPerAgent()
	if err != nil {
		t.Fatal(err)
	}
	if len(last) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(last))
	}
	if last["A"].Event != EventClaim {
		t.Errorf("A's last event = %q, want claim", last["A"].Event)
	}
	if last["B"].Event != EventSpawn {
		t.Errorf("B's last event = %q, want spawn", last["B"].Event)
	}
}

func TestMissingFileIsEmpty(t *testing.T) {
	log := NewLog(filepath.Join(t.TempDir(), "never-written.jsonl"))
	events, err := log.All()
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}
