// Package activity provides the shared append-only activity event stream.
// Multiple processes append single JSON lines; readers order events by
// timestamp best-effort and tolerate partial trailing lines.
package activity

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Event names. These are part of the on-disk contract with shell tooling.
const (
	EventSpawn            = "spawn"
	EventClaim            = "claim"
	EventComplete         = "complete"
	EventIdle             = "idle"
	EventTeardown         = "teardown"
	EventHeartbeat        = "heartbeat"
	EventNotificationSent = "notification_sent"
	EventThresholdBreach  = "threshold_breach"
	EventRecovered        = "recovered"
	EventStuckTasks       = "stuck_tasks"
	EventHungAgents       = "hung_agents"
)

// Event is one activity record. Readers treat missing fields as defaults.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Agent     string            `json:"agent,omitempty"`
	Event     string            `json:"event"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// Log is a single-writer handle on an activity JSONL file. Appends are
// line-buffered single writes so concurrent processes interleave whole
// lines.
type Log struct {
	path string
	mu   sync.Mutex
}

// NewLog creates a handle for the given path.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Path returns the underlying file path.
func (l *Log) Path() string { return l.path }

// Append writes one event. A zero timestamp is stamped with the current
// UTC time.
func (l *Log) Append(ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Event == "" {
		return fmt.Errorf("activity: event name required")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("opening activity log: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening activity log: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("writing event: %w", err)
	}
	return f.Close()
}

// Record is a convenience for Append with a name, agent, and payload.
func (l *Log) Record(event, agent string, payload map[string]string) error {
	return l.Append(Event{Event: event, Agent: agent, Payload: payload})
}

// All reads every parseable event, sorted by timestamp. Malformed lines are
// skipped: a partial trailing line from an in-flight writer is expected.
func (l *Log) All() ([]Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening activity log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue // Skip malformed
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning activity log: %w", err)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

// Since returns events with timestamps strictly after t.
func (l *Log) Since(t time.Time) ([]Event, error) {
	all, err := l.All()
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, ev := range all {
		if ev.Timestamp.After(t) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Tail returns the last n events.
func (l *Log) Tail(n int) ([]Event, error) {
	all, err := l.All()
	if err != nil {
		return nil, err
	}
	if n <= 0 || n >= len(all) {
		return all, nil
	}
	return all[len(all)-n:], nil
}

// LastEventPerAgent returns the most recent event for each agent that has
// one. Events without an agent are ignored.
func (l *Log) LastEventPerAgent() (map[string]Event, error) {
	all, err := l.All()
	if err != nil {
		return nil, err
	}
	last := make(map[string]Event)
	for _, ev := range all {
		if ev.Agent == "" {
			continue
		}
		last[ev.Agent] = ev
	}
	return last, nil
}
