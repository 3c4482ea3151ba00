package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/droverhq/drover/internal/activity"
	"github.com/droverhq/drover/internal/beads"
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/registry"
)

type fakeSource struct {
	ready      []beads.Bead
	inProgress []beads.Bead
}

func (f *fakeSource) Ready(context.Context) ([]beads.Bead, error)      { return f.ready, nil }
func (f *fakeSource) InProgress(context.Context) ([]beads.Bead, error) { return f.inProgress, nil }

func testMonitor(t *testing.T, source *fakeSource) (*Monitor, *registry.Registry, config.Paths) {
	t.Helper()
	paths := config.NewPaths(t.TempDir())
	if err := paths.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	catalog, err := registry.LoadCatalog(paths.TypesCatalog())
	if err != nil {
		t.Fatal(err)
	}
	reg := registry.New(paths, catalog, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := New(paths, source, reg, nil, nil, nil, logger)
	if err != nil {
		t.Fatal(err)
	}
	return m, reg, paths
}

func queueEvents(t *testing.T, paths config.Paths) []activity.Event {
	t.Helper()
	events, err := activity.NewLog(paths.QueueEventsLog()).All()
	if err != nil {
		t.Fatal(err)
	}
	return events
}

func someBeads(n int) []beads.Bead {
	out := make([]beads.Bead, n)
	for i := range out {
		out[i] = beads.Bead{ID: fmt.Sprintf("bd-%d", i), Title: "work"}
	}
	return out
}

func TestQueueCheckBreachAndRecovery(t *testing.T) {
	source := &fakeSource{ready: someBeads(6)} // above QUEUE_LOW=5
	m, _, paths := testMonitor(t, source)

	if err := m.QueueCheck(context.Background()); err != nil {
		t.Fatal(err)
	}

	events := queueEvents(t, paths)
	if len(events) != 1 || events[0].Event != activity.EventThresholdBreach {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Payload["level"] != "low" || events[0].Payload["depth"] != "6" {
		t.Errorf("payload = %v", events[0].Payload)
	}
	flag, err := os.ReadFile(paths.QueueAlertFlag())
	if err != nil {
		t.Fatalf("alert flag missing: %v", err)
	}
	if strings.TrimSpace(string(flag)) != "low|6" {
		t.Errorf("flag = %q", flag)
	}

	// Staying at the same level emits nothing new.
	if err := m.QueueCheck(context.Background()); err != nil {
		t.Fatal(err)
	}
	if events := queueEvents(t, paths); len(events) != 1 {
		t.Errorf("steady state added events: %+v", events)
	}

	// Dropping back to normal records recovery and clears the flag.
	source.ready = someBeads(2)
	if err := m.QueueCheck(context.Background()); err != nil {
		t.Fatal(err)
	}
	events = queueEvents(t, paths)
	if len(events) != 2 || events[1].Event != activity.EventRecovered {
		t.Fatalf("events = %+v", events)
	}
	if _, err := os.Stat(paths.QueueAlertFlag()); !os.IsNotExist(err) {
		t.Error("alert flag should be cleared on recovery")
	}
}

func TestQueueCheckNormalIsQuiet(t *testing.T) {
	m, _, paths := testMonitor(t, &fakeSource{ready: someBeads(2)})
	if err := m.QueueCheck(context.Background()); err != nil {
		t.Fatal(err)
	}
	if events := queueEvents(t, paths); len(events) != 0 {
		t.Errorf("normal depth should emit nothing, got %+v", events)
	}
}

func TestQueueCheckRefreshesHeartbeats(t *testing.T) {
	m, reg, paths := testMonitor(t, &fakeSource{})
	if _, err := reg.Register("BlueLake", "backend"); err != nil {
		t.Fatal(err)
	}
	if err := reg.BindPane("%1", "BlueLake", "backend"); err != nil {
		t.Fatal(err)
	}
	// Registered but unbound: no heartbeat.
	if _, err := reg.Register("Unbound", "docs"); err != nil {
		t.Fatal(err)
	}

	if err := m.QueueCheck(context.Background()); err != nil {
		t.Fatal(err)
	}

	beats, err := activity.NewLog(paths.HeartbeatsLog()).All()
	if err != nil {
		t.Fatal(err)
	}
	if len(beats) != 1 || beats[0].Agent != "BlueLake" || beats[0].Event != activity.EventHeartbeat {
		t.Errorf("heartbeats = %+v", beats)
	}
}

func TestHealthCheckStuckTasks(t *testing.T) {
	now := time.Now().UTC()
	source := &fakeSource{
		inProgress: []beads.Bead{
			{ID: "bd-stuck", Updated: now.Add(-3 * time.Hour)},
			{ID: "bd-fine", Updated: now.Add(-10 * time.Minute)},
			{ID: "bd-nots"}, // no update timestamp: never flagged
		},
	}
	m, _, paths := testMonitor(t, source)

	if err := m.HealthCheck(context.Background()); err != nil {
		t.Fatal(err)
	}

	events := queueEvents(t, paths)
	if len(events) != 1 || events[0].Event != activity.EventStuckTasks {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Payload["subjects"] != "bd-stuck" {
		t.Errorf("subjects = %q", events[0].Payload["subjects"])
	}

	flag, err := os.ReadFile(paths.HealthAlertFlag())
	if err != nil {
		t.Fatalf("health flag missing: %v", err)
	}
	if strings.TrimSpace(string(flag)) != "stuck_tasks|bd-stuck" {
		t.Errorf("flag = %q", flag)
	}
}

func TestHealthCheckHealthyIsQuiet(t *testing.T) {
	m, _, paths := testMonitor(t, &fakeSource{})
	if err := m.HealthCheck(context.Background()); err != nil {
		t.Fatal(err)
	}
	if events := queueEvents(t, paths); len(events) != 0 {
		t.Errorf("events = %+v", events)
	}
	if _, err := os.Stat(paths.HealthAlertFlag()); !os.IsNotExist(err) {
		t.Error("no health flag expected")
	}
}

func TestHungAgents(t *testing.T) {
	m, reg, paths := testMonitor(t, &fakeSource{})
	if _, err := reg.Register("Silent", "backend"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Register("Beating", "backend"); err != nil {
		t.Fatal(err)
	}
	if err := activity.NewLog(paths.HeartbeatsLog()).Record(activity.EventHeartbeat, "Beating", nil); err != nil {
		t.Fatal(err)
	}

	threshold := 30 * time.Minute
	now := time.Now().UTC()

	// Fresh registrations without a heartbeat get the full threshold as a
	// grace window.
	if hung := m.hungAgents(now, threshold); len(hung) != 0 {
		t.Errorf("hung = %v, want none inside the grace window", hung)
	}

	// Backdate the silent agent past the threshold.
	backdateInstance(t, paths, "Silent", "backend", now.Add(-2*time.Hour))
	hung := m.hungAgents(now, threshold)
	if len(hung) != 1 || hung[0] != "Silent" {
		t.Errorf("hung = %v, want only Silent", hung)
	}
}

// backdateInstance rewrites an instance record with an old registration time.
func backdateInstance(t *testing.T, paths config.Paths, name, agentType string, ts time.Time) {
	t.Helper()
	inst := registry.Instance{Name: name, Type: agentType, RegisteredAt: ts, Status: "active"}
	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(paths.InstanceFile(name), data, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestReadStatusStopped(t *testing.T) {
	paths := config.NewPaths(t.TempDir())
	if err := paths.EnsureDirs(); err != nil {
		t.Fatal(err)
	}

	status, err := ReadStatus(paths)
	if err != nil {
		t.Fatal(err)
	}
	if status.Running {
		t.Error("no daemon should read as running")
	}

	// A persisted state file fills in the last tick and level.
	state := `{"pid": 1234, "last_tick": "2026-08-24T10:00:00Z", "last_level": "high"}`
	if err := os.WriteFile(paths.MonitorStateFile(), []byte(state), 0644); err != nil {
		t.Fatal(err)
	}
	status, err = ReadStatus(paths)
	if err != nil {
		t.Fatal(err)
	}
	if status.LastLevel != "high" || status.LastTick.IsZero() {
		t.Errorf("status = %+v", status)
	}
}
