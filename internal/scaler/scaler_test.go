package scaler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/droverhq/drover/internal/activity"
	"github.com/droverhq/drover/internal/beads"
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/history"
	"github.com/droverhq/drover/internal/registry"
)

type fakeBeads struct {
	ready []beads.Bead
}

func (f fakeBeads) Ready(context.Context) ([]beads.Bead, error) { return f.ready, nil }

type harness struct {
	scaler   *Scaler
	registry *registry.Registry
	log      *activity.Log
	paths    config.Paths
	spawned  []string // "type:count"
	torn     []string
}

func newHarness(t *testing.T, th config.Thresholds, ready []beads.Bead) *harness {
	t.Helper()
	paths := config.NewPaths(t.TempDir())
	catalog, err := registry.LoadCatalog(paths.TypesCatalog())
	if err != nil {
		t.Fatal(err)
	}
	reg := registry.New(paths, catalog, nil)
	actLog := activity.NewLog(paths.ActivityLog())
	tracker := history.NewTracker(paths.ActiveTrackingLog(), paths.PerformanceLog())

	h := &harness{registry: reg, log: actLog, paths: paths}
	spawn := func(_ context.Context, agentType string, n int) error {
		h.spawned = append(h.spawned, fmt.Sprintf("%s:%d", agentType, n))
		for i := 0; i < n; i++ {
			if _, err := reg.Register(fmt.Sprintf("Spawned-%s-%d", agentType, len(h.spawned)*10+i), agentType); err != nil {
				return err
			}
		}
		return nil
	}
	teardown := func(_ context.Context, agent string) error {
		h.torn = append(h.torn, agent)
		_, err := reg.Unregister(agent)
		return err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.scaler = New(th, fakeBeads{ready: ready}, reg, tracker, actLog, spawn, teardown, logger)
	return h
}

func readyBeads(n int) []beads.Bead {
	out := make([]beads.Bead, n)
	for i := range out {
		out[i] = beads.Bead{ID: fmt.Sprintf("bd-%d", i), Title: "api work", Labels: []string{"backend"}}
	}
	return out
}

func defaultThresholds() config.Thresholds {
	return config.Thresholds{
		ScaleUpThreshold: 2.0,
		MaxAgents:        8,
		MinAgents:        1,
		IdleTimeout:      15 * time.Minute,
		CheckInterval:    time.Minute,
	}
}

func TestTickScalesUp(t *testing.T) {
	h := newHarness(t, defaultThresholds(), readyBeads(12))
	for i := 0; i < 2; i++ {
		if _, err := h.registry.Register(fmt.Sprintf("Worker%d", i), "backend"); err != nil {
			t.Fatal(err)
		}
	}

	report, err := h.scaler.TickReportable(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Spawned != 2 || report.SpawnedType != "backend" {
		t.Errorf("report = %+v", report)
	}
	if len(h.spawned) != 1 || h.spawned[0] != "backend:2" {
		t.Errorf("spawn calls = %v", h.spawned)
	}
}

func TestTickReclampsAgainstCapacity(t *testing.T) {
	th := defaultThresholds()
	th.MaxAgents = 3
	h := newHarness(t, th, readyBeads(20))
	for i := 0; i < 2; i++ {
		if _, err := h.registry.Register(fmt.Sprintf("Worker%d", i), "backend"); err != nil {
			t.Fatal(err)
		}
	}

	report, err := h.scaler.TickReportable(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Spawned != 1 {
		t.Errorf("spawned = %d, want clamped to 1", report.Spawned)
	}
}

func TestTickAtCapacityDoesNothing(t *testing.T) {
	th := defaultThresholds()
	th.MaxAgents = 2
	h := newHarness(t, th, readyBeads(20))
	for i := 0; i < 2; i++ {
		if _, err := h.registry.Register(fmt.Sprintf("Worker%d", i), "backend"); err != nil {
			t.Fatal(err)
		}
	}

	report, err := h.scaler.TickReportable(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Spawned != 0 || len(h.spawned) != 0 {
		t.Errorf("report = %+v, spawns = %v", report, h.spawned)
	}
}

func TestTickTearsDownIdleAgents(t *testing.T) {
	h := newHarness(t, defaultThresholds(), nil)

	// Three agents registered long ago; one has recent activity.
	for _, name := range []string{"Busy", "IdleA", "IdleB"} {
		if _, err := h.registry.Register(name, "backend"); err != nil {
			t.Fatal(err)
		}
	}
	backdateRegistrations(t, h, time.Now().Add(-time.Hour))
	if err := h.log.Record(activity.EventClaim, "Busy", nil); err != nil {
		t.Fatal(err)
	}

	report, err := h.scaler.TickReportable(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// MinAgents=1 keeps the fleet from draining completely: with Busy
	// protected by activity, both idlers cannot go.
	if len(report.TornDown) != 2 {
		t.Errorf("torn down = %v", report.TornDown)
	}
	for _, name := range report.TornDown {
		if name == "Busy" {
			t.Error("recently active agent must not be torn down")
		}
	}

	active, err := h.registry.Active()
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].Name != "Busy" {
		t.Errorf("remaining = %+v", active)
	}
}

func TestCheckIdleRespectsMinAgents(t *testing.T) {
	th := defaultThresholds()
	th.MinAgents = 2
	h := newHarness(t, th, nil)
	for _, name := range []string{"A", "B"} {
		if _, err := h.registry.Register(name, "backend"); err != nil {
			t.Fatal(err)
		}
	}
	backdateRegistrations(t, h, time.Now().Add(-time.Hour))

	torn, err := h.scaler.CheckIdle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(torn) != 0 {
		t.Errorf("torn = %v, fleet is already at the floor", torn)
	}
}

func TestCheckIdleSparesFreshAgents(t *testing.T) {
	th := defaultThresholds()
	th.MinAgents = 0
	h := newHarness(t, th, nil)
	// Just registered, no activity yet: inside the idle window.
	if _, err := h.registry.Register("Fresh", "backend"); err != nil {
		t.Fatal(err)
	}

	torn, err := h.scaler.CheckIdle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(torn) != 0 {
		t.Errorf("torn = %v, fresh agents get time to start", torn)
	}
}

func TestParseScaleUp(t *testing.T) {
	n, agentType, err := parseScaleUp("scale-up:3:backend")
	if err != nil || n != 3 || agentType != "backend" {
		t.Errorf("parseScaleUp = %d, %q, %v", n, agentType, err)
	}
	for _, bad := range []string{"scale-up:3", "scale-up:x:backend", "scale-up:0:backend"} {
		if _, _, err := parseScaleUp(bad); err == nil {
			t.Errorf("parseScaleUp(%q) should fail", bad)
		}
	}
}

// backdateRegistrations rewrites RegisteredAt on disk so idle checks see
// long-lived agents.
func backdateRegistrations(t *testing.T, h *harness, ts time.Time) {
	t.Helper()
	active, err := h.registry.Active()
	if err != nil {
		t.Fatal(err)
	}
	for _, inst := range active {
		inst.RegisteredAt = ts.UTC()
		data, err := json.MarshalIndent(inst, "", "  ")
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(h.paths.InstanceFile(inst.Name), data, 0644); err != nil {
			t.Fatal(err)
		}
	}
}
