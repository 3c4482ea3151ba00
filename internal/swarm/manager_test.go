package swarm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/droverhq/drover/internal/activity"
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/history"
	"github.com/droverhq/drover/internal/mail"
	"github.com/droverhq/drover/internal/registry"
)

type fakeMux struct {
	sessions map[string]bool
	nextPane int
	options  map[string]string
	killed   []string
	layouts  int
}

func newFakeMux() *fakeMux {
	return &fakeMux{sessions: make(map[string]bool), options: make(map[string]string)}
}

func (f *fakeMux) SessionExists(session string) bool { return f.sessions[session] }

func (f *fakeMux) NewSession(session, _ string) error {
	f.sessions[session] = true
	return nil
}

func (f *fakeMux) SplitPane(_, _ string) (string, error) {
	f.nextPane++
	return fmt.Sprintf("%%%d", f.nextPane), nil
}

func (f *fakeMux) SetPaneOption(paneID, _, value string) error {
	f.options[paneID] = value
	return nil
}

func (f *fakeMux) KillPane(paneID string) error {
	f.killed = append(f.killed, paneID)
	return nil
}

func (f *fakeMux) ApplyTiledLayout(string) error {
	f.layouts++
	return nil
}

type swarmMailer struct {
	registered   []string
	registerErr  error
	reservations map[string][]mail.FileReservation
	releasedIDs  []int
}

func (m *swarmMailer) EnsureProject(context.Context, string) (*mail.Project, error) {
	return &mail.Project{}, nil
}

func (m *swarmMailer) RegisterAgent(_ context.Context, opts mail.RegisterAgentOptions) (*mail.Agent, error) {
	if m.registerErr != nil {
		return nil, m.registerErr
	}
	m.registered = append(m.registered, opts.Name)
	return &mail.Agent{Name: opts.Name}, nil
}

func (m *swarmMailer) ReleaseReservations(_ context.Context, _, _ string, _ []string, ids []int) error {
	m.releasedIDs = append(m.releasedIDs, ids...)
	return nil
}

func (m *swarmMailer) ListReservations(_ context.Context, _, agentName string) ([]mail.FileReservation, error) {
	return m.reservations[agentName], nil
}

func testManager(t *testing.T) (*Manager, *fakeMux, *swarmMailer, config.Paths) {
	t.Helper()
	paths := config.NewPaths(t.TempDir())
	catalog, err := registry.LoadCatalog(paths.TypesCatalog())
	if err != nil {
		t.Fatal(err)
	}
	reg := registry.New(paths, catalog, nil)
	mux := newFakeMux()
	mailer := &swarmMailer{reservations: make(map[string][]mail.FileReservation)}
	cfg := &config.Config{SpawnDelay: time.Millisecond, DefaultTTL: 1800}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := NewManager(paths, cfg, reg, mux, mailer, activity.NewLog(paths.ActivityLog()), logger)
	return mgr, mux, mailer, paths
}

func testTracker(t *testing.T, paths config.Paths) *history.Tracker {
	t.Helper()
	return history.NewTracker(paths.ActiveTrackingLog(), paths.PerformanceLog())
}

func TestSpawn(t *testing.T) {
	mgr, mux, mailer, paths := testManager(t)

	result, err := mgr.Spawn(context.Background(), "myproject", "backend", 2)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if len(result.State.Agents) != 2 {
		t.Fatalf("agents = %+v", result.State.Agents)
	}
	if result.State.Agents[0].Name == result.State.Agents[1].Name {
		t.Error("agent names must be unique")
	}
	if !mux.sessions["myproject"] {
		t.Error("missing session should be created")
	}
	if mux.layouts != 1 {
		t.Error("layout should be re-tiled once")
	}
	if len(mailer.registered) != 2 {
		t.Errorf("mail registrations = %v", mailer.registered)
	}

	// Durable state and registry entries exist for both members.
	state, err := ReadState(paths, "myproject")
	if err != nil {
		t.Fatalf("state not persisted: %v", err)
	}
	if state.AgentType != "backend" || state.BatchID == "" {
		t.Errorf("state = %+v", state)
	}
	for _, mem := range state.Agents {
		if mux.options[mem.PaneID] != mem.Name {
			t.Errorf("pane %s option = %q, want %q", mem.PaneID, mux.options[mem.PaneID], mem.Name)
		}
	}

	events, err := activity.NewLog(paths.ActivityLog()).All()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].Event != activity.EventSpawn {
		t.Errorf("activity events = %+v", events)
	}
}

func TestSpawnRejectsBadInput(t *testing.T) {
	mgr, _, _, _ := testManager(t)
	if _, err := mgr.Spawn(context.Background(), "s", "backend", 0); err == nil {
		t.Error("zero count should fail")
	}
	if _, err := mgr.Spawn(context.Background(), "s", "wizard", 1); !errors.Is(err, registry.ErrInvalidType) {
		t.Errorf("expected ErrInvalidType, got %v", err)
	}
}

func TestSpawnSkipsTakenNames(t *testing.T) {
	mgr, _, _, _ := testManager(t)
	if _, err := mgr.registry.Register("BlueLake", "backend"); err != nil {
		t.Fatal(err)
	}

	result, err := mgr.Spawn(context.Background(), "s", "backend", 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := result.State.Agents[0].Name; got != "GreenCastle" {
		t.Errorf("name = %q, want the next free pool name", got)
	}
}

func TestSpawnMailFailureIsWarning(t *testing.T) {
	mgr, _, mailer, _ := testManager(t)
	mailer.registerErr = errors.New("service down")

	result, err := mgr.Spawn(context.Background(), "s", "backend", 1)
	if err != nil {
		t.Fatalf("mail failure must not abort the spawn: %v", err)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a mail registration warning")
	}
	if len(result.State.Agents) != 1 {
		t.Errorf("agents = %+v", result.State.Agents)
	}
}

func TestTeardownSwarm(t *testing.T) {
	mgr, mux, _, paths := testManager(t)

	spawned, err := mgr.Spawn(context.Background(), "myproject", "backend", 2)
	if err != nil {
		t.Fatal(err)
	}

	report, err := mgr.Teardown(context.Background(), "myproject", nil, nil, TeardownOptions{})
	if err != nil {
		t.Fatalf("Teardown failed: %v", err)
	}
	if len(report.Agents) != 2 {
		t.Errorf("report agents = %v", report.Agents)
	}
	if len(mux.killed) != 2 {
		t.Errorf("killed panes = %v", mux.killed)
	}

	// Members are unregistered and the state file archived.
	for _, mem := range spawned.State.Agents {
		if _, err := mgr.registry.Get(mem.Name); !errors.Is(err, registry.ErrNotFound) {
			t.Errorf("%s should be unregistered, got %v", mem.Name, err)
		}
	}
	if _, err := ReadState(paths, "myproject"); err == nil {
		t.Error("swarm state should be archived")
	}
	matches, _ := filepath.Glob(filepath.Join(paths.PidsDir(), "swarm-myproject.state.*.done"))
	if len(matches) != 1 {
		t.Errorf("archive = %v", matches)
	}
}

func TestTeardownPrecheckBlocksInProgressWork(t *testing.T) {
	mgr, _, _, paths := testManager(t)
	spawned, err := mgr.Spawn(context.Background(), "myproject", "backend", 1)
	if err != nil {
		t.Fatal(err)
	}
	agent := spawned.State.Agents[0].Name

	tracker := testTracker(t, paths)
	if err := tracker.Start(agent, "bd-1", nil); err != nil {
		t.Fatal(err)
	}

	_, err = mgr.Teardown(context.Background(), "myproject", tracker, nil, TeardownOptions{})
	if !errors.Is(err, ErrPrecheckFailed) {
		t.Fatalf("expected ErrPrecheckFailed, got %v", err)
	}

	// Force overrides the pre-check.
	report, err := mgr.Teardown(context.Background(), "myproject", tracker, nil, TeardownOptions{Force: true})
	if err != nil {
		t.Fatalf("forced teardown failed: %v", err)
	}
	if report.InProgress != 1 || report.Completed != 0 {
		t.Errorf("report = %+v", report)
	}
	if report.Efficiency != 0 {
		t.Errorf("efficiency = %v", report.Efficiency)
	}
}

func TestTeardownPrecheckBlocksHeldReservations(t *testing.T) {
	mgr, _, mailer, _ := testManager(t)
	spawned, err := mgr.Spawn(context.Background(), "myproject", "backend", 1)
	if err != nil {
		t.Fatal(err)
	}
	agent := spawned.State.Agents[0].Name
	mailer.reservations[agent] = []mail.FileReservation{{ID: 4, PathPattern: "src/*", AgentName: agent}}

	if _, err := mgr.Teardown(context.Background(), "myproject", nil, nil, TeardownOptions{}); !errors.Is(err, ErrPrecheckFailed) {
		t.Fatalf("expected ErrPrecheckFailed, got %v", err)
	}

	// Forced teardown releases the reservations on the way out.
	if _, err := mgr.Teardown(context.Background(), "myproject", nil, nil, TeardownOptions{Force: true}); err != nil {
		t.Fatal(err)
	}
	if len(mailer.releasedIDs) != 1 || mailer.releasedIDs[0] != 4 {
		t.Errorf("released ids = %v", mailer.releasedIDs)
	}
}

func TestTeardownSingleAgent(t *testing.T) {
	mgr, mux, _, _ := testManager(t)
	if err := mgr.registry.BindPane("%7", "SoloAgent", "docs"); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.registry.Register("SoloAgent", "docs"); err != nil {
		t.Fatal(err)
	}

	report, err := mgr.Teardown(context.Background(), "SoloAgent", nil, nil, TeardownOptions{})
	if err != nil {
		t.Fatalf("Teardown failed: %v", err)
	}
	if len(report.Agents) != 1 || report.Agents[0] != "SoloAgent" {
		t.Errorf("agents = %v", report.Agents)
	}
	if len(mux.killed) != 1 || mux.killed[0] != "%7" {
		t.Errorf("killed = %v", mux.killed)
	}
}

func TestTeardownUnknownTarget(t *testing.T) {
	mgr, _, _, _ := testManager(t)
	if _, err := mgr.Teardown(context.Background(), "nobody", nil, nil, TeardownOptions{}); err == nil {
		t.Error("unknown target should fail")
	}
}

func TestTeardownEfficiency(t *testing.T) {
	mgr, _, _, paths := testManager(t)
	spawned, err := mgr.Spawn(context.Background(), "myproject", "backend", 1)
	if err != nil {
		t.Fatal(err)
	}
	agent := spawned.State.Agents[0].Name

	tracker := testTracker(t, paths)
	for i := 0; i < 3; i++ {
		taskID := fmt.Sprintf("bd-%d", i)
		if err := tracker.Start(agent, taskID, nil); err != nil {
			t.Fatal(err)
		}
		if i < 2 {
			if _, err := tracker.Complete(agent, taskID, nil); err != nil {
				t.Fatal(err)
			}
		}
	}

	report, err := mgr.Teardown(context.Background(), "myproject", tracker, nil, TeardownOptions{Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if report.Completed != 2 || report.InProgress != 1 {
		t.Fatalf("report = %+v", report)
	}
	want := 2.0 / 3.0
	if diff := report.Efficiency - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("efficiency = %v, want %v", report.Efficiency, want)
	}
}
