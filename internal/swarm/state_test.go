package swarm

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/droverhq/drover/internal/config"
)

func TestStateRoundTrip(t *testing.T) {
	paths := config.NewPaths(t.TempDir())
	state := &State{
		Session:   "myproject",
		BatchID:   "batch-1",
		Count:     2,
		AgentType: "backend",
		SpawnTime: time.Now().UTC().Truncate(time.Second),
		Agents: []Member{
			{Index: 0, Name: "BlueLake", PaneID: "%1"},
			{Index: 1, Name: "GreenCastle", PaneID: "%2"},
		},
	}
	if err := WriteState(paths, state); err != nil {
		t.Fatalf("WriteState failed: %v", err)
	}

	got, err := ReadState(paths, "myproject")
	if err != nil {
		t.Fatalf("ReadState failed: %v", err)
	}
	if got.BatchID != "batch-1" || len(got.Agents) != 2 || got.Agents[1].Name != "GreenCastle" {
		t.Errorf("state = %+v", got)
	}
}

func TestReadStateMissing(t *testing.T) {
	paths := config.NewPaths(t.TempDir())
	if _, err := ReadState(paths, "nope"); err == nil {
		t.Error("missing state should fail")
	}
}

func TestArchiveState(t *testing.T) {
	paths := config.NewPaths(t.TempDir())
	if err := WriteState(paths, &State{Session: "myproject"}); err != nil {
		t.Fatal(err)
	}

	if err := ArchiveState(paths, "myproject"); err != nil {
		t.Fatalf("ArchiveState failed: %v", err)
	}
	if _, err := ReadState(paths, "myproject"); err == nil {
		t.Error("archived state should no longer be live")
	}
	// The record is renamed, never deleted.
	matches, _ := filepath.Glob(filepath.Join(paths.PidsDir(), "swarm-myproject.state.*.done"))
	if len(matches) != 1 {
		t.Errorf("archive files = %v", matches)
	}

	// Archiving a missing state is a no-op.
	if err := ArchiveState(paths, "ghost"); err != nil {
		t.Errorf("archiving missing state: %v", err)
	}
}

func TestListStates(t *testing.T) {
	paths := config.NewPaths(t.TempDir())
	if err := WriteState(paths, &State{Session: "alpha"}); err != nil {
		t.Fatal(err)
	}
	if err := WriteState(paths, &State{Session: "beta"}); err != nil {
		t.Fatal(err)
	}
	// Corrupt files are skipped.
	if err := os.WriteFile(paths.SwarmStateFile("broken"), []byte("{nope"), 0644); err != nil {
		t.Fatal(err)
	}

	states, err := ListStates(paths)
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 2 {
		t.Errorf("states = %+v", states)
	}
}
