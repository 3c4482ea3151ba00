package broadcast

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/registry"
)

type fakePanes struct {
	panes []registry.Pane
}

func (f fakePanes) ListPanes() ([]registry.Pane, error) { return f.panes, nil }

func testResolver(t *testing.T, live []registry.Pane) (*Resolver, *registry.Registry) {
	t.Helper()
	paths := config.NewPaths(t.TempDir())
	catalog, err := registry.LoadCatalog(paths.TypesCatalog())
	if err != nil {
		t.Fatal(err)
	}
	reg := registry.New(paths, catalog, fakePanes{panes: live})
	return NewResolver(paths, reg, fakePanes{panes: live}), reg
}

func names(recips []Recipient) []string {
	out := make([]string, len(recips))
	for i, r := range recips {
		out[i] = r.Agent
	}
	return out
}

func TestResolveAll(t *testing.T) {
	r, reg := testResolver(t, nil)
	if err := reg.BindPane("%1", "Zeta", "backend"); err != nil {
		t.Fatal(err)
	}
	if err := reg.BindPane("%2", "Alpha", "docs"); err != nil {
		t.Fatal(err)
	}

	recips, err := r.Resolve("@all")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names(recips), []string{"Alpha", "Zeta"}) {
		t.Errorf("@all = %v, want sorted by name", names(recips))
	}
	if recips[0].PaneID != "%2" {
		t.Errorf("recipient should carry its pane: %+v", recips[0])
	}
}

func TestResolveActiveFiltersDeadPanes(t *testing.T) {
	r, reg := testResolver(t, []registry.Pane{{ID: "%1"}})
	if err := reg.BindPane("%1", "Alive", "backend"); err != nil {
		t.Fatal(err)
	}
	if err := reg.BindPane("%9", "Dead", "backend"); err != nil {
		t.Fatal(err)
	}

	recips, err := r.Resolve("@active")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names(recips), []string{"Alive"}) {
		t.Errorf("@active = %v", names(recips))
	}
}

func TestResolveByType(t *testing.T) {
	r, reg := testResolver(t, []registry.Pane{{ID: "%1"}, {ID: "%2"}})
	if err := reg.BindPane("%1", "BlueLake", "backend"); err != nil {
		t.Fatal(err)
	}
	if err := reg.BindPane("%2", "AmberPeak", "docs"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Register("BlueLake", "backend"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Register("AmberPeak", "docs"); err != nil {
		t.Fatal(err)
	}

	recips, err := r.Resolve("@type:backend")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names(recips), []string{"BlueLake"}) {
		t.Errorf("@type:backend = %v", names(recips))
	}
}

func TestResolveCoordinators(t *testing.T) {
	r, reg := testResolver(t, []registry.Pane{{ID: "%1"}, {ID: "%2"}})
	if err := reg.BindPane("%1", "Lead", "coordinator"); err != nil {
		t.Fatal(err)
	}
	if err := reg.BindPane("%2", "Worker", "backend"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Register("Lead", "coordinator"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Register("Worker", "backend"); err != nil {
		t.Fatal(err)
	}

	recips, err := r.Resolve("@coordinators")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names(recips), []string{"Lead"}) {
		t.Errorf("@coordinators = %v", names(recips))
	}
}

func TestResolveSwarm(t *testing.T) {
	r, _ := testResolver(t, nil)
	state := `{"agents":[{"name":"BlueLake","pane_id":"%1"},{"name":"AmberPeak","pane_id":"%2"}]}`
	path := r.paths.SwarmStateFile("swarm-tidy-fox")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(state), 0644); err != nil {
		t.Fatal(err)
	}

	recips, err := r.Resolve("@swarm:swarm-tidy-fox")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names(recips), []string{"BlueLake", "AmberPeak"}) {
		t.Errorf("@swarm = %v", names(recips))
	}
	if recips[0].PaneID != "%1" {
		t.Errorf("swarm recipient pane = %q", recips[0].PaneID)
	}

	if _, err := r.Resolve("@swarm:missing"); err == nil {
		t.Error("unknown swarm should fail")
	}
}

func TestResolveUnknownGroup(t *testing.T) {
	r, _ := testResolver(t, nil)
	if _, err := r.Resolve("@everyone"); err == nil {
		t.Error("unknown group address should fail")
	}
}

func TestResolveCommaList(t *testing.T) {
	r, reg := testResolver(t, nil)
	if err := reg.BindPane("%3", "BlueLake", "backend"); err != nil {
		t.Fatal(err)
	}

	recips, err := r.Resolve("BlueLake, AmberPeak,BlueLake, ")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names(recips), []string{"BlueLake", "AmberPeak"}) {
		t.Errorf("comma list = %v, want insertion order deduplicated", names(recips))
	}
	// Known names resolve their pane; unknown names still deliver by mail.
	if recips[0].PaneID != "%3" {
		t.Errorf("BlueLake pane = %q", recips[0].PaneID)
	}
	if recips[1].PaneID != "" {
		t.Errorf("AmberPeak should have no pane, got %q", recips[1].PaneID)
	}
}

func TestResolveEmptySpec(t *testing.T) {
	r, _ := testResolver(t, nil)
	if _, err := r.Resolve(" , "); err == nil {
		t.Error("empty spec should fail")
	}
}
