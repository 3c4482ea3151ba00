package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/util"
)

// Sentinel errors for registry operations.
var (
	// ErrInvalidType indicates a type not present in the catalog.
	ErrInvalidType = errors.New("invalid agent type")

	// ErrConflict indicates the same agent name bound to two live panes,
	// or a registration that disagrees with an existing one.
	ErrConflict = errors.New("registry conflict")

	// ErrNotFound indicates an unknown agent name.
	ErrNotFound = errors.New("agent not found")
)

// Instance is one registered agent. An instance file exists iff the agent
// is considered registered.
type Instance struct {
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	RegisteredAt time.Time `json:"registered_at"`
	Status       string    `json:"status"` // active, inactive
}

// Identity is the per-pane identity record stored in panes/.
type Identity struct {
	Pane          string `json:"pane"`
	AgentMailName string `json:"agent_mail_name"`
	Type          string `json:"type"`
	ProjectRoot   string `json:"project_root,omitempty"`
}

// PaneLister is the slice of the multiplexer client the registry needs.
type PaneLister interface {
	ListPanes() ([]Pane, error)
}

// Pane mirrors the multiplexer pane fields the registry reads.
type Pane struct {
	ID        string
	AgentName string
}

// Registry manages instances and pane bindings under one project root.
type Registry struct {
	paths   config.Paths
	catalog *Catalog
	panes   PaneLister
}

// New creates a Registry. panes may be nil for operations that do not need
// liveness (registration, catalog queries).
func New(paths config.Paths, catalog *Catalog, panes PaneLister) *Registry {
	return &Registry{paths: paths, catalog: catalog, panes: panes}
}

// Catalog returns the type catalog.
func (r *Registry) Catalog() *Catalog { return r.catalog }

// Register creates (or re-confirms) an instance. Registering an existing
// (name, type) pair is idempotent; the same name under a different type is
// a conflict.
func (r *Registry) Register(name, agentType string) (*Instance, error) {
	if name == "" {
		return nil, fmt.Errorf("agent name required")
	}
	if !r.catalog.Validate(agentType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, agentType)
	}

	if existing, err := r.Get(name); err == nil {
		if existing.Type != agentType {
			return nil, fmt.Errorf("%w: %s already registered as type %s", ErrConflict, name, existing.Type)
		}
		return existing, nil
	}

	inst := &Instance{
		Name:         name,
		Type:         agentType,
		RegisteredAt: time.Now().UTC(),
		Status:       "active",
	}
	if err := r.writeInstance(inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// Unregister removes an instance. Absence is a warning for the caller, not
// a failure: the bool reports whether anything was removed.
func (r *Registry) Unregister(name string) (bool, error) {
	path := r.paths.InstanceFile(name)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("unregistering %s: %w", name, err)
	}
	return true, nil
}

// Get returns one instance by name.
func (r *Registry) Get(name string) (*Instance, error) {
	data, err := os.ReadFile(r.paths.InstanceFile(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("reading instance %s: %w", name, err)
	}
	var inst Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("parsing instance %s: %w", name, err)
	}
	return &inst, nil
}

// Active returns all registered instances with status active, sorted by
// name.
func (r *Registry) Active() ([]Instance, error) {
	entries, err := os.ReadDir(r.paths.InstancesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing instances: %w", err)
	}

	var out []Instance
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		inst, err := r.Get(name)
		if err != nil {
			continue // Skip unreadable records
		}
		if inst.Status == "active" {
			out = append(out, *inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ActiveByType returns active instances of one type.
func (r *Registry) ActiveByType(agentType string) ([]Instance, error) {
	all, err := r.Active()
	if err != nil {
		return nil, err
	}
	var out []Instance
	for _, inst := range all {
		if inst.Type == agentType {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (r *Registry) writeInstance(inst *Instance) error {
	if err := os.MkdirAll(r.paths.InstancesDir(), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling instance %s: %w", inst.Name, err)
	}
	return util.AtomicWriteFile(r.paths.InstanceFile(inst.Name), append(data, '\n'), 0644)
}

// BindPane writes the pane identity and fast-lookup name file for a pane.
// A live pane already bound to a different name is a conflict; the system
// never silently rebinds.
func (r *Registry) BindPane(paneID, agentName, agentType string) error {
	safe := util.SafePane(paneID)

	if existing, err := r.IdentityFor(paneID); err == nil && existing.AgentMailName != agentName {
		return fmt.Errorf("%w: pane %s already bound to %s", ErrConflict, paneID, existing.AgentMailName)
	}

	ident := Identity{
		Pane:          paneID,
		AgentMailName: agentName,
		Type:          agentType,
		ProjectRoot:   r.paths.Root,
	}
	data, err := json.MarshalIndent(ident, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling identity for %s: %w", paneID, err)
	}
	if err := os.MkdirAll(r.paths.PanesDir(), 0755); err != nil {
		return err
	}
	if err := util.AtomicWriteFile(r.paths.IdentityFile(safe), append(data, '\n'), 0644); err != nil {
		return err
	}
	if err := os.MkdirAll(r.paths.PidsDir(), 0755); err != nil {
		return err
	}
	return util.AtomicWriteFile(r.paths.AgentNameFile(safe), []byte(agentName+"\n"), 0644)
}

// UnbindPane removes the pane's name file and archives its identity file.
// Missing files are fine.
func (r *Registry) UnbindPane(paneID string) error {
	safe := util.SafePane(paneID)

	if err := os.Remove(r.paths.AgentNameFile(safe)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing name file for %s: %w", paneID, err)
	}
	return r.archiveIdentity(safe)
}

// IdentityFor reads the identity bound to a pane.
func (r *Registry) IdentityFor(paneID string) (*Identity, error) {
	safe := util.SafePane(paneID)
	data, err := os.ReadFile(r.paths.IdentityFile(safe))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no identity for pane %s", ErrNotFound, paneID)
		}
		return nil, err
	}
	var ident Identity
	if err := json.Unmarshal(data, &ident); err != nil {
		return nil, fmt.Errorf("parsing identity for %s: %w", paneID, err)
	}
	return &ident, nil
}

// archiveIdentity moves an identity file to panes/archive/ with a timestamp
// suffix so session resurrection can restore context later.
func (r *Registry) archiveIdentity(safe string) error {
	src := r.paths.IdentityFile(safe)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := os.MkdirAll(r.paths.PanesArchiveDir(), 0755); err != nil {
		return err
	}
	dst := filepath.Join(r.paths.PanesArchiveDir(),
		fmt.Sprintf("%s.identity.%d", safe, time.Now().Unix()))
	return os.Rename(src, dst)
}
