// Package broadcast resolves group addresses to recipients and delivers
// messages over two channels: a commented line injected into the agent's
// pane, and durable mail through the agent-mail service.
package broadcast

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/registry"
)

// Recipient is one resolved delivery target.
type Recipient struct {
	Agent       string `json:"agent"`
	PaneID      string `json:"pane_id,omitempty"`
	ProjectRoot string `json:"project_root,omitempty"`
}

// Resolver turns group addresses into recipients.
type Resolver struct {
	paths    config.Paths
	registry *registry.Registry
	panes    registry.PaneLister
}

// NewResolver creates a Resolver.
func NewResolver(paths config.Paths, reg *registry.Registry, panes registry.PaneLister) *Resolver {
	return &Resolver{paths: paths, registry: reg, panes: panes}
}

// Resolve expands a recipient spec: a group address (@all, @active,
// @swarm:<name>, @type:<T>, @coordinators) or a comma-separated list of
// agent names.
func (r *Resolver) Resolve(spec string) ([]Recipient, error) {
	switch {
	case spec == "@all":
		return r.all()
	case spec == "@active":
		return r.active()
	case spec == "@coordinators":
		return r.byRole("coordinator")
	case strings.HasPrefix(spec, "@swarm:"):
		return r.swarm(strings.TrimPrefix(spec, "@swarm:"))
	case strings.HasPrefix(spec, "@type:"):
		return r.byType(strings.TrimPrefix(spec, "@type:"))
	case strings.HasPrefix(spec, "@"):
		return nil, fmt.Errorf("unknown group address %q", spec)
	}

	// Plain comma-separated names.
	var out []Recipient
	seen := make(map[string]bool)
	for _, name := range strings.Split(spec, ",") {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, r.recipient(name))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no recipients in %q", spec)
	}
	return out, nil
}

// all returns every agent with a known identity in the project.
func (r *Resolver) all() ([]Recipient, error) {
	idents, err := r.registry.Identities()
	if err != nil {
		return nil, err
	}
	return dedupe(idents), nil
}

// active returns agents whose bound pane is currently live.
func (r *Resolver) active() ([]Recipient, error) {
	idents, err := r.registry.Identities()
	if err != nil {
		return nil, err
	}
	live, err := r.livePanes()
	if err != nil {
		return nil, err
	}
	var kept []registry.Identity
	for _, id := range idents {
		if live[id.Pane] {
			kept = append(kept, id)
		}
	}
	return dedupe(kept), nil
}

// byType returns active agents of the given catalog type.
func (r *Resolver) byType(agentType string) ([]Recipient, error) {
	recips, err := r.active()
	if err != nil {
		return nil, err
	}
	var out []Recipient
	for _, rec := range recips {
		inst, err := r.registry.Get(rec.Agent)
		if err != nil {
			continue
		}
		if inst.Type == agentType {
			out = append(out, rec)
		}
	}
	return out, nil
}

// byRole returns active agents whose catalog type carries the given role.
func (r *Resolver) byRole(role string) ([]Recipient, error) {
	recips, err := r.active()
	if err != nil {
		return nil, err
	}
	var out []Recipient
	for _, rec := range recips {
		inst, err := r.registry.Get(rec.Agent)
		if err != nil {
			continue
		}
		if t, ok := r.registry.Catalog().Type(inst.Type); ok && t.Role == role {
			out = append(out, rec)
		}
	}
	return out, nil
}

// swarmStateAgents is the slice of the swarm state file this package reads.
type swarmStateAgents struct {
	Agents []struct {
		Name   string `json:"name"`
		PaneID string `json:"pane_id"`
	} `json:"agents"`
}

// swarm returns the agents recorded in a swarm state file.
func (r *Resolver) swarm(name string) ([]Recipient, error) {
	data, err := os.ReadFile(r.paths.SwarmStateFile(name))
	if err != nil {
		return nil, fmt.Errorf("reading swarm %s: %w", name, err)
	}
	var state swarmStateAgents
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing swarm %s: %w", name, err)
	}
	var out []Recipient
	for _, a := range state.Agents {
		out = append(out, Recipient{Agent: a.Name, PaneID: a.PaneID, ProjectRoot: r.paths.Root})
	}
	return out, nil
}

// recipient builds a Recipient for one name, attaching pane and project
// when an identity exists.
func (r *Resolver) recipient(name string) Recipient {
	rec := Recipient{Agent: name, ProjectRoot: r.paths.Root}
	idents, err := r.registry.Identities()
	if err != nil {
		return rec
	}
	for _, id := range idents {
		if id.AgentMailName == name {
			rec.PaneID = id.Pane
			if id.ProjectRoot != "" {
				rec.ProjectRoot = id.ProjectRoot
			}
			break
		}
	}
	return rec
}

func (r *Resolver) livePanes() (map[string]bool, error) {
	panes, err := r.panes.ListPanes()
	if err != nil {
		return nil, err
	}
	live := make(map[string]bool, len(panes))
	for _, p := range panes {
		live[p.ID] = true
	}
	return live, nil
}

func dedupe(idents []registry.Identity) []Recipient {
	seen := make(map[string]bool)
	var out []Recipient
	for _, id := range idents {
		if id.AgentMailName == "" || seen[id.AgentMailName] {
			continue
		}
		seen[id.AgentMailName] = true
		out = append(out, Recipient{
			Agent:       id.AgentMailName,
			PaneID:      id.Pane,
			ProjectRoot: id.ProjectRoot,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Agent < out[j].Agent })
	return out
}
