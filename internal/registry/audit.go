package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/droverhq/drover/internal/util"
)

// Finding is one audit observation.
type Finding struct {
	Kind    string `json:"kind"`    // duplicate-binding, stale-identity, stale-name-file
	Pane    string `json:"pane,omitempty"`
	Agent   string `json:"agent,omitempty"`
	Detail  string `json:"detail"`
	Fixable bool   `json:"fixable"`
}

// Report is the outcome of a self-audit.
type Report struct {
	Findings []Finding `json:"findings"`
	Fixed    int       `json:"fixed"`
}

// Clean reports whether the audit found nothing.
func (r Report) Clean() bool { return len(r.Findings) == 0 }

// SelfAudit reconciles on-disk bindings against live panes. Duplicate
// bindings are reported but never auto-resolved; stale entries for dead
// panes are fixable. With fix set, provably stale entries are removed
// (identities archived, name files deleted).
func (r *Registry) SelfAudit(fix bool) (*Report, error) {
	if r.panes == nil {
		return nil, fmt.Errorf("self-audit requires a pane lister")
	}
	panes, err := r.panes.ListPanes()
	if err != nil {
		return nil, fmt.Errorf("listing panes: %w", err)
	}

	live := make(map[string]bool, len(panes))
	for _, p := range panes {
		live[p.ID] = true
	}

	report := &Report{}

	// Same agent name bound to two live panes violates the 1:1 invariant.
	byAgent := make(map[string][]string)
	identities, err := r.allIdentities()
	if err != nil {
		return nil, err
	}
	for _, ident := range identities {
		if live[ident.Pane] {
			byAgent[ident.AgentMailName] = append(byAgent[ident.AgentMailName], ident.Pane)
		}
	}
	agents := make([]string, 0, len(byAgent))
	for name := range byAgent {
		agents = append(agents, name)
	}
	sort.Strings(agents)
	for _, name := range agents {
		if ids := byAgent[name]; len(ids) > 1 {
			report.Findings = append(report.Findings, Finding{
				Kind:   "duplicate-binding",
				Agent:  name,
				Detail: fmt.Sprintf("%s bound to live panes %s", name, strings.Join(ids, ", ")),
			})
		}
	}

	// Identity files for dead panes are stale and archivable.
	for _, ident := range identities {
		if live[ident.Pane] {
			continue
		}
		f := Finding{
			Kind:    "stale-identity",
			Pane:    ident.Pane,
			Agent:   ident.AgentMailName,
			Detail:  fmt.Sprintf("identity for dead pane %s (agent %s)", ident.Pane, ident.AgentMailName),
			Fixable: true,
		}
		if fix {
			if err := r.UnbindPane(ident.Pane); err == nil {
				report.Fixed++
			} else {
				f.Detail += fmt.Sprintf(" (fix failed: %v)", err)
			}
		}
		report.Findings = append(report.Findings, f)
	}

	// Name files without a matching identity and a dead pane.
	names, err := r.staleNameFiles(live, identities)
	if err != nil {
		return nil, err
	}
	for _, safe := range names {
		f := Finding{
			Kind:    "stale-name-file",
			Pane:    safe,
			Detail:  fmt.Sprintf("orphan name file for %s", safe),
			Fixable: true,
		}
		if fix {
			if err := os.Remove(r.paths.AgentNameFile(safe)); err == nil {
				report.Fixed++
			} else {
				f.Detail += fmt.Sprintf(" (fix failed: %v)", err)
			}
		}
		report.Findings = append(report.Findings, f)
	}

	return report, nil
}

// Identities returns every pane identity on disk, live or not.
func (r *Registry) Identities() ([]Identity, error) {
	return r.allIdentities()
}

// allIdentities reads every pane identity file, skipping unreadable ones.
func (r *Registry) allIdentities() ([]Identity, error) {
	entries, err := os.ReadDir(r.paths.PanesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing panes dir: %w", err)
	}

	var out []Identity
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".identity") {
			continue
		}
		pane := strings.TrimSuffix(entry.Name(), ".identity")
		ident, err := r.identityBySafe(pane)
		if err != nil {
			continue
		}
		out = append(out, *ident)
	}
	return out, nil
}

func (r *Registry) identityBySafe(safe string) (*Identity, error) {
	data, err := os.ReadFile(r.paths.IdentityFile(safe))
	if err != nil {
		return nil, err
	}
	var ident Identity
	if err := json.Unmarshal(data, &ident); err != nil {
		return nil, err
	}
	return &ident, nil
}

// staleNameFiles finds pids/*.agent-name entries whose pane has no identity
// and is not live.
func (r *Registry) staleNameFiles(live map[string]bool, identities []Identity) ([]string, error) {
	entries, err := os.ReadDir(r.paths.PidsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing pids dir: %w", err)
	}

	known := make(map[string]bool, len(identities))
	for _, ident := range identities {
		known[util.SafePane(ident.Pane)] = true
	}

	var out []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".agent-name") {
			continue
		}
		safe := strings.TrimSuffix(entry.Name(), ".agent-name")
		if known[safe] {
			continue
		}
		if liveBySafe(live, safe) {
			continue
		}
		out = append(out, safe)
	}
	sort.Strings(out)
	return out, nil
}

// liveBySafe checks liveness of a SAFE_PANE token against raw pane ids.
func liveBySafe(live map[string]bool, safe string) bool {
	for id := range live {
		if util.SafePane(id) == safe {
			return true
		}
	}
	return false
}
