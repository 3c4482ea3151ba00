package swarm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/droverhq/drover/internal/activity"
	"github.com/droverhq/drover/internal/broadcast"
	"github.com/droverhq/drover/internal/history"
)

// TeardownOptions controls a teardown run.
type TeardownOptions struct {
	Force bool
	Grace time.Duration // pause between shutdown notice and pane kill
}

// TeardownReport summarizes a completed teardown.
type TeardownReport struct {
	Target     string        `json:"target"`
	Agents     []string      `json:"agents"`
	Duration   time.Duration `json:"duration"`
	Completed  int           `json:"completed"`
	InProgress int           `json:"in_progress"`
	Efficiency float64       `json:"efficiency"`
	Warnings   []string      `json:"warnings,omitempty"`
}

// ErrPrecheckFailed indicates work would be abandoned; pass force to
// proceed anyway.
var ErrPrecheckFailed = errors.New("teardown pre-check failed")

// Teardown dismantles a swarm by name, or a single agent when no swarm
// state matches the target. Every step after the pre-checks is tolerant:
// missing panes, absent reservations, and mail failures log and continue.
// The only fatal condition is an unreadable swarm state when the target
// names one.
func (m *Manager) Teardown(ctx context.Context, target string, tracker *history.Tracker, router *broadcast.Router, opts TeardownOptions) (*TeardownReport, error) {
	started := time.Now()
	report := &TeardownReport{Target: target}

	members, isSwarm, err := m.resolveTarget(target)
	if err != nil {
		return nil, err
	}
	for _, mem := range members {
		report.Agents = append(report.Agents, mem.Name)
	}

	if !opts.Force {
		if err := m.precheck(ctx, members, tracker); err != nil {
			return report, err
		}
	}

	// 1. Release every reservation held by departing agents.
	for _, mem := range members {
		own, err := m.mailer.ListReservations(ctx, m.paths.Root, mem.Name)
		if err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: listing reservations: %v", mem.Name, err))
			continue
		}
		if len(own) == 0 {
			continue
		}
		ids := make([]int, 0, len(own))
		for _, r := range own {
			ids = append(ids, r.ID)
		}
		if err := m.mailer.ReleaseReservations(ctx, m.paths.Root, mem.Name, nil, ids); err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: releasing reservations: %v", mem.Name, err))
		}
	}

	// 2. Shutdown notice to the team before any pane dies.
	if router != nil {
		recipients := make([]broadcast.Recipient, 0, len(members))
		for _, mem := range members {
			recipients = append(recipients, broadcast.Recipient{
				Agent:       mem.Name,
				PaneID:      mem.PaneID,
				ProjectRoot: m.paths.Root,
			})
		}
		_, ok := router.Send(ctx, broadcast.Request{
			Recipients: recipients,
			Subject:    fmt.Sprintf("shutdown: %s", target),
			Body:       "This agent group is being torn down. Finish or hand off current work now.",
			Sender:     "SystemNotify",
		})
		if !ok {
			report.Warnings = append(report.Warnings, "shutdown notice did not reach every agent")
		}
	}

	if opts.Grace > 0 {
		time.Sleep(opts.Grace)
	}

	// 3. Kill panes, unbind, unregister.
	for _, mem := range members {
		if mem.PaneID != "" {
			if err := m.mux.KillPane(mem.PaneID); err != nil {
				report.Warnings = append(report.Warnings, fmt.Sprintf("%s: killing pane %s: %v", mem.Name, mem.PaneID, err))
			}
			if err := m.registry.UnbindPane(mem.PaneID); err != nil {
				report.Warnings = append(report.Warnings, fmt.Sprintf("%s: unbinding pane: %v", mem.Name, err))
			}
		}
		if _, err := m.registry.Unregister(mem.Name); err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: unregistering: %v", mem.Name, err))
		}
		if err := m.log.Record(activity.EventTeardown, mem.Name, map[string]string{"target": target}); err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: activity log: %v", mem.Name, err))
		}
		m.slog.Info("tore down agent", "agent", mem.Name, "target", target)
	}

	// 4. Archive the state file; don't delete history.
	if isSwarm {
		if err := ArchiveState(m.paths, target); err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("archiving state: %v", err))
		}
	}

	// 5. Efficiency from the performance tracker.
	if tracker != nil {
		report.Completed, report.InProgress = m.workCounts(members, tracker, report)
		if total := report.Completed + report.InProgress; total > 0 {
			report.Efficiency = float64(report.Completed) / float64(total)
		}
	}

	report.Duration = time.Since(started)
	return report, nil
}

// resolveTarget maps a target to members: a swarm state file when one
// exists for the name, otherwise a single bound agent.
func (m *Manager) resolveTarget(target string) ([]Member, bool, error) {
	state, err := ReadState(m.paths, target)
	if err == nil {
		return state.Agents, true, nil
	}

	idents, ierr := m.registry.Identities()
	if ierr == nil {
		for _, id := range idents {
			if id.AgentMailName == target {
				return []Member{{Name: target, PaneID: id.Pane}}, false, nil
			}
		}
	}
	// Registered but pane-less agents can still be torn down.
	if _, gerr := m.registry.Get(target); gerr == nil {
		return []Member{{Name: target}}, false, nil
	}
	return nil, false, fmt.Errorf("no swarm or agent named %q: %w", target, err)
}

// precheck refuses teardown that would abandon work: in-progress tasks,
// live reservations, or a dirty working tree.
func (m *Manager) precheck(ctx context.Context, members []Member, tracker *history.Tracker) error {
	var blockers []string

	if tracker != nil {
		for _, mem := range members {
			n, err := tracker.InProgressCount(mem.Name)
			if err == nil && n > 0 {
				blockers = append(blockers, fmt.Sprintf("%s has %d in-progress tasks", mem.Name, n))
			}
		}
	}

	for _, mem := range members {
		own, err := m.mailer.ListReservations(ctx, m.paths.Root, mem.Name)
		if err == nil && len(own) > 0 {
			blockers = append(blockers, fmt.Sprintf("%s holds %d reservations", mem.Name, len(own)))
		}
	}

	if dirty, err := repoDirty(m.paths.Root); err == nil && dirty {
		blockers = append(blockers, "working tree has uncommitted changes")
	}

	if len(blockers) > 0 {
		return fmt.Errorf("%w: %s", ErrPrecheckFailed, strings.Join(blockers, "; "))
	}
	return nil
}

// workCounts tallies completed and in-progress tasks for the departing
// agents.
func (m *Manager) workCounts(members []Member, tracker *history.Tracker, report *TeardownReport) (completed, inProgress int) {
	names := make(map[string]bool, len(members))
	for _, mem := range members {
		names[mem.Name] = true
	}

	if completions, err := tracker.Completions(); err == nil {
		for _, rec := range completions {
			if names[rec.Agent] {
				completed++
			}
		}
	} else {
		report.Warnings = append(report.Warnings, fmt.Sprintf("reading completions: %v", err))
	}
	if active, err := tracker.Active(); err == nil {
		for _, rec := range active {
			if names[rec.Agent] {
				inProgress++
			}
		}
	} else {
		report.Warnings = append(report.Warnings, fmt.Sprintf("reading active tracking: %v", err))
	}
	return completed, inProgress
}

// repoDirty reports uncommitted changes in the project root. A missing git
// binary or non-repo root counts as clean.
func repoDirty(root string) (bool, error) {
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = root
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return false, err
	}
	return strings.TrimSpace(out.String()) != "", nil
}
