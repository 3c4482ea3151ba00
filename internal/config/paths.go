// Package config resolves the control plane's on-disk layout, thresholds,
// and environment overrides for a project root.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Paths describes the fixed filesystem layout under a project root. The
// layout is a migration contract shared with out-of-process tooling; do not
// relocate files without coordinating with the shell-side consumers.
type Paths struct {
	Root string
}

// NewPaths builds the layout for a project root. An empty root resolves to
// the current working directory.
func NewPaths(root string) Paths {
	if root == "" {
		if wd, err := os.Getwd(); err == nil {
			root = wd
		}
	}
	return Paths{Root: root}
}

// PidsDir holds per-pane name files, monitor PID files, and swarm state.
func (p Paths) PidsDir() string { return filepath.Join(p.Root, "pids") }

// PanesDir holds per-pane identity files.
func (p Paths) PanesDir() string { return filepath.Join(p.Root, "panes") }

// PanesArchiveDir holds archived identity files from dead panes.
func (p Paths) PanesArchiveDir() string { return filepath.Join(p.PanesDir(), "archive") }

// BeadsDir holds shared JSONL logs, flags, and the thresholds config.
func (p Paths) BeadsDir() string { return filepath.Join(p.Root, ".beads") }

// ProfilesDir holds the agent type catalog and instance records.
func (p Paths) ProfilesDir() string { return filepath.Join(p.Root, ".agent-profiles") }

// TypesCatalog is the AgentType catalog file.
func (p Paths) TypesCatalog() string { return filepath.Join(p.ProfilesDir(), "types.yaml") }

// InstancesDir holds one JSON record per registered agent.
func (p Paths) InstancesDir() string { return filepath.Join(p.ProfilesDir(), "instances") }

// InstanceFile is the record for one agent name.
func (p Paths) InstanceFile(name string) string {
	return filepath.Join(p.InstancesDir(), name+".json")
}

// IdentityFile is the per-pane identity JSON for a SAFE_PANE token.
func (p Paths) IdentityFile(safePane string) string {
	return filepath.Join(p.PanesDir(), safePane+".identity")
}

// AgentNameFile is the per-pane fast-lookup name file.
func (p Paths) AgentNameFile(safePane string) string {
	return filepath.Join(p.PidsDir(), safePane+".agent-name")
}

// SwarmStateFile is the live state file for a swarm.
func (p Paths) SwarmStateFile(swarm string) string {
	return filepath.Join(p.PidsDir(), "swarm-"+swarm+".state")
}

// ThresholdsConf is the KEY=value monitor/scaler configuration.
func (p Paths) ThresholdsConf() string {
	return filepath.Join(p.BeadsDir(), "queue-thresholds.conf")
}

// ActivityLog is the shared append-only activity event stream.
func (p Paths) ActivityLog() string { return filepath.Join(p.BeadsDir(), "agent-activity.jsonl") }

// QueueEventsLog records monitor threshold and health events.
func (p Paths) QueueEventsLog() string { return filepath.Join(p.BeadsDir(), "queue-events.jsonl") }

// HeartbeatsLog records per-agent heartbeats.
func (p Paths) HeartbeatsLog() string { return filepath.Join(p.BeadsDir(), "agent-heartbeats.jsonl") }

// PerformanceLog records completed task history.
func (p Paths) PerformanceLog() string { return filepath.Join(p.BeadsDir(), "agent-performance.jsonl") }

// ActiveTrackingLog records in-flight task claims.
func (p Paths) ActiveTrackingLog() string {
	return filepath.Join(p.BeadsDir(), "active-task-tracking.jsonl")
}

// QueueAlertFlag exists while a queue threshold breach is active.
func (p Paths) QueueAlertFlag() string { return filepath.Join(p.BeadsDir(), "queue-alert.flag") }

// HealthAlertFlag carries the latest stuck/hung alert for external restarts.
func (p Paths) HealthAlertFlag() string {
	return filepath.Join(p.BeadsDir(), "agent-health-alert.flag")
}

// MailReadLog records locally-read message hashes. Read state is per host
// and never reconciled across machines.
func (p Paths) MailReadLog() string { return filepath.Join(p.BeadsDir(), "mail-read.jsonl") }

// NudgeCooldownLog records idle-agent nudges for cooldown enforcement.
func (p Paths) NudgeCooldownLog() string { return filepath.Join(p.BeadsDir(), "nudge-cooldowns.jsonl") }

// PendingDir holds reservation pending-requester files.
func (p Paths) PendingDir() string { return filepath.Join(p.BeadsDir(), "reserve-pending") }

// MonitorPIDFile records the queue monitor daemon PID.
func (p Paths) MonitorPIDFile() string { return filepath.Join(p.PidsDir(), "queue-monitor.pid") }

// MonitorLockFile is the flock guard against concurrent monitor starts.
func (p Paths) MonitorLockFile() string { return filepath.Join(p.PidsDir(), "queue-monitor.lock") }

// MonitorStateFile records the monitor's last tick for restart safety.
func (p Paths) MonitorStateFile() string { return filepath.Join(p.PidsDir(), "queue-monitor.state") }

// ProductMarker is the optional product uid marker enabling cross-repo
// reservation semantics.
func (p Paths) ProductMarker() string { return filepath.Join(p.Root, ".agent-mail-project-id") }

// ProductUID reads the product marker, returning "" when absent.
func (p Paths) ProductUID() string {
	data, err := os.ReadFile(p.ProductMarker())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// EnsureDirs creates the state directories the control plane writes to.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{
		p.PidsDir(), p.PanesDir(), p.PanesArchiveDir(),
		p.BeadsDir(), p.ProfilesDir(), p.InstancesDir(), p.PendingDir(),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// Slug derives the mail-service project slug from an absolute project path:
// lowercase with path separators collapsed to dashes.
func Slug(projectKey string) string {
	s := strings.ToLower(projectKey)
	s = strings.Trim(s, "/")
	s = strings.NewReplacer("/", "-", " ", "-", "_", "-").Replace(s)
	return s
}
