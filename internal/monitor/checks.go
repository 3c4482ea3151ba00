package monitor

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/droverhq/drover/internal/activity"
	"github.com/droverhq/drover/internal/beads"
	"github.com/droverhq/drover/internal/broadcast"
)

// QueueCheck polls queue depth, emits threshold transitions, and refreshes
// heartbeats.
func (m *Monitor) QueueCheck(ctx context.Context) error {
	ready, err := m.source.Ready(ctx)
	if err != nil {
		return fmt.Errorf("listing ready beads: %w", err)
	}
	depth := len(ready)

	thresholds := m.Thresholds()
	level := thresholds.Level(depth)

	m.mu.Lock()
	previous := m.lastLevel
	m.lastLevel = level
	m.mu.Unlock()

	switch {
	case previous == "normal" && level != "normal":
		payload := map[string]string{"level": level, "depth": strconv.Itoa(depth)}
		if err := m.queueLog.Record(activity.EventThresholdBreach, "", payload); err != nil {
			m.slog.Warn("recording breach failed", "error", err)
		}
		if err := os.WriteFile(m.paths.QueueAlertFlag(), []byte(level+"|"+strconv.Itoa(depth)+"\n"), 0644); err != nil {
			m.slog.Warn("writing queue alert flag failed", "error", err)
		}
		m.notifyCoordinators(ctx, "[queue-alert] threshold breach",
			fmt.Sprintf("Queue depth is %d (level **%s**). Consider scaling up or triaging.", depth, level))
		m.slog.Info("queue threshold breached", "level", level, "depth", depth)

	case previous != "normal" && level == "normal":
		payload := map[string]string{"level": level, "depth": strconv.Itoa(depth)}
		if err := m.queueLog.Record(activity.EventRecovered, "", payload); err != nil {
			m.slog.Warn("recording recovery failed", "error", err)
		}
		if err := os.Remove(m.paths.QueueAlertFlag()); err != nil && !os.IsNotExist(err) {
			m.slog.Warn("clearing queue alert flag failed", "error", err)
		}
		m.slog.Info("queue recovered", "depth", depth)
	}

	m.refreshHeartbeats()
	m.nudgeIdleAgents(ctx, ready)
	return nil
}

// refreshHeartbeats records a heartbeat for every registered agent whose
// pane is live.
func (m *Monitor) refreshHeartbeats() {
	active, err := m.registry.Active()
	if err != nil {
		m.slog.Warn("listing active agents failed", "error", err)
		return
	}
	idents, err := m.registry.Identities()
	if err != nil {
		return
	}
	bound := make(map[string]bool, len(idents))
	for _, id := range idents {
		bound[id.AgentMailName] = true
	}
	for _, inst := range active {
		if !bound[inst.Name] {
			continue
		}
		if err := m.heartbeats.Record(activity.EventHeartbeat, inst.Name, nil); err != nil {
			m.slog.Warn("recording heartbeat failed", "agent", inst.Name, "error", err)
		}
	}
}

// HealthCheck detects stuck tasks and hung agents.
func (m *Monitor) HealthCheck(ctx context.Context) error {
	thresholds := m.Thresholds()
	now := time.Now().UTC()

	inProgress, err := m.source.InProgress(ctx)
	if err != nil {
		return fmt.Errorf("listing in-progress beads: %w", err)
	}
	var stuck []string
	for _, b := range inProgress {
		if b.Updated.IsZero() {
			continue
		}
		if now.Sub(b.Updated) > thresholds.StuckTaskThreshold {
			stuck = append(stuck, b.ID)
		}
	}
	if len(stuck) > 0 {
		m.raiseHealthAlert(ctx, activity.EventStuckTasks, stuck,
			fmt.Sprintf("%d in-progress tasks have not been updated for over %s: %s",
				len(stuck), thresholds.StuckTaskThreshold, strings.Join(stuck, ", ")))
	}

	hung := m.hungAgents(now, thresholds.HungAgentThreshold)
	if len(hung) > 0 {
		m.raiseHealthAlert(ctx, activity.EventHungAgents, hung,
			fmt.Sprintf("%d agents have sent no heartbeat for over %s: %s",
				len(hung), thresholds.HungAgentThreshold, strings.Join(hung, ", ")))
	}
	return nil
}

// hungAgents lists active agents whose last heartbeat is older than the
// threshold.
func (m *Monitor) hungAgents(now time.Time, threshold time.Duration) []string {
	active, err := m.registry.Active()
	if err != nil {
		return nil
	}
	last, err := m.heartbeats.LastEventPerAgent()
	if err != nil {
		return nil
	}

	var hung []string
	for _, inst := range active {
		ev, ok := last[inst.Name]
		if !ok {
			// Never heartbeated: only hung once it has been registered
			// longer than the threshold.
			if now.Sub(inst.RegisteredAt) > threshold {
				hung = append(hung, inst.Name)
			}
			continue
		}
		if now.Sub(ev.Timestamp) > threshold {
			hung = append(hung, inst.Name)
		}
	}
	return hung
}

// raiseHealthAlert emits the event, writes the alert flag for external
// auto-restart tooling, and mails coordinators.
func (m *Monitor) raiseHealthAlert(ctx context.Context, event string, subjects []string, detail string) {
	if err := m.queueLog.Record(event, "", map[string]string{"subjects": strings.Join(subjects, ",")}); err != nil {
		m.slog.Warn("recording health event failed", "event", event, "error", err)
	}
	flag := event + "|" + strings.Join(subjects, ",")
	if err := os.WriteFile(m.paths.HealthAlertFlag(), []byte(flag+"\n"), 0644); err != nil {
		m.slog.Warn("writing health alert flag failed", "error", err)
	}
	m.notifyCoordinators(ctx, "[agent-health] "+event, detail)
	m.slog.Warn("health alert", "event", event, "subjects", subjects)
}

// nudgeIdleAgents pokes agents that have ready work available but no
// active task binding. Identical nudges to the same agent are suppressed
// for at least an hour.
func (m *Monitor) nudgeIdleAgents(ctx context.Context, ready []beads.Bead) {
	if len(ready) == 0 || m.tracker == nil || m.router == nil {
		return
	}
	active, err := m.registry.Active()
	if err != nil {
		return
	}
	inFlight, err := m.tracker.Active()
	if err != nil {
		return
	}
	busy := make(map[string]bool, len(inFlight))
	for _, rec := range inFlight {
		busy[rec.Agent] = true
	}

	cooldowns := activity.NewLog(m.paths.NudgeCooldownLog())
	last, err := cooldowns.LastEventPerAgent()
	if err != nil {
		return
	}
	const nudge = "pick-up-ready-work"
	cutoff := time.Now().UTC().Add(-time.Hour)

	for _, inst := range active {
		if busy[inst.Name] {
			continue
		}
		if ev, ok := last[inst.Name]; ok && ev.Payload["nudge"] == nudge && ev.Timestamp.After(cutoff) {
			continue
		}
		recipients, err := m.resolver.Resolve(inst.Name)
		if err != nil {
			continue
		}
		_, ok := m.router.Send(ctx, broadcast.Request{
			Recipients: recipients,
			Subject:    "ready work is waiting",
			Body:       fmt.Sprintf("%d beads are ready and you have no active task. Run `br ready` and claim one.", len(ready)),
			Sender:     "SystemNotify",
		})
		if !ok {
			continue
		}
		_ = cooldowns.Record(activity.EventNotificationSent, inst.Name, map[string]string{"nudge": nudge})
		if err := m.activityLog.Record(activity.EventNotificationSent, inst.Name, map[string]string{"nudge": nudge}); err != nil {
			m.slog.Warn("recording nudge failed", "agent", inst.Name, "error", err)
		}
	}
}

// notifyCoordinators mails the coordinator group when enabled.
func (m *Monitor) notifyCoordinators(ctx context.Context, subject, body string) {
	thresholds := m.Thresholds()
	if !thresholds.NotifyCoordinators || m.router == nil || m.resolver == nil {
		return
	}
	recipients, err := m.resolver.Resolve(thresholds.CoordinatorRecipient)
	if err != nil || len(recipients) == 0 {
		m.slog.Warn("no coordinators to notify", "recipient", thresholds.CoordinatorRecipient, "error", err)
		return
	}
	if _, ok := m.router.Send(ctx, broadcast.Request{
		Recipients: recipients,
		Subject:    subject,
		Body:       body,
		Tag:        "URGENT",
		Sender:     "SystemNotify",
	}); !ok {
		m.slog.Warn("coordinator notification incomplete")
	}
}
