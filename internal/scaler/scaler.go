// Package scaler runs the periodic scale-up / check-idle loop that keeps
// the fleet sized to the ready queue.
package scaler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/droverhq/drover/internal/activity"
	"github.com/droverhq/drover/internal/beads"
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/history"
	"github.com/droverhq/drover/internal/queue"
	"github.com/droverhq/drover/internal/registry"
)

// BeadSource is the slice of the bead store client the scaler reads.
type BeadSource interface {
	Ready(ctx context.Context) ([]beads.Bead, error)
}

// SpawnFunc creates n agents of a type. It must be idempotent per agent
// name.
type SpawnFunc func(ctx context.Context, agentType string, n int) error

// TeardownFunc removes one agent by name.
type TeardownFunc func(ctx context.Context, agent string) error

// Scaler owns the periodic loop.
type Scaler struct {
	thresholds config.Thresholds
	source     BeadSource
	registry   *registry.Registry
	tracker    *history.Tracker
	log        *activity.Log
	spawn      SpawnFunc
	teardown   TeardownFunc
	slog       *slog.Logger
}

// New wires a Scaler.
func New(thresholds config.Thresholds, source BeadSource, reg *registry.Registry, tracker *history.Tracker, actLog *activity.Log, spawn SpawnFunc, teardown TeardownFunc, logger *slog.Logger) *Scaler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scaler{
		thresholds: thresholds,
		source:     source,
		registry:   reg,
		tracker:    tracker,
		log:        actLog,
		spawn:      spawn,
		teardown:   teardown,
		slog:       logger,
	}
}

// Run ticks every CheckInterval until the context is cancelled. At most
// one in-flight tick drains after cancellation.
func (s *Scaler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.thresholds.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.slog.Error("scaler tick failed", "error", err)
			}
		}
	}
}

// TickReport summarizes one loop iteration.
type TickReport struct {
	Composition queue.Composition `json:"composition"`
	Spawned     int               `json:"spawned"`
	SpawnedType string            `json:"spawned_type,omitempty"`
	TornDown    []string          `json:"torn_down,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
}

// Tick runs one analyze → scale-up → check-idle pass. Scale-up executes
// before check-idle so a busy queue is never starved by teardown.
func (s *Scaler) Tick(ctx context.Context) error {
	_, err := s.TickReportable(ctx)
	return err
}

// TickReportable is Tick with a report for the CLI.
func (s *Scaler) TickReportable(ctx context.Context) (*TickReport, error) {
	ready, err := s.source.Ready(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing ready beads: %w", err)
	}
	active, err := s.registry.Active()
	if err != nil {
		return nil, err
	}

	var fb *queue.Feedback
	if s.tracker != nil {
		if stats, serr := s.tracker.Stats(); serr == nil {
			fb = &queue.Feedback{
				ActiveTasks:    stats.ActiveTasks,
				CompletionRate: stats.CompletionRate,
				SuccessRate:    stats.SuccessRate,
			}
		}
	}

	comp := queue.Analyze(ready, len(active), queue.Policy{
		ScaleUpThreshold: s.thresholds.ScaleUpThreshold,
		MaxAgents:        s.thresholds.MaxAgents,
		MinAgents:        s.thresholds.MinAgents,
	}, fb)
	report := &TickReport{Composition: comp}

	for _, rec := range comp.Recommendations {
		switch {
		case strings.HasPrefix(rec, "scale-up:"):
			n, agentType, perr := parseScaleUp(rec)
			if perr != nil {
				report.Warnings = append(report.Warnings, perr.Error())
				continue
			}
			// Re-clamp against the live count in case another process
			// spawned between analyze and execute.
			if remaining := s.thresholds.MaxAgents - len(active) - report.Spawned; n > remaining {
				n = remaining
			}
			if n <= 0 {
				continue
			}
			if err := s.spawn(ctx, agentType, n); err != nil {
				report.Warnings = append(report.Warnings, fmt.Sprintf("spawn: %v", err))
				continue
			}
			report.Spawned += n
			report.SpawnedType = agentType
			s.slog.Info("scaled up", "count", n, "type", agentType)

		case rec == "check-idle:teardown":
			torn, werr := s.checkIdle(ctx, len(active)+report.Spawned)
			report.TornDown = append(report.TornDown, torn...)
			if werr != nil {
				report.Warnings = append(report.Warnings, werr.Error())
			}

		case strings.HasPrefix(rec, "warning:"):
			report.Warnings = append(report.Warnings, strings.TrimPrefix(rec, "warning:"))
		}
	}
	return report, nil
}

// CheckIdle runs one idle sweep outside the periodic loop.
func (s *Scaler) CheckIdle(ctx context.Context) ([]string, error) {
	active, err := s.registry.Active()
	if err != nil {
		return nil, err
	}
	return s.checkIdle(ctx, len(active))
}

// checkIdle tears down agents whose last activity is older than
// IdleTimeout, never dropping below MinAgents.
func (s *Scaler) checkIdle(ctx context.Context, activeCount int) ([]string, error) {
	last, err := s.log.LastEventPerAgent()
	if err != nil {
		return nil, err
	}
	active, err := s.registry.Active()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-s.thresholds.IdleTimeout)
	var torn []string
	remaining := activeCount
	for _, inst := range active {
		if remaining <= s.thresholds.MinAgents {
			break
		}
		ev, ok := last[inst.Name]
		if ok && ev.Timestamp.After(cutoff) {
			continue
		}
		if !ok && inst.RegisteredAt.After(cutoff) {
			continue // freshly registered, give it time
		}
		if err := s.teardown(ctx, inst.Name); err != nil {
			s.slog.Warn("idle teardown failed", "agent", inst.Name, "error", err)
			continue
		}
		torn = append(torn, inst.Name)
		remaining--
		s.slog.Info("tore down idle agent", "agent", inst.Name)
	}
	return torn, nil
}

// parseScaleUp splits "scale-up:N:type".
func parseScaleUp(rec string) (int, string, error) {
	parts := strings.SplitN(rec, ":", 3)
	if len(parts) != 3 {
		return 0, "", fmt.Errorf("malformed recommendation %q", rec)
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil || n <= 0 {
		return 0, "", fmt.Errorf("malformed recommendation %q", rec)
	}
	return n, parts[2], nil
}
