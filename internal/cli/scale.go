package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/activity"
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/history"
	"github.com/droverhq/drover/internal/output"
	"github.com/droverhq/drover/internal/queue"
	"github.com/droverhq/drover/internal/scaler"
	"github.com/droverhq/drover/internal/swarm"
	"github.com/droverhq/drover/internal/tmux"
)

func newScaleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scale",
		Short: "Size the fleet to the ready queue",
		Long: `Analyze the ready queue and scale the fleet up or down.

Subcommands:
  analyze     Report queue composition and recommendations
  up          Spawn agents of a type (alias: scale-up)
  down        Tear down named agents (alias: scale-down)
  check-idle  Tear down agents idle past the timeout
  auto        Run the periodic scaling loop in the foreground
  track       Record task starts and completions

Examples:
  drover scale analyze --json
  drover scale up backend 3
  drover scale track start BlueLake bd-42 --labels backend,api`,
	}

	cmd.AddCommand(
		newScaleAnalyzeCmd(),
		newScaleUpCmd(),
		newScaleDownCmd(),
		newScaleCheckIdleCmd(),
		newScaleAutoCmd(),
		newTrackCmd(),
	)
	return cmd
}

// AnalyzeResponse reports queue composition.
type AnalyzeResponse struct {
	output.TimestampedResponse
	Composition queue.Composition `json:"composition"`
}

func newScaleAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Report queue composition and scaling recommendations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}
			reg, err := newRegistry(paths)
			if err != nil {
				return err
			}
			thresholds, err := config.LoadThresholds(paths.ThresholdsConf())
			if err != nil {
				return err
			}

			ctx, cancel := commandContext()
			defer cancel()

			ready, err := newBeadsClient(paths).Ready(ctx)
			if err != nil {
				return err
			}
			active, err := reg.Active()
			if err != nil {
				return err
			}

			var fb *queue.Feedback
			if stats, serr := newTracker(paths).Stats(); serr == nil {
				fb = &queue.Feedback{
					ActiveTasks:    stats.ActiveTasks,
					CompletionRate: stats.CompletionRate,
					SuccessRate:    stats.SuccessRate,
				}
			}

			comp := queue.Analyze(ready, len(active), queue.Policy{
				ScaleUpThreshold: thresholds.ScaleUpThreshold,
				MaxAgents:        thresholds.MaxAgents,
				MinAgents:        thresholds.MinAgents,
			}, fb)

			resp := AnalyzeResponse{TimestampedResponse: output.NewTimestamped(), Composition: comp}
			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			fmt.Printf("Ready: %d | Active agents: %d | Ratio: %.2f\n",
				comp.ReadyTasks, comp.ActiveAgents, comp.Ratio)
			for t, n := range comp.TypesNeeded {
				fmt.Printf("  %-10s %d\n", t, n)
			}
			for _, rec := range comp.Recommendations {
				fmt.Printf("  -> %s\n", rec)
			}
			return nil
		},
	}
}

// ScaleUpResponse reports a manual scale-up.
type ScaleUpResponse struct {
	output.TimestampedResponse
	Session  string   `json:"session"`
	Type     string   `json:"type"`
	Spawned  []string `json:"spawned"`
	Warnings []string `json:"warnings,omitempty"`
}

func newScaleUpCmd() *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:     "up <type> <count>",
		Aliases: []string{"scale-up"},
		Short:   "Spawn agents of a type",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := parseCount(args[1])
			if err != nil {
				return err
			}
			paths, err := getPaths()
			if err != nil {
				return err
			}
			mgr, err := newSwarmManager(paths)
			if err != nil {
				return err
			}
			if session == "" {
				session = filepath.Base(paths.Root)
			}

			ctx, cancel := commandContext()
			defer cancel()

			result, err := mgr.Spawn(ctx, session, args[0], count)
			if err != nil {
				return err
			}

			resp := ScaleUpResponse{
				TimestampedResponse: output.NewTimestamped(),
				Session:             session,
				Type:                args[0],
				Warnings:            result.Warnings,
			}
			for _, mem := range result.State.Agents {
				resp.Spawned = append(resp.Spawned, mem.Name)
			}
			for _, w := range result.Warnings {
				output.PrintWarningf("%s", w)
			}
			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			fmt.Printf("Spawned %s: %s\n",
				output.CountStr(len(resp.Spawned), "agent", "agents"),
				strings.Join(resp.Spawned, ", "))
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "Tmux session (default: project directory name)")
	return cmd
}

// ScaleDownResponse reports a manual scale-down.
type ScaleDownResponse struct {
	output.TimestampedResponse
	TornDown []string `json:"torn_down"`
	Warnings []string `json:"warnings,omitempty"`
}

func newScaleDownCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "down <agent>...",
		Aliases: []string{"scale-down"},
		Short:   "Tear down named agents",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}
			mgr, err := newSwarmManager(paths)
			if err != nil {
				return err
			}
			tracker := newTracker(paths)
			router := newRouter()

			ctx, cancel := commandContext()
			defer cancel()

			resp := ScaleDownResponse{TimestampedResponse: output.NewTimestamped()}
			for _, agent := range args {
				report, err := mgr.Teardown(ctx, agent, tracker, router, swarm.TeardownOptions{Force: force})
				if err != nil {
					return err
				}
				resp.TornDown = append(resp.TornDown, agent)
				resp.Warnings = append(resp.Warnings, report.Warnings...)
			}

			for _, w := range resp.Warnings {
				output.PrintWarningf("%s", w)
			}
			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			fmt.Printf("Tore down %s\n", strings.Join(resp.TornDown, ", "))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip pre-checks")
	return cmd
}

// CheckIdleResponse reports an idle sweep.
type CheckIdleResponse struct {
	output.TimestampedResponse
	TornDown []string `json:"torn_down"`
}

func newScaleCheckIdleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-idle",
		Short: "Tear down agents idle past the timeout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}
			sc, err := newScaler(paths, nil)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext()
			defer cancel()

			torn, err := sc.CheckIdle(ctx)
			if err != nil {
				return err
			}

			resp := CheckIdleResponse{TimestampedResponse: output.NewTimestamped(), TornDown: torn}
			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			if len(torn) == 0 {
				fmt.Println("No idle agents")
				return nil
			}
			fmt.Printf("Tore down %s: %s\n",
				output.CountStr(len(torn), "idle agent", "idle agents"),
				strings.Join(torn, ", "))
			return nil
		},
	}
}

func newScaleAutoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auto",
		Short: "Run the periodic scaling loop in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			sc, err := newScaler(paths, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := sc.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

// newScaler wires a Scaler with the swarm manager as spawn/teardown
// executor.
func newScaler(paths config.Paths, logger *slog.Logger) (*scaler.Scaler, error) {
	reg, err := newRegistry(paths)
	if err != nil {
		return nil, err
	}
	thresholds, err := config.LoadThresholds(paths.ThresholdsConf())
	if err != nil {
		return nil, err
	}
	mgr, err := newSwarmManager(paths)
	if err != nil {
		return nil, err
	}
	tracker := newTracker(paths)
	router := newRouter()
	session := filepath.Base(paths.Root)

	spawn := func(ctx context.Context, agentType string, n int) error {
		_, err := mgr.Spawn(ctx, session, agentType, n)
		return err
	}
	// Idle agents have no in-progress tasks; force skips the repo-dirty
	// check that would otherwise block automated teardown.
	teardown := func(ctx context.Context, agent string) error {
		_, err := mgr.Teardown(ctx, agent, tracker, router, swarm.TeardownOptions{Force: true})
		return err
	}

	return scaler.New(thresholds, newBeadsClient(paths), reg, tracker,
		newActivityLog(paths), spawn, teardown, logger), nil
}

func newSwarmManager(paths config.Paths) (*swarm.Manager, error) {
	reg, err := newRegistry(paths)
	if err != nil {
		return nil, err
	}
	return swarm.NewManager(paths, cfg, reg, tmux.DefaultClient, newMailClient(),
		newActivityLog(paths), nil), nil
}

func newTrackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Record task starts and completions",
	}
	cmd.AddCommand(
		newTrackStartCmd(),
		newTrackCompleteCmd(),
		newTrackActiveCmd(),
		newTrackStatsCmd(),
	)
	return cmd
}

// TrackResponse reports a tracking write.
type TrackResponse struct {
	output.TimestampedResponse
	Agent   string `json:"agent"`
	TaskID  string `json:"task_id"`
	Matched bool   `json:"matched,omitempty"`
}

func newTrackStartCmd() *cobra.Command {
	var labels []string

	cmd := &cobra.Command{
		Use:   "start <agent> <task-id>",
		Short: "Record a task start",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}
			if err := newTracker(paths).Start(args[0], args[1], labels); err != nil {
				return err
			}
			if err := newActivityLog(paths).Record(activity.EventClaim, args[0],
				map[string]string{"task": args[1]}); err != nil {
				output.PrintWarningf("recording claim event: %v", err)
			}

			resp := TrackResponse{
				TimestampedResponse: output.NewTimestamped(),
				Agent:               args[0],
				TaskID:              args[1],
			}
			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			fmt.Printf("Tracking %s on %s\n", args[0], args[1])
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&labels, "labels", nil, "Task labels")
	return cmd
}

func newTrackCompleteCmd() *cobra.Command {
	var quality float64

	cmd := &cobra.Command{
		Use:   "complete <agent> <task-id>",
		Short: "Record a task completion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}
			var q *float64
			if cmd.Flags().Changed("quality") {
				q = &quality
			}
			matched, err := newTracker(paths).Complete(args[0], args[1], q)
			if err != nil {
				return err
			}
			if !matched {
				output.PrintWarningf("no tracked start for %s on %s; recorded completion only", args[0], args[1])
			}
			if err := newActivityLog(paths).Record(activity.EventComplete, args[0],
				map[string]string{"task": args[1]}); err != nil {
				output.PrintWarningf("recording completion event: %v", err)
			}

			resp := TrackResponse{
				TimestampedResponse: output.NewTimestamped(),
				Agent:               args[0],
				TaskID:              args[1],
				Matched:             matched,
			}
			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			fmt.Printf("Completed %s on %s\n", args[0], args[1])
			return nil
		},
	}

	cmd.Flags().Float64Var(&quality, "quality", 0, "Quality score 0-100")
	return cmd
}

// TrackActiveResponse lists tracked in-flight tasks.
type TrackActiveResponse struct {
	output.TimestampedResponse
	Active []history.ActiveRecord `json:"active"`
}

func newTrackActiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "List tracked in-flight tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}
			active, err := newTracker(paths).Active()
			if err != nil {
				return err
			}

			resp := TrackActiveResponse{TimestampedResponse: output.NewTimestamped(), Active: active}
			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			if len(active) == 0 {
				fmt.Println("No tracked tasks")
				return nil
			}
			table := output.NewTable(os.Stdout, "AGENT", "TASK", "SINCE")
			for _, rec := range active {
				table.AddRow(rec.Agent, rec.TaskID, rec.StartTS.Format("15:04:05"))
			}
			table.Render()
			return nil
		},
	}
}

// TrackStatsResponse reports fleet-level tracking statistics.
type TrackStatsResponse struct {
	output.TimestampedResponse
	Stats history.Stats `json:"stats"`
}

func newTrackStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Report completion statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}
			stats, err := newTracker(paths).Stats()
			if err != nil {
				return err
			}

			resp := TrackStatsResponse{TimestampedResponse: output.NewTimestamped(), Stats: stats}
			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			fmt.Printf("Active: %d | Completed: %d | Completion rate: %.2f\n",
				stats.ActiveTasks, stats.Completed, stats.CompletionRate)
			if stats.SuccessRate >= 0 {
				fmt.Printf("Success rate: %.2f\n", stats.SuccessRate)
			}
			return nil
		},
	}
}

func parseCount(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid count %q: must be a positive number", s)
	}
	return n, nil
}
