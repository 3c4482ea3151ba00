package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/output"
	"github.com/droverhq/drover/internal/swarm"
)

// SpawnResponse reports a swarm spawn.
type SpawnResponse struct {
	output.TimestampedResponse
	Session  string        `json:"session"`
	BatchID  string        `json:"batch_id"`
	Type     string        `json:"type"`
	Agents   []swarm.Member `json:"agents"`
	Duration time.Duration `json:"duration_ns"`
	Warnings []string      `json:"warnings,omitempty"`
}

func newSpawnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "spawn <session> <type> <count>",
		Short: "Spawn a swarm of agents",
		Long: `Create a swarm: allocate panes in the session, bind identities,
register each agent, and record the swarm state file.

Examples:
  drover spawn myproject backend 3
  drover spawn myproject qa 1 --json`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := parseCount(args[2])
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

			ctx, cancel := commandContext()
			defer cancel()

			result, err := mgr.Spawn(ctx, args[0], args[1], count)
			if err != nil {
				return err
			}
			for _, w := range result.Warnings {
				output.PrintWarningf("%s", w)
			}

			resp := SpawnResponse{
				TimestampedResponse: output.NewTimestamped(),
				Session:             result.State.Session,
				BatchID:             result.State.BatchID,
				Type:                result.State.AgentType,
				Agents:              result.State.Agents,
				Duration:            result.Duration,
				Warnings:            result.Warnings,
			}
			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			names := make([]string, 0, len(resp.Agents))
			for _, mem := range resp.Agents {
				names = append(names, mem.Name)
			}
			fmt.Printf("Spawned %s in %s (%s): %s\n",
				output.CountStr(len(names), "agent", "agents"),
				resp.Session, result.Duration.Round(time.Second), strings.Join(names, ", "))
			return nil
		},
	}
}

// TeardownResponse reports a teardown.
type TeardownResponse struct {
	output.TimestampedResponse
	Target     string   `json:"target"`
	Agents     []string `json:"agents"`
	Completed  int      `json:"completed"`
	InProgress int      `json:"in_progress"`
	Efficiency float64  `json:"efficiency"`
	Warnings   []string `json:"warnings,omitempty"`
}

func newTeardownCmd() *cobra.Command {
	var (
		force bool
		grace time.Duration
	)

	cmd := &cobra.Command{
		Use:   "teardown <swarm-or-agent>",
		Short: "Tear down a swarm or a single agent",
		Long: `Dismantle a swarm by session name, or a single agent by name.

Without --force, teardown refuses to abandon work: in-progress tasks,
held reservations, or a dirty working tree block it. Reservations are
released and a shutdown notice is broadcast before any pane dies.

Examples:
  drover teardown myproject
  drover teardown BlueLake --force
  drover teardown myproject --grace 10s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}
			mgr, err := newSwarmManager(paths)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext()
			defer cancel()

			report, err := mgr.Teardown(ctx, args[0], newTracker(paths), newRouter(),
				swarm.TeardownOptions{Force: force, Grace: grace})
			if err != nil {
				if errors.Is(err, swarm.ErrPrecheckFailed) {
					return fmt.Errorf("%w (use --force to override)", err)
				}
				return err
			}
			for _, w := range report.Warnings {
				output.PrintWarningf("%s", w)
			}

			resp := TeardownResponse{
				TimestampedResponse: output.NewTimestamped(),
				Target:              report.Target,
				Agents:              report.Agents,
				Completed:           report.Completed,
				InProgress:          report.InProgress,
				Efficiency:          report.Efficiency,
				Warnings:            report.Warnings,
			}
			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			fmt.Printf("Tore down %s: %s\n", report.Target, strings.Join(report.Agents, ", "))
			if report.Completed+report.InProgress > 0 {
				fmt.Printf("  Completed %d, in progress %d (efficiency %.2f)\n",
					report.Completed, report.InProgress, report.Efficiency)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip pre-checks")
	cmd.Flags().DurationVar(&grace, "grace", 2*time.Second, "Pause between shutdown notice and pane kill")
	return cmd
}
