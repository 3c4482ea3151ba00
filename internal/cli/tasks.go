package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/activity"
	"github.com/droverhq/drover/internal/output"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Claim and complete beads",
		Long: `Move beads through the store on behalf of the calling agent.

Claims and completions are mirrored into the local performance tracker
and the activity log so the scaler and monitor see them.

Subcommands:
  claim    Claim a bead (in_progress, assigned to you)
  release  Return a claimed bead to the open pool
  done     Close a bead and record the completion

Examples:
  drover task claim bd-42
  drover task done bd-42 --quality 90`,
	}

	cmd.AddCommand(newTaskClaimCmd(), newTaskReleaseCmd(), newTaskDoneCmd())
	return cmd
}

// TaskResponse reports a bead state change.
type TaskResponse struct {
	output.TimestampedResponse
	Agent  string `json:"agent"`
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

func newTaskClaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <bead-id>",
		Short: "Claim a bead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}
			agent := callerAgent()
			if agent == "" {
				return fmt.Errorf("no agent identity: set AGENT_NAME or sender_name in config")
			}

			ctx, cancel := commandContext()
			defer cancel()

			bd := newBeadsClient(paths)
			bead, err := bd.Show(ctx, args[0])
			if err != nil {
				return err
			}
			if err := bd.Claim(ctx, args[0], agent); err != nil {
				return err
			}
			if err := newTracker(paths).Start(agent, args[0], bead.Labels); err != nil {
				output.PrintWarningf("tracking start: %v", err)
			}
			if err := newActivityLog(paths).Record(activity.EventClaim, agent,
				map[string]string{"task": args[0]}); err != nil {
				output.PrintWarningf("recording claim event: %v", err)
			}

			return printTask(agent, args[0], "in_progress")
		},
	}
}

func newTaskReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <bead-id>",
		Short: "Return a claimed bead to the open pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}
			agent := callerAgent()

			ctx, cancel := commandContext()
			defer cancel()

			if err := newBeadsClient(paths).Release(ctx, args[0]); err != nil {
				return err
			}
			if err := newActivityLog(paths).Record(activity.EventIdle, agent,
				map[string]string{"task": args[0], "reason": "released"}); err != nil {
				output.PrintWarningf("recording release: %v", err)
			}

			return printTask(agent, args[0], "open")
		},
	}
}

func newTaskDoneCmd() *cobra.Command {
	var quality float64

	cmd := &cobra.Command{
		Use:   "done <bead-id>",
		Short: "Close a bead and record the completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}
			agent := callerAgent()
			if agent == "" {
				return fmt.Errorf("no agent identity: set AGENT_NAME or sender_name in config")
			}

			ctx, cancel := commandContext()
			defer cancel()

			if err := newBeadsClient(paths).Close(ctx, args[0]); err != nil {
				return err
			}
			var q *float64
			if cmd.Flags().Changed("quality") {
				q = &quality
			}
			matched, err := newTracker(paths).Complete(agent, args[0], q)
			if err != nil {
				output.PrintWarningf("tracking completion: %v", err)
			} else if !matched {
				output.PrintWarningf("no tracked start for %s on %s", agent, args[0])
			}
			if err := newActivityLog(paths).Record(activity.EventComplete, agent,
				map[string]string{"task": args[0]}); err != nil {
				output.PrintWarningf("recording completion event: %v", err)
			}

			return printTask(agent, args[0], "closed")
		},
	}

	cmd.Flags().Float64Var(&quality, "quality", 0, "Quality score 0-100")
	return cmd
}

func printTask(agent, taskID, status string) error {
	resp := TaskResponse{
		TimestampedResponse: output.NewTimestamped(),
		Agent:               agent,
		TaskID:              taskID,
		Status:              status,
	}
	if IsJSONOutput() {
		return output.PrintJSON(resp)
	}
	fmt.Printf("%s is now %s\n", taskID, status)
	return nil
}
