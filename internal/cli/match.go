package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/match"
	"github.com/droverhq/drover/internal/output"
)

func newMatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Score agents against tasks",
		Long: `Score task-to-agent fit from skills, workload, and history.

Subcommands:
  score       Score one agent against a task
  best-match  Pick the best active agent for a task

Examples:
  drover match score bd-42 BlueLake
  drover match best-match bd-42 --json`,
	}

	cmd.AddCommand(newMatchScoreCmd(), newBestMatchCmd())
	return cmd
}

// ScoreResponse reports one agent's score for a task.
type ScoreResponse struct {
	output.TimestampedResponse
	TaskID string       `json:"task_id"`
	Labels []string     `json:"labels,omitempty"`
	Result match.Result `json:"result"`
}

func newMatchScoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score <task-id> <agent>",
		Short: "Score one agent against a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}

			ctx, cancel := commandContext()
			defer cancel()

			labels, err := taskLabels(ctx, paths, args[0])
			if err != nil {
				return err
			}
			candidates, err := buildCandidates(paths, labels)
			if err != nil {
				return err
			}

			for _, c := range candidates {
				if c.Name != args[1] {
					continue
				}
				resp := ScoreResponse{
					TimestampedResponse: output.NewTimestamped(),
					TaskID:              args[0],
					Labels:              labels,
					Result:              match.Score(c, labels),
				}
				if IsJSONOutput() {
					return output.PrintJSON(resp)
				}
				fmt.Printf("%s on %s: %.3f (skill %.2f, workload %.2f, history %.2f)\n",
					resp.Result.Agent, args[0], resp.Result.Score,
					resp.Result.SkillMatch, resp.Result.WorkloadFactor, resp.Result.HistoryScore)
				return nil
			}
			return fmt.Errorf("agent %q is not active", args[1])
		},
	}
}

// BestMatchResponse reports the winning agent for a task.
type BestMatchResponse struct {
	output.TimestampedResponse
	TaskID string       `json:"task_id"`
	Labels []string     `json:"labels,omitempty"`
	Result match.Result `json:"result"`
	Found  bool         `json:"found"`
}

func newBestMatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "best-match <task-id>",
		Short: "Pick the best active agent for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}

			ctx, cancel := commandContext()
			defer cancel()

			labels, err := taskLabels(ctx, paths, args[0])
			if err != nil {
				return err
			}
			candidates, err := buildCandidates(paths, labels)
			if err != nil {
				return err
			}

			result, found := match.BestMatch(candidates, labels)
			resp := BestMatchResponse{
				TimestampedResponse: output.NewTimestamped(),
				TaskID:              args[0],
				Labels:              labels,
				Result:              result,
				Found:               found,
			}
			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			if !found {
				return fmt.Errorf("no active agents to match")
			}
			fmt.Printf("Best match for %s: %s (%.3f)\n", args[0], result.Agent, result.Score)
			return nil
		},
	}
}

// taskLabels reads a bead's labels from the store.
func taskLabels(ctx context.Context, paths config.Paths, taskID string) ([]string, error) {
	bead, err := newBeadsClient(paths).Show(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("reading task %s: %w", taskID, err)
	}
	return bead.Labels, nil
}

// buildCandidates assembles scoring candidates from the registry, the type
// catalog, and the performance tracker.
func buildCandidates(paths config.Paths, labels []string) ([]match.Candidate, error) {
	reg, err := newRegistry(paths)
	if err != nil {
		return nil, err
	}
	active, err := reg.Active()
	if err != nil {
		return nil, err
	}
	tracker := newTracker(paths)

	candidates := make([]match.Candidate, 0, len(active))
	for _, inst := range active {
		caps, _ := reg.Catalog().Capabilities(inst.Type)
		inProgress, err := tracker.InProgressCount(inst.Name)
		if err != nil {
			inProgress = 0
		}
		hist, err := tracker.HistoryScore(inst.Name, labels)
		if err != nil {
			hist = 0 // scored as the 0.5 default
		}
		candidates = append(candidates, match.Candidate{
			Name:         inst.Name,
			Capabilities: caps,
			InProgress:   inProgress,
			History:      hist,
		})
	}
	return candidates, nil
}
