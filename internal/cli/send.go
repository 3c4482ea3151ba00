package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/broadcast"
	"github.com/droverhq/drover/internal/output"
	"github.com/droverhq/drover/internal/tmux"
)

// SendResponse reports a broadcast.
type SendResponse struct {
	output.TimestampedResponse
	Recipients []broadcast.Recipient `json:"recipients"`
	Deliveries []broadcast.Delivery  `json:"deliveries"`
	AllOK      bool                  `json:"all_ok"`
}

func newSendCmd() *cobra.Command {
	var (
		mode   string
		tag    string
		sender string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "send <recipients> <subject> [body...]",
		Short: "Broadcast a message to agents",
		Long: `Send a message to agents over two channels: a comment line injected
into each agent's pane and a durable agent-mail message.

Recipients are a group address or a comma-separated name list:
  @all           every agent with a known identity
  @active        agents whose pane is currently live
  @coordinators  agents whose type carries the coordinator role
  @swarm:<name>  members of a swarm
  @type:<T>      active agents of a catalog type

URGENT and BLOCKER tags upgrade mail importance.

Examples:
  drover send @active "stand-up" "post your status"
  drover send @type:backend "API freeze" --tag URGENT
  drover send BlueLake,AmberPeak "handoff" "take over bd-42" --mode mail-only`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}
			reg, err := newRegistry(paths)
			if err != nil {
				return err
			}
			resolver := broadcast.NewResolver(paths, reg, paneLister{client: tmux.DefaultClient})

			recipients, err := resolver.Resolve(args[0])
			if err != nil {
				return err
			}
			if sender == "" {
				sender = callerAgent()
			}
			if sender == "" {
				return fmt.Errorf("no sender identity: set AGENT_NAME, sender_name, or --from")
			}

			ctx, cancel := commandContext()
			defer cancel()

			deliveries, ok := newRouter().Send(ctx, broadcast.Request{
				Recipients: recipients,
				Subject:    args[1],
				Body:       strings.Join(args[2:], " "),
				Mode:       broadcast.Mode(mode),
				Tag:        tag,
				Sender:     sender,
				DryRun:     dryRun,
			})

			resp := SendResponse{
				TimestampedResponse: output.NewTimestamped(),
				Recipients:          recipients,
				Deliveries:          deliveries,
				AllOK:               ok,
			}
			if IsJSONOutput() {
				if err := output.PrintJSON(resp); err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("delivery incomplete")
				}
				return nil
			}

			for _, d := range deliveries {
				status := deliveryStatus(d)
				fmt.Printf("%-20s %s\n", d.Agent, status)
			}
			if !ok {
				return fmt.Errorf("delivery incomplete")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "both", "Delivery mode: both, tmux-only, mail-only")
	cmd.Flags().StringVar(&tag, "tag", "", "Message tag (URGENT/BLOCKER upgrade importance)")
	cmd.Flags().StringVar(&sender, "from", "", "Override sender name")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Resolve and report without delivering")
	return cmd
}

func deliveryStatus(d broadcast.Delivery) string {
	if d.DryRun {
		return "dry-run"
	}
	var parts []string
	if d.TmuxOK {
		parts = append(parts, "tmux")
	}
	if d.MailOK {
		parts = append(parts, "mail")
	}
	if len(parts) == 0 {
		if d.Problem != "" {
			return "failed: " + d.Problem
		}
		return "failed"
	}
	return "ok via " + strings.Join(parts, "+")
}
