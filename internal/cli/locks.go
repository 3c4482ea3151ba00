package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/mail"
	"github.com/droverhq/drover/internal/output"
)

func newLocksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "Inspect file reservations",
		Long: `Inspect advisory file reservations held through the agent-mail
service.

Subcommands:
  list           Show the calling agent's reservations
  list-all       Show every active reservation in the project
  warn-expiring  Show reservations close to expiry

Examples:
  drover locks list
  drover locks list-all --json
  drover locks warn-expiring`,
	}

	cmd.AddCommand(
		newLocksListCmd(),
		newLocksListAllCmd(),
		newLocksWarnExpiringCmd(),
	)
	return cmd
}

// LocksResponse lists reservations.
type LocksResponse struct {
	output.TimestampedResponse
	Agent        string                 `json:"agent,omitempty"`
	Reservations []mail.FileReservation `json:"reservations"`
	Count        int                    `json:"count"`
}

func newLocksListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the calling agent's reservations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := reservationClient()
			if err != nil {
				return err
			}

			ctx, cancel := commandContext()
			defer cancel()

			reservations, err := rc.List(ctx)
			if err != nil {
				return err
			}
			return printReservations(callerAgent(), reservations)
		},
	}
}

func newLocksListAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-all",
		Short: "Show every active reservation in the project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := reservationClient()
			if err != nil {
				return err
			}

			ctx, cancel := commandContext()
			defer cancel()

			reservations, err := rc.ListAll(ctx)
			if err != nil {
				return err
			}
			return printReservations("", reservations)
		},
	}
}

func newLocksWarnExpiringCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "warn-expiring",
		Short: "Show reservations close to expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := reservationClient()
			if err != nil {
				return err
			}

			ctx, cancel := commandContext()
			defer cancel()

			expiring, err := rc.WarnExpiring(ctx)
			if err != nil {
				return err
			}
			for _, r := range expiring {
				output.PrintWarningf("reservation #%d %s expires in %s",
					r.ID, r.PathPattern, formatRemaining(r.Remaining(time.Now().UTC())))
			}
			return printReservations(callerAgent(), expiring)
		},
	}
}

func printReservations(agent string, reservations []mail.FileReservation) error {
	resp := LocksResponse{
		TimestampedResponse: output.NewTimestamped(),
		Agent:               agent,
		Reservations:        reservations,
		Count:               len(reservations),
	}
	if IsJSONOutput() {
		return output.PrintJSON(resp)
	}
	if len(reservations) == 0 {
		fmt.Println("No active reservations")
		return nil
	}
	now := time.Now().UTC()
	for _, r := range reservations {
		kind := "exclusive"
		if !r.Exclusive {
			kind = "shared"
		}
		fmt.Printf("[#%d] %s\n", r.ID, r.PathPattern)
		fmt.Printf("   %s | %s | expires in %s\n", r.AgentName, kind, formatRemaining(r.Remaining(now)))
		if r.Reason != "" {
			fmt.Printf("   Reason: %s\n", r.Reason)
		}
	}
	return nil
}

func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "expired"
	}
	if d >= time.Hour {
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
	if d >= time.Minute {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}
