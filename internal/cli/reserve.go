package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/mail"
	"github.com/droverhq/drover/internal/output"
	"github.com/droverhq/drover/internal/reserve"
)

// ReserveResponse reports a reservation attempt.
type ReserveResponse struct {
	output.TimestampedResponse
	Agent   string           `json:"agent"`
	Outcome *reserve.Outcome `json:"outcome,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func newReserveCmd() *cobra.Command {
	var (
		ttl    int
		shared bool
		reason string
	)

	cmd := &cobra.Command{
		Use:   "reserve <pattern>...",
		Short: "Reserve file paths for the calling agent",
		Long: `Reserve file path patterns through the agent-mail service.

Patterns may carry a repo qualifier ("backend:src/api/*"); unqualified
patterns apply to the local repository. Overlap with another agent's
reservation exits 5 after notifying the holder; overlap with your own
reservation exits 6 unless auto-release is enabled.

Examples:
  drover reserve "src/api/*" --reason "refactoring handlers"
  drover reserve "backend:go.mod" --ttl 600
  drover reserve "docs/*" --shared`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := reservationClient()
			if err != nil {
				return err
			}

			ctx, cancel := commandContext()
			defer cancel()

			out, err := rc.Reserve(ctx, args, ttl, !shared, reason)
			resp := ReserveResponse{
				TimestampedResponse: output.NewTimestamped(),
				Agent:               callerAgent(),
				Outcome:             out,
			}
			if err != nil {
				resp.Error = err.Error()
			}

			if IsJSONOutput() {
				if jerr := output.PrintJSON(resp); jerr != nil {
					return jerr
				}
				return err
			}
			if err != nil {
				printConflicts(out)
				return err
			}
			if out.Bypassed {
				fmt.Println("Reservation bypassed (BYPASS_RESERVATION)")
				return nil
			}
			if len(out.Released) > 0 {
				fmt.Printf("Auto-released %s\n",
					output.CountStr(len(out.Released), "own stale reservation", "own stale reservations"))
			}
			fmt.Printf("Reserved %s\n", output.CountStr(len(out.Granted), "path", "paths"))
			return nil
		},
	}

	cmd.Flags().IntVar(&ttl, "ttl", 0, "TTL in seconds (default from config)")
	cmd.Flags().BoolVar(&shared, "shared", false, "Shared instead of exclusive")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason shown to conflicting holders")
	return cmd
}

func newRequestCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "request <pattern>",
		Short: "Reserve a path, or queue behind its holder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := reservationClient()
			if err != nil {
				return err
			}

			ctx, cancel := commandContext()
			defer cancel()

			out, err := rc.Request(ctx, args[0], reason)
			resp := ReserveResponse{
				TimestampedResponse: output.NewTimestamped(),
				Agent:               callerAgent(),
				Outcome:             out,
			}
			if err != nil {
				resp.Error = err.Error()
			}

			if IsJSONOutput() {
				if jerr := output.PrintJSON(resp); jerr != nil {
					return jerr
				}
				if errors.Is(err, reserve.ErrConflict) {
					// Queued behind the holder: the request itself succeeded.
					return nil
				}
				return err
			}
			if errors.Is(err, reserve.ErrConflict) {
				printConflicts(out)
				fmt.Println("Queued: you will be mailed when the path is released")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("Reserved %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Reason shown to the holder")
	return cmd
}

// CheckResponse reports would-be conflicts.
type CheckResponse struct {
	output.TimestampedResponse
	Patterns  []string           `json:"patterns"`
	Conflicts []reserve.Conflict `json:"conflicts,omitempty"`
	Clear     bool               `json:"clear"`
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <pattern>...",
		Short: "Report conflicts for patterns without reserving",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := reservationClient()
			if err != nil {
				return err
			}

			ctx, cancel := commandContext()
			defer cancel()

			conflicts, err := rc.Check(ctx, args)
			if err != nil {
				return err
			}

			resp := CheckResponse{
				TimestampedResponse: output.NewTimestamped(),
				Patterns:            args,
				Conflicts:           conflicts,
				Clear:               len(conflicts) == 0,
			}
			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			if resp.Clear {
				fmt.Println("All patterns are free")
				return nil
			}
			for _, c := range conflicts {
				fmt.Printf("%s held by %s\n", c.Path, strings.Join(c.Holders, ", "))
			}
			return nil
		},
	}
}

// ReleaseResponse reports a release and its pending-queue drain.
type ReleaseResponse struct {
	output.TimestampedResponse
	Agent  string                 `json:"agent"`
	Result *reserve.ReleaseResult `json:"result"`
}

func newReleaseCmd() *cobra.Command {
	var (
		ids []int
		all bool
	)

	cmd := &cobra.Command{
		Use:   "release [pattern]...",
		Short: "Release reservations by pattern, id, or all",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(ids) == 0 && !all {
				return fmt.Errorf("nothing to release: pass patterns, --id, or --all")
			}
			rc, err := reservationClient()
			if err != nil {
				return err
			}

			ctx, cancel := commandContext()
			defer cancel()

			result, err := rc.Release(ctx, args, ids, all)
			if err != nil {
				return err
			}

			resp := ReleaseResponse{
				TimestampedResponse: output.NewTimestamped(),
				Agent:               callerAgent(),
				Result:              result,
			}
			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			fmt.Printf("Released %s\n", output.CountStr(len(result.Released), "reservation", "reservations"))
			for _, entry := range result.Notified {
				fmt.Printf("  Notified %s about %s\n", strings.Join(entry.Requesters, ", "), entry.Path)
			}
			return nil
		},
	}

	cmd.Flags().IntSliceVar(&ids, "id", nil, "Reservation id to release (repeatable)")
	cmd.Flags().BoolVar(&all, "all", false, "Release every reservation you hold")
	return cmd
}

// RenewResponse reports a renewal.
type RenewResponse struct {
	output.TimestampedResponse
	Agent   string                 `json:"agent"`
	Renewed []mail.FileReservation `json:"renewed"`
	Missed  []string               `json:"missed,omitempty"`
}

func newRenewCmd() *cobra.Command {
	var extend int

	cmd := &cobra.Command{
		Use:   "renew [pattern]...",
		Short: "Extend reservation TTLs",
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := reservationClient()
			if err != nil {
				return err
			}

			ctx, cancel := commandContext()
			defer cancel()

			result, err := rc.Renew(ctx, extend, args)
			if err != nil {
				return err
			}

			resp := RenewResponse{
				TimestampedResponse: output.NewTimestamped(),
				Agent:               callerAgent(),
				Renewed:             result.Renewed,
				Missed:              result.Missed,
			}
			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			fmt.Printf("Renewed %s\n", output.CountStr(len(result.Renewed), "reservation", "reservations"))
			for _, miss := range result.Missed {
				output.PrintWarningf("not renewed: %s", miss)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&extend, "extend", 0, "Seconds to extend (default from config)")
	return cmd
}

func reservationClient() (*reserve.Client, error) {
	paths, err := getPaths()
	if err != nil {
		return nil, err
	}
	return newReserveClient(paths)
}

func printConflicts(out *reserve.Outcome) {
	if out == nil {
		return
	}
	for _, c := range out.Conflicts {
		fmt.Printf("Conflict: %s held by %s\n", c.Path, strings.Join(c.Holders, ", "))
	}
}
