package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/output"
	"github.com/droverhq/drover/internal/registry"
)

// AuditResponse reports a registry self-audit.
type AuditResponse struct {
	output.TimestampedResponse
	Findings []registry.Finding `json:"findings"`
	Fixed    int                `json:"fixed"`
	Clean    bool               `json:"clean"`
}

func newAuditCmd() *cobra.Command {
	var fix bool

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit registry state against live panes",
		Long: `Cross-check pane identities, name files, and registrations against
the live tmux panes. Stale records for dead panes are fixable; duplicate
bindings on live panes are reported but never auto-fixed.

Examples:
  drover audit
  drover audit --fix`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}
			reg, err := newRegistry(paths)
			if err != nil {
				return err
			}
			report, err := reg.SelfAudit(fix)
			if err != nil {
				return err
			}

			resp := AuditResponse{
				TimestampedResponse: output.NewTimestamped(),
				Findings:            report.Findings,
				Fixed:               report.Fixed,
				Clean:               report.Clean(),
			}
			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			if resp.Clean {
				fmt.Println("Registry state is clean")
				return nil
			}
			for _, f := range report.Findings {
				marker := " "
				if f.Fixable {
					marker = "*"
				}
				fmt.Printf("%s %-18s %s\n", marker, f.Kind, f.Detail)
			}
			if report.Fixed > 0 {
				fmt.Printf("Fixed %s\n", output.CountStr(report.Fixed, "entry", "entries"))
			} else if !fix {
				fmt.Println("Run with --fix to remove entries marked *")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&fix, "fix", false, "Remove provably stale entries")
	return cmd
}
