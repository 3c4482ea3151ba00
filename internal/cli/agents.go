package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/output"
	"github.com/droverhq/drover/internal/registry"
)

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage the agent registry and type catalog",
		Long: `Manage registered agent instances and the agent-type catalog.

Subcommands:
  register      Register an agent instance
  unregister    Remove an agent instance
  active        List active instances
  list          List catalog types
  show          Show one catalog type
  validate      Check a type against the catalog
  capabilities  Print a type's capabilities

Examples:
  drover agents register BlueLake backend
  drover agents active --json
  drover agents show qa`,
	}

	cmd.AddCommand(
		newAgentsRegisterCmd(),
		newAgentsUnregisterCmd(),
		newAgentsActiveCmd(),
		newAgentsListCmd(),
		newAgentsShowCmd(),
		newAgentsValidateCmd(),
		newAgentsCapabilitiesCmd(),
	)
	return cmd
}

// RegisterResponse reports a registration.
type RegisterResponse struct {
	output.TimestampedResponse
	Agent   string `json:"agent"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
}

func newAgentsRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <name> <type>",
		Short: "Register an agent instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}
			reg, err := newRegistry(paths)
			if err != nil {
				return err
			}
			inst, err := reg.Register(args[0], args[1])
			if err != nil {
				return err
			}

			resp := RegisterResponse{
				TimestampedResponse: output.NewTimestamped(),
				Agent:               inst.Name,
				Type:                inst.Type,
				Success:             true,
			}
			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			fmt.Printf("Registered %s (%s)\n", inst.Name, inst.Type)
			return nil
		},
	}
}

// UnregisterResponse reports an unregistration.
type UnregisterResponse struct {
	output.TimestampedResponse
	Agent   string `json:"agent"`
	Removed bool   `json:"removed"`
}

func newAgentsUnregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <name>",
		Short: "Remove an agent instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}
			reg, err := newRegistry(paths)
			if err != nil {
				return err
			}
			removed, err := reg.Unregister(args[0])
			if err != nil {
				return err
			}
			if !removed {
				output.PrintWarningf("%s was not registered", args[0])
			}

			resp := UnregisterResponse{
				TimestampedResponse: output.NewTimestamped(),
				Agent:               args[0],
				Removed:             removed,
			}
			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			if removed {
				fmt.Printf("Unregistered %s\n", args[0])
			}
			return nil
		},
	}
}

// ActiveResponse lists active instances.
type ActiveResponse struct {
	output.TimestampedResponse
	Agents []registry.Instance `json:"agents"`
	Count  int                 `json:"count"`
}

func newAgentsActiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "List active agent instances",
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
			agents, err := reg.Active()
			if err != nil {
				return err
			}

			resp := ActiveResponse{
				TimestampedResponse: output.NewTimestamped(),
				Agents:              agents,
				Count:               len(agents),
			}
			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			if len(agents) == 0 {
				fmt.Println("No active agents")
				return nil
			}
			table := output.NewTable(os.Stdout, "NAME", "TYPE", "REGISTERED")
			for _, a := range agents {
				table.AddRow(a.Name, a.Type, a.RegisteredAt.Format("2006-01-02 15:04"))
			}
			table.Render()
			return nil
		},
	}
}

// TypesResponse lists catalog types.
type TypesResponse struct {
	output.TimestampedResponse
	Types []registry.AgentType `json:"types"`
}

func newAgentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agent types in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}
			catalog, err := registry.LoadCatalog(paths.TypesCatalog())
			if err != nil {
				return err
			}

			resp := TypesResponse{
				TimestampedResponse: output.NewTimestamped(),
				Types:               catalog.Types(),
			}
			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			for _, t := range resp.Types {
				fmt.Printf("%-12s %s\n", t.Name, t.Description)
			}
			return nil
		},
	}
}

// TypeResponse shows one catalog type.
type TypeResponse struct {
	output.TimestampedResponse
	Type registry.AgentType `json:"type"`
}

func newAgentsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <type>",
		Short: "Show one agent type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}
			catalog, err := registry.LoadCatalog(paths.TypesCatalog())
			if err != nil {
				return err
			}
			t, ok := catalog.Type(args[0])
			if !ok {
				return fmt.Errorf("%w: %q", registry.ErrInvalidType, args[0])
			}

			resp := TypeResponse{TimestampedResponse: output.NewTimestamped(), Type: t}
			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			fmt.Printf("%s: %s\n", t.Name, t.Description)
			fmt.Printf("  Capabilities: %s\n", strings.Join(t.Capabilities, ", "))
			if t.CapacityLimit > 0 {
				fmt.Printf("  Capacity limit: %d\n", t.CapacityLimit)
			}
			if t.Role != "" {
				fmt.Printf("  Role: %s\n", t.Role)
			}
			return nil
		},
	}
}

// ValidateResponse reports a type check.
type ValidateResponse struct {
	output.TimestampedResponse
	Type  string `json:"type"`
	Valid bool   `json:"valid"`
}

func newAgentsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <type>",
		Short: "Check a type against the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}
			catalog, err := registry.LoadCatalog(paths.TypesCatalog())
			if err != nil {
				return err
			}

			resp := ValidateResponse{
				TimestampedResponse: output.NewTimestamped(),
				Type:                args[0],
				Valid:               catalog.Validate(args[0]),
			}
			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			if !resp.Valid {
				return fmt.Errorf("%w: %q", registry.ErrInvalidType, args[0])
			}
			fmt.Printf("%s is a valid agent type\n", args[0])
			return nil
		},
	}
}

// CapabilitiesResponse lists a type's capabilities.
type CapabilitiesResponse struct {
	output.TimestampedResponse
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities"`
}

func newAgentsCapabilitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities <type>",
		Short: "Print a type's capabilities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}
			catalog, err := registry.LoadCatalog(paths.TypesCatalog())
			if err != nil {
				return err
			}
			caps, ok := catalog.Capabilities(args[0])
			if !ok {
				return fmt.Errorf("%w: %q", registry.ErrInvalidType, args[0])
			}

			resp := CapabilitiesResponse{
				TimestampedResponse: output.NewTimestamped(),
				Type:                args[0],
				Capabilities:        caps,
			}
			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			fmt.Println(strings.Join(caps, "\n"))
			return nil
		},
	}
}
