// Package cli wires the drover command tree. Every subcommand has a typed
// response struct; --json renders it verbatim, otherwise a short human
// summary is printed.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/activity"
	"github.com/droverhq/drover/internal/beads"
	"github.com/droverhq/drover/internal/broadcast"
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/history"
	"github.com/droverhq/drover/internal/mail"
	"github.com/droverhq/drover/internal/registry"
	"github.com/droverhq/drover/internal/reserve"
	"github.com/droverhq/drover/internal/tmux"
)

var (
	cfgFile string
	cfg     *config.Config

	// Global JSON output flag, inherited by all subcommands.
	jsonOutput bool

	// Project root override. Defaults to the working directory.
	rootDir string
)

var rootCmd = &cobra.Command{
	Use:   "drover",
	Short: "Fleet control plane for pane-hosted coding agents",
	Long: `Drover manages a fleet of AI coding agents running in tmux panes:
spawning and tearing down swarms, sizing the fleet to the ready queue,
routing messages, and coordinating file reservations through the
agent-mail service.

Quick Start:
  drover spawn myproject backend 3       # Spawn 3 backend agents
  drover scale analyze                   # Inspect queue composition
  drover monitor start                   # Start the queue/health daemon
  drover send @active "sync" "stand-up"  # Broadcast to live agents`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ~/.config/drover/config.toml)")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "Project root (default: working directory)")

	rootCmd.AddCommand(
		newAgentsCmd(),
		newScaleCmd(),
		newMatchCmd(),
		newMonitorCmd(),
		newReserveCmd(),
		newRequestCmd(),
		newCheckCmd(),
		newReleaseCmd(),
		newRenewCmd(),
		newTaskCmd(),
		newLocksCmd(),
		newInboxCmd(),
		newSendCmd(),
		newSpawnCmd(),
		newTeardownCmd(),
		newAuditCmd(),
	)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// IsJSONOutput reports whether --json was passed.
func IsJSONOutput() bool { return jsonOutput }

// getProjectRoot resolves the project root from the flag or the working
// directory.
func getProjectRoot() (string, error) {
	if rootDir != "" {
		return rootDir, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return wd, nil
}

func getPaths() (config.Paths, error) {
	root, err := getProjectRoot()
	if err != nil {
		return config.Paths{}, err
	}
	return config.NewPaths(root), nil
}

// paneLister adapts the tmux client to the registry's pane interface.
type paneLister struct {
	client *tmux.Client
}

func (p paneLister) ListPanes() ([]registry.Pane, error) {
	panes, err := p.client.ListPanes()
	if err != nil {
		return nil, err
	}
	out := make([]registry.Pane, 0, len(panes))
	for _, pane := range panes {
		out = append(out, registry.Pane{ID: pane.ID, AgentName: pane.AgentName})
	}
	return out, nil
}

func newRegistry(paths config.Paths) (*registry.Registry, error) {
	catalog, err := registry.LoadCatalog(paths.TypesCatalog())
	if err != nil {
		return nil, fmt.Errorf("loading type catalog: %w", err)
	}
	return registry.New(paths, catalog, paneLister{client: tmux.DefaultClient}), nil
}

func newMailClient() *mail.Client {
	return mail.NewClient(
		mail.WithBaseURL(cfg.MailServer),
		mail.WithToken(cfg.MailToken),
	)
}

func newBeadsClient(paths config.Paths) *beads.Client {
	return beads.NewClient(paths.Root)
}

func newTracker(paths config.Paths) *history.Tracker {
	return history.NewTracker(paths.ActiveTrackingLog(), paths.PerformanceLog())
}

func newActivityLog(paths config.Paths) *activity.Log {
	return activity.NewLog(paths.ActivityLog())
}

func newRouter() *broadcast.Router {
	return broadcast.NewRouter(newMailClient(), tmux.DefaultClient)
}

func newReserveClient(paths config.Paths) (*reserve.Client, error) {
	agent := callerAgent()
	if agent == "" {
		return nil, fmt.Errorf("no agent identity: set AGENT_NAME or sender_name in config")
	}
	return reserve.NewClient(
		newMailClient(),
		reserve.NewPendingStore(paths.PendingDir()),
		config.ProjectKey(paths.Root),
		agent,
		cfg,
		paths.ProductUID(),
	), nil
}

// callerAgent resolves the agent identity the CLI acts as.
func callerAgent() string {
	if name := config.AgentName(); name != "" {
		return name
	}
	return cfg.SenderName
}

// commandContext returns the standard per-command timeout context.
func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
