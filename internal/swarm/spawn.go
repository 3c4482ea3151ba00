package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/droverhq/drover/internal/activity"
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/mail"
	"github.com/droverhq/drover/internal/registry"
)

// spawnTarget is the soft end-to-end budget for a small swarm. Missing it
// is a warning, never a failure.
const spawnTarget = 30 * time.Second

// Multiplexer is the slice of the tmux client the spawner uses.
type Multiplexer interface {
	SessionExists(session string) bool
	NewSession(session, dir string) error
	SplitPane(session, dir string) (string, error)
	SetPaneOption(paneID, option, value string) error
	KillPane(paneID string) error
	ApplyTiledLayout(session string) error
}

// Mailer is the slice of the mail client the spawner uses.
type Mailer interface {
	EnsureProject(ctx context.Context, projectKey string) (*mail.Project, error)
	RegisterAgent(ctx context.Context, opts mail.RegisterAgentOptions) (*mail.Agent, error)
	ReleaseReservations(ctx context.Context, projectKey, agentName string, paths []string, ids []int) error
	ListReservations(ctx context.Context, projectKey, agentName string) ([]mail.FileReservation, error)
}

// Manager spawns and tears down swarms.
type Manager struct {
	paths    config.Paths
	cfg      *config.Config
	registry *registry.Registry
	mux      Multiplexer
	mailer   Mailer
	log      *activity.Log
	slog     *slog.Logger
}

// NewManager wires a Manager.
func NewManager(paths config.Paths, cfg *config.Config, reg *registry.Registry, mux Multiplexer, mailer Mailer, actLog *activity.Log, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		paths:    paths,
		cfg:      cfg,
		registry: reg,
		mux:      mux,
		mailer:   mailer,
		log:      actLog,
		slog:     logger,
	}
}

// SpawnResult reports a spawn.
type SpawnResult struct {
	State    *State        `json:"state"`
	Duration time.Duration `json:"duration"`
	Warnings []string      `json:"warnings,omitempty"`
}

// Spawn creates count agents of agentType inside session, registering each
// with the registry and the mail service. Spawning is idempotent per agent
// name: a name already active is skipped, not duplicated.
func (m *Manager) Spawn(ctx context.Context, session, agentType string, count int) (*SpawnResult, error) {
	if count <= 0 {
		return nil, fmt.Errorf("spawn count must be positive")
	}
	if !m.registry.Catalog().Validate(agentType) {
		return nil, fmt.Errorf("%w: %q", registry.ErrInvalidType, agentType)
	}

	started := time.Now()
	result := &SpawnResult{}

	if !m.mux.SessionExists(session) {
		if err := m.mux.NewSession(session, m.paths.Root); err != nil {
			return nil, fmt.Errorf("creating session %s: %w", session, err)
		}
	}

	if _, err := m.mailer.EnsureProject(ctx, config.ProjectKey(m.paths.Root)); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("mail project: %v", err))
	}

	taken, err := m.takenNames()
	if err != nil {
		return nil, err
	}

	state := &State{
		Session:    session,
		BatchID:    uuid.NewString(),
		Count:      count,
		AgentType:  agentType,
		SpawnTime:  started.UTC(),
		ProductUID: m.paths.ProductUID(),
	}

	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if i > 0 {
			time.Sleep(m.cfg.SpawnDelay)
		}

		name := PickName(taken)
		taken[name] = true

		paneID, err := m.mux.SplitPane(session, m.paths.Root)
		if err != nil {
			return result, fmt.Errorf("allocating pane for %s: %w", name, err)
		}
		if err := m.mux.SetPaneOption(paneID, "@agent_name", name); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: pane option: %v", name, err))
		}
		if err := m.registry.BindPane(paneID, name, agentType); err != nil {
			_ = m.mux.KillPane(paneID)
			return result, err
		}
		if _, err := m.registry.Register(name, agentType); err != nil {
			_ = m.mux.KillPane(paneID)
			return result, err
		}
		if _, err := m.mailer.RegisterAgent(ctx, mail.RegisterAgentOptions{
			ProjectKey: config.ProjectKey(m.paths.Root),
			Program:    "drover",
			Model:      agentType,
			Name:       name,
		}); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: mail registration: %v", name, err))
		}

		state.Agents = append(state.Agents, Member{Index: i, Name: name, PaneID: paneID})
		if err := m.log.Record(activity.EventSpawn, name, map[string]string{
			"type": agentType,
			"pane": paneID,
		}); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: activity log: %v", name, err))
		}
		m.slog.Info("spawned agent", "agent", name, "type", agentType, "pane", paneID)
	}

	_ = m.mux.ApplyTiledLayout(session)

	if err := WriteState(m.paths, state); err != nil {
		return result, err
	}
	result.State = state
	result.Duration = time.Since(started)
	if result.Duration > spawnTarget {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("spawn took %s, over the %s target", result.Duration.Round(time.Second), spawnTarget))
	}
	return result, nil
}

// takenNames collects names already in use by registered instances.
func (m *Manager) takenNames() (map[string]bool, error) {
	active, err := m.registry.Active()
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(active))
	for _, inst := range active {
		taken[inst.Name] = true
	}
	return taken, nil
}
