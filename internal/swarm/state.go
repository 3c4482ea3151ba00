// Package swarm spawns and tears down groups of pane-hosted agents, tracking
// each group through a state file under pids/.
package swarm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/util"
)

// Member is one agent in a swarm.
type Member struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	PaneID string `json:"pane_id"`
}

// State is the durable record of one swarm.
type State struct {
	Session    string    `json:"session"`
	BatchID    string    `json:"batch_id"`
	Count      int       `json:"count"`
	AgentType  string    `json:"agent_type"`
	SpawnTime  time.Time `json:"spawn_time"`
	Agents     []Member  `json:"agents"`
	ProductUID string    `json:"product_uid,omitempty"`
}

// WriteState persists a swarm state file atomically.
func WriteState(paths config.Paths, state *State) error {
	if err := os.MkdirAll(paths.PidsDir(), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling swarm state: %w", err)
	}
	return util.AtomicWriteFile(paths.SwarmStateFile(state.Session), append(data, '\n'), 0644)
}

// ReadState loads a swarm state file by swarm name.
func ReadState(paths config.Paths, name string) (*State, error) {
	data, err := os.ReadFile(paths.SwarmStateFile(name))
	if err != nil {
		return nil, fmt.Errorf("reading swarm state %s: %w", name, err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing swarm state %s: %w", name, err)
	}
	return &state, nil
}

// ArchiveState renames a swarm state file out of the live namespace. The
// file is kept (with a timestamp suffix) so post-mortems can reconstruct
// what ran.
func ArchiveState(paths config.Paths, name string) error {
	src := paths.SwarmStateFile(name)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	dst := filepath.Join(paths.PidsDir(),
		fmt.Sprintf("swarm-%s.state.%d.done", name, time.Now().Unix()))
	return os.Rename(src, dst)
}

// ListStates returns the live swarm states, skipping unreadable files.
func ListStates(paths config.Paths) ([]State, error) {
	matches, err := filepath.Glob(filepath.Join(paths.PidsDir(), "swarm-*.state"))
	if err != nil {
		return nil, err
	}
	var out []State
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var state State
		if err := json.Unmarshal(data, &state); err != nil {
			continue
		}
		out = append(out, state)
	}
	return out, nil
}
