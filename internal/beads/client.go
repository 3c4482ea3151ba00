// Package beads provides integration with the br bead-store CLI. The store
// itself stays external: drover shells out to br so that every consumer of
// the store (humans, agents, shell tooling) sees the same state transitions.
package beads

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrNotInstalled indicates br is not on PATH.
var ErrNotInstalled = errors.New("br is not installed")

// ErrTimeout indicates a br command timed out.
var ErrTimeout = errors.New("br command timed out")

// ErrInvalidJSON indicates br returned output that is not valid JSON.
var ErrInvalidJSON = errors.New("br returned invalid JSON")

// DefaultTimeout is the max time for br commands.
const DefaultTimeout = 10 * time.Second

// Client executes br commands inside a workspace.
type Client struct {
	// WorkspacePath is the project directory (defaults to current directory).
	WorkspacePath string

	// Timeout is the max time for br commands (default 10s).
	Timeout time.Duration
}

// NewClient creates a Client for the given workspace.
func NewClient(workspacePath string) *Client {
	return &Client{
		WorkspacePath: workspacePath,
		Timeout:       DefaultTimeout,
	}
}

// IsInstalled checks whether br is available.
func IsInstalled() bool {
	_, err := exec.LookPath("br")
	return err == nil
}

// run executes br with --json and parses stdout into out.
func (c *Client) run(ctx context.Context, out any, args ...string) error {
	if !IsInstalled() {
		return fmt.Errorf("%w: install the beads CLI and re-run", ErrNotInstalled)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "br", args...)
	if c.WorkspacePath != "" {
		cmd.Dir = c.WorkspacePath
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w after %v", ErrTimeout, timeout)
		}
		return fmt.Errorf("br %s failed: %w: %s", args[0], err, stderr.String())
	}

	if out == nil {
		return nil
	}
	raw := stdout.Bytes()
	if !json.Valid(raw) {
		return fmt.Errorf("%w: br %s returned non-JSON output", ErrInvalidJSON, args[0])
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parsing br %s response: %w", args[0], err)
	}
	return nil
}

// List returns beads matching a status ("" means all).
func (c *Client) List(ctx context.Context, status string) ([]Bead, error) {
	args := []string{"list", "--json"}
	if status != "" {
		args = append(args, "--status", status)
	}
	var beads []Bead
	if err := c.run(ctx, &beads, args...); err != nil {
		return nil, err
	}
	return beads, nil
}

// Ready returns beads that are actionable right now (no open blockers).
func (c *Client) Ready(ctx context.Context) ([]Bead, error) {
	var beads []Bead
	if err := c.run(ctx, &beads, "ready", "--json"); err != nil {
		return nil, err
	}
	return beads, nil
}

// InProgress returns beads currently claimed by agents.
func (c *Client) InProgress(ctx context.Context) ([]Bead, error) {
	return c.List(ctx, "in_progress")
}

// Show returns one bead by id.
func (c *Client) Show(ctx context.Context, id string) (*Bead, error) {
	var bead Bead
	if err := c.run(ctx, &bead, "show", id, "--json"); err != nil {
		return nil, err
	}
	return &bead, nil
}

// Claim marks a bead in_progress for an agent.
func (c *Client) Claim(ctx context.Context, id, agent string) error {
	return c.run(ctx, nil, "update", id, "--status", "in_progress", "--assignee", agent)
}

// Release returns a claimed bead to the open pool.
func (c *Client) Release(ctx context.Context, id string) error {
	return c.run(ctx, nil, "update", id, "--status", "open", "--assignee", "")
}

// Close marks a bead done.
func (c *Client) Close(ctx context.Context, id string) error {
	return c.run(ctx, nil, "close", id)
}
