// Package tmux wraps the terminal multiplexer CLI. The control plane never
// links a multiplexer library; every interaction goes through the tmux
// binary so that out-of-process tools observe identical state.
package tmux

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// Client executes tmux commands.
type Client struct{}

// DefaultClient is the shared local client.
var DefaultClient = &Client{}

// Run executes a tmux command and returns trimmed stdout.
func (c *Client) Run(args ...string) (string, error) {
	cmd := exec.Command("tmux", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tmux %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}

// RunSilent executes a tmux command ignoring output.
func (c *Client) RunSilent(args ...string) error {
	_, err := c.Run(args...)
	return err
}

// IsInstalled checks if tmux is available.
func (c *Client) IsInstalled() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

// EnsureInstalled returns an error if tmux is unavailable.
func (c *Client) EnsureInstalled() error {
	if !c.IsInstalled() {
		return fmt.Errorf("tmux is not installed or not on PATH")
	}
	return nil
}
