package tmux

import (
	"fmt"
	"strings"
)

// Pane is one multiplexer pane with the variables the control plane reads.
type Pane struct {
	ID          string // e.g. "%12"
	Session     string
	CurrentPath string
	Command     string
	AgentName   string // @agent_name pane option
	LLMName     string // @llm_name pane option
}

// paneFormat requests the fields of Pane, tab-separated.
const paneFormat = "#{pane_id}\t#{session_name}\t#{pane_current_path}\t#{pane_current_command}\t#{@agent_name}\t#{@llm_name}"

// ListPanes returns all live panes across sessions.
func (c *Client) ListPanes() ([]Pane, error) {
	out, err := c.Run("list-panes", "-a", "-F", paneFormat)
	if err != nil {
		return nil, err
	}
	return parsePanes(out), nil
}

// SessionPanes returns the live panes of one session.
func (c *Client) SessionPanes(session string) ([]Pane, error) {
	out, err := c.Run("list-panes", "-s", "-t", session, "-F", paneFormat)
	if err != nil {
		return nil, err
	}
	return parsePanes(out), nil
}

func parsePanes(out string) []Pane {
	var panes []Pane
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		p := Pane{}
		if len(fields) > 0 {
			p.ID = fields[0]
		}
		if len(fields) > 1 {
			p.Session = fields[1]
		}
		if len(fields) > 2 {
			p.CurrentPath = fields[2]
		}
		if len(fields) > 3 {
			p.Command = fields[3]
		}
		if len(fields) > 4 {
			p.AgentName = fields[4]
		}
		if len(fields) > 5 {
			p.LLMName = fields[5]
		}
		if p.ID != "" {
			panes = append(panes, p)
		}
	}
	return panes
}

// PaneAlive reports whether a pane id appears in the active pane listing.
func (c *Client) PaneAlive(paneID string) bool {
	panes, err := c.ListPanes()
	if err != nil {
		return false
	}
	for _, p := range panes {
		if p.ID == paneID {
			return true
		}
	}
	return false
}

// SessionExists checks whether the session is present.
func (c *Client) SessionExists(session string) bool {
	return c.RunSilent("has-session", "-t", session) == nil
}

// NewSession creates a detached session rooted at dir.
func (c *Client) NewSession(session, dir string) error {
	return c.RunSilent("new-session", "-d", "-s", session, "-c", dir)
}

// SplitPane splits the session's current window and returns the new pane id.
func (c *Client) SplitPane(session, dir string) (string, error) {
	return c.Run("split-window", "-t", session, "-c", dir, "-P", "-F", "#{pane_id}")
}

// KillPane destroys one pane.
func (c *Client) KillPane(paneID string) error {
	return c.RunSilent("kill-pane", "-t", paneID)
}

// KillSession destroys a whole session.
func (c *Client) KillSession(session string) error {
	return c.RunSilent("kill-session", "-t", session)
}

// SetPaneOption stores a per-pane variable such as @agent_name.
func (c *Client) SetPaneOption(paneID, option, value string) error {
	return c.RunSilent("set-option", "-p", "-t", paneID, option, value)
}

// SendComment injects a shell-comment line into a pane without executing
// anything: the text is prefixed with '#' and submitted on its own line.
// Agents watching the pane see the note; a shell at the prompt ignores it.
func (c *Client) SendComment(paneID, text string) error {
	// Collapse newlines so a multi-line message cannot start a real command.
	flat := strings.ReplaceAll(text, "\n", " ")
	return c.RunSilent("send-keys", "-t", paneID, fmt.Sprintf("# %s", flat), "Enter")
}

// ApplyTiledLayout re-tiles the session after pane changes.
func (c *Client) ApplyTiledLayout(session string) error {
	return c.RunSilent("select-layout", "-t", session, "tiled")
}
