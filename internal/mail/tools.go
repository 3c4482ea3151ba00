package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// EnsureProject creates or fetches the project for a path key.
func (c *Client) EnsureProject(ctx context.Context, projectKey string) (*Project, error) {
	result, err := c.callTool(ctx, "ensure_project", map[string]any{
		"human_key": projectKey,
	})
	if err != nil {
		return nil, err
	}

	var project Project
	if err := json.Unmarshal(result, &project); err != nil {
		return nil, NewAPIError("ensure_project", 0, err)
	}
	return &project, nil
}

// RegisterAgent registers an agent identity in a project. Re-registering an
// existing name refreshes its task description.
func (c *Client) RegisterAgent(ctx context.Context, opts RegisterAgentOptions) (*Agent, error) {
	args := map[string]any{
		"project_key": opts.ProjectKey,
		"program":     opts.Program,
		"model":       opts.Model,
	}
	if opts.Name != "" {
		args["name"] = opts.Name
	}
	if opts.TaskDescription != "" {
		args["task_description"] = opts.TaskDescription
	}

	result, err := c.callTool(ctx, "register_agent", args)
	if err != nil {
		return nil, err
	}

	var agent Agent
	if err := json.Unmarshal(result, &agent); err != nil {
		return nil, NewAPIError("register_agent", 0, err)
	}
	return &agent, nil
}

// SendMessage delivers a message to one or more agents.
func (c *Client) SendMessage(ctx context.Context, opts SendMessageOptions) (*SendResult, error) {
	args := map[string]any{
		"project_key": opts.ProjectKey,
		"sender_name": opts.SenderName,
		"to":          opts.To,
		"subject":     opts.Subject,
		"body_md":     opts.BodyMD,
	}
	if len(opts.CC) > 0 {
		args["cc"] = opts.CC
	}
	if opts.Importance != "" {
		args["importance"] = opts.Importance
	}
	if opts.AckRequired {
		args["ack_required"] = true
	}
	if opts.ThreadID != "" {
		args["thread_id"] = opts.ThreadID
	}

	result, err := c.callTool(ctx, "send_message", args)
	if err != nil {
		return nil, err
	}

	var sendResult SendResult
	if err := json.Unmarshal(result, &sendResult); err != nil {
		return nil, NewAPIError("send_message", 0, err)
	}
	return &sendResult, nil
}

// FetchInbox retrieves inbox messages for an agent. The server has emitted
// both a wrapper object and a bare array over its lifetime; accept both.
func (c *Client) FetchInbox(ctx context.Context, opts FetchInboxOptions) ([]InboxMessage, error) {
	args := map[string]any{
		"project_key": opts.ProjectKey,
		"agent_name":  opts.AgentName,
	}
	if opts.UrgentOnly {
		args["urgent_only"] = true
	}
	if opts.SinceTS != nil {
		args["since_ts"] = opts.SinceTS.Format(time.RFC3339)
	}
	if opts.Limit > 0 {
		args["limit"] = opts.Limit
	}
	if opts.IncludeBodies {
		args["include_bodies"] = true
	}

	result, err := c.callTool(ctx, "fetch_inbox", args)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Result []InboxMessage `json:"result"`
	}
	if err := json.Unmarshal(result, &wrapper); err == nil && wrapper.Result != nil {
		return wrapper.Result, nil
	}
	var messages []InboxMessage
	if err := json.Unmarshal(result, &messages); err != nil {
		return nil, NewAPIError("fetch_inbox", 0, err)
	}
	return messages, nil
}

// MarkMessageRead marks one message read for an agent.
func (c *Client) MarkMessageRead(ctx context.Context, projectKey, agentName string, messageID int) error {
	_, err := c.callTool(ctx, "mark_message_read", map[string]any{
		"project_key": projectKey,
		"agent_name":  agentName,
		"message_id":  messageID,
	})
	return err
}

// AcknowledgeMessage acknowledges an ack-required message.
func (c *Client) AcknowledgeMessage(ctx context.Context, projectKey, agentName string, messageID int) error {
	_, err := c.callTool(ctx, "acknowledge_message", map[string]any{
		"project_key": projectKey,
		"agent_name":  agentName,
		"message_id":  messageID,
	})
	return err
}

// ReservePaths requests advisory reservations on the given paths. A result
// with conflicts is returned alongside ErrReservationConflict so callers can
// inspect both the grants and the holders.
func (c *Client) ReservePaths(ctx context.Context, opts ReserveOptions) (*ReservationResult, error) {
	args := map[string]any{
		"project_key": opts.ProjectKey,
		"agent_name":  opts.AgentName,
		"paths":       opts.Paths,
	}
	if opts.TTLSeconds > 0 {
		args["ttl_seconds"] = opts.TTLSeconds
	}
	if opts.Exclusive {
		args["exclusive"] = true
	}
	if opts.Reason != "" {
		args["reason"] = opts.Reason
	}

	result, err := c.callTool(ctx, "file_reservation_paths", args)
	if err != nil {
		return nil, err
	}

	var res ReservationResult
	if err := json.Unmarshal(result, &res); err != nil {
		return nil, NewAPIError("file_reservation_paths", 0, err)
	}
	if len(res.Conflicts) > 0 {
		return &res, fmt.Errorf("%w: %d conflicts", ErrReservationConflict, len(res.Conflicts))
	}
	return &res, nil
}

// ReleaseReservations releases reservations by path and/or id.
func (c *Client) ReleaseReservations(ctx context.Context, projectKey, agentName string, paths []string, ids []int) error {
	args := map[string]any{
		"project_key": projectKey,
		"agent_name":  agentName,
	}
	if len(paths) > 0 {
		args["paths"] = paths
	}
	if len(ids) > 0 {
		args["file_reservation_ids"] = ids
	}

	_, err := c.callTool(ctx, "release_file_reservations", args)
	return err
}

// RenewReservations extends the TTL of the agent's reservations.
func (c *Client) RenewReservations(ctx context.Context, opts RenewOptions) (*RenewResult, error) {
	args := map[string]any{
		"project_key":    opts.ProjectKey,
		"agent_name":     opts.AgentName,
		"extend_seconds": opts.ExtendSeconds,
	}
	if len(opts.Paths) > 0 {
		args["paths"] = opts.Paths
	}

	result, err := c.callTool(ctx, "renew_file_reservations", args)
	if err != nil {
		return nil, err
	}

	var renewed RenewResult
	if err := json.Unmarshal(result, &renewed); err != nil {
		return nil, NewAPIError("renew_file_reservations", 0, err)
	}
	return &renewed, nil
}

// ListReservations returns active reservations for a project, optionally
// filtered to one agent. The resource view is preferred; older servers fall
// back to the legacy tool.
func (c *Client) ListReservations(ctx context.Context, projectKey, agentName string) ([]FileReservation, error) {
	uri := fmt.Sprintf("resource://file_reservations/%s?active_only=true&format=json", url.PathEscape(projectKey))

	result, err := c.ReadResource(ctx, uri)
	if err != nil {
		args := map[string]any{"project_key": projectKey}
		if agentName != "" {
			args["agent_name"] = agentName
		}
		toolResult, toolErr := c.callTool(ctx, "list_file_reservations", args)
		if toolErr != nil {
			return nil, err // the resource error names the real problem
		}
		var reservations []FileReservation
		if err := json.Unmarshal(toolResult, &reservations); err != nil {
			return nil, NewAPIError("list_file_reservations", 0, err)
		}
		return reservations, nil
	}

	text, err := resourceText(result)
	if err != nil {
		return nil, NewAPIError("resource://file_reservations", 0, err)
	}
	if text == "" {
		return []FileReservation{}, nil
	}

	var raw []struct {
		ID          int       `json:"id"`
		Agent       string    `json:"agent"`
		AgentName   string    `json:"agent_name"`
		PathPattern string    `json:"path_pattern"`
		Exclusive   bool      `json:"exclusive"`
		Reason      string    `json:"reason"`
		CreatedTS   FlexTime  `json:"created_ts"`
		ExpiresTS   FlexTime  `json:"expires_ts"`
		ReleasedTS  *FlexTime `json:"released_ts,omitempty"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, NewAPIError("resource://file_reservations", 0, err)
	}

	reservations := make([]FileReservation, 0, len(raw))
	for _, r := range raw {
		name := r.Agent
		if name == "" {
			name = r.AgentName
		}
		if agentName != "" && name != agentName {
			continue
		}
		reservations = append(reservations, FileReservation{
			ID:          r.ID,
			PathPattern: r.PathPattern,
			AgentName:   name,
			Exclusive:   r.Exclusive,
			Reason:      r.Reason,
			CreatedTS:   r.CreatedTS,
			ExpiresTS:   r.ExpiresTS,
			ReleasedTS:  r.ReleasedTS,
		})
	}
	return reservations, nil
}

// ListProjectAgents lists agents registered in a project via the agents
// resource.
func (c *Client) ListProjectAgents(ctx context.Context, projectKey string) ([]Agent, error) {
	uri := fmt.Sprintf("resource://agents/%s", url.PathEscape(projectKey))

	result, err := c.ReadResource(ctx, uri)
	if err != nil {
		return nil, err
	}

	text, err := resourceText(result)
	if err != nil {
		return nil, NewAPIError("list_agents", 0, err)
	}
	if text == "" {
		return []Agent{}, nil
	}

	var wrapped struct {
		Agents []Agent `json:"agents"`
	}
	if err := json.Unmarshal([]byte(text), &wrapped); err == nil && wrapped.Agents != nil {
		return wrapped.Agents, nil
	}
	var agents []Agent
	if err := json.Unmarshal([]byte(text), &agents); err != nil {
		return nil, NewAPIError("list_agents", 0, err)
	}
	return agents, nil
}

// resourceText extracts the first text chunk of a resources/read result.
func resourceText(result json.RawMessage) (string, error) {
	var resp struct {
		Contents []struct {
			Text string `json:"text"`
		} `json:"contents"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return "", err
	}
	if len(resp.Contents) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Contents[0].Text), nil
}
