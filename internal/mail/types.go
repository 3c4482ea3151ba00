// Package mail is an HTTP client for the MCP agent-mail service. Agents
// coordinate through it: messaging, advisory file reservations, and project
// registration. All tool calls go over JSON-RPC 2.0.
package mail

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Agent is one registered agent identity within a mail project.
type Agent struct {
	ID              int      `json:"id"`
	Name            string   `json:"name"`
	Program         string   `json:"program"`
	Model           string   `json:"model"`
	TaskDescription string   `json:"task_description"`
	InceptionTS     FlexTime `json:"inception_ts"`
	LastActiveTS    FlexTime `json:"last_active_ts"`
	ProjectID       int      `json:"project_id"`
}

// Project is a mail project keyed by an absolute path.
type Project struct {
	ID       int    `json:"id"`
	Slug     string `json:"slug"`
	HumanKey string `json:"human_key"`
}

// InboxMessage is one message as seen in an agent's inbox.
type InboxMessage struct {
	ID          int      `json:"id"`
	Subject     string   `json:"subject"`
	From        string   `json:"from"`
	CreatedTS   FlexTime `json:"created_ts"`
	ThreadID    *string  `json:"thread_id,omitempty"`
	Importance  string   `json:"importance"`
	AckRequired bool     `json:"ack_required"`
	Kind        string   `json:"kind"`
	BodyMD      string   `json:"body_md,omitempty"`
}

// SendResult is the delivery report for a sent message.
type SendResult struct {
	Count      int               `json:"count"`
	Deliveries []json.RawMessage `json:"deliveries"`
}

// FileReservation is one advisory path lock.
type FileReservation struct {
	ID          int       `json:"id"`
	PathPattern string    `json:"path_pattern"`
	AgentName   string    `json:"agent_name"`
	Exclusive   bool      `json:"exclusive"`
	Reason      string    `json:"reason"`
	CreatedTS   FlexTime  `json:"created_ts"`
	ExpiresTS   FlexTime  `json:"expires_ts"`
	ReleasedTS  *FlexTime `json:"released_ts,omitempty"`
}

// Remaining returns the time left on the reservation.
func (r FileReservation) Remaining(now time.Time) time.Duration {
	return r.ExpiresTS.Time.Sub(now)
}

// ReservationResult reports which paths were granted and which conflicted.
type ReservationResult struct {
	Granted   []FileReservation     `json:"granted"`
	Conflicts []ReservationConflict `json:"conflicts"`
}

// ReservationConflict names a contested path and who holds it.
type ReservationConflict struct {
	Path    string
	Holders []string
}

// UnmarshalJSON accepts both holder encodings the server has used: a list
// of names, or a list of objects with agent/agent_name keys.
func (c *ReservationConflict) UnmarshalJSON(data []byte) error {
	var raw struct {
		Path    string          `json:"path"`
		Holders json.RawMessage `json:"holders"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Path = raw.Path
	c.Holders = []string{}

	if len(raw.Holders) == 0 || string(raw.Holders) == "null" {
		return nil
	}

	var names []string
	if err := json.Unmarshal(raw.Holders, &names); err == nil {
		c.Holders = names
		return nil
	}

	var objs []struct {
		Agent     string `json:"agent"`
		AgentName string `json:"agent_name"`
	}
	if err := json.Unmarshal(raw.Holders, &objs); err != nil {
		return fmt.Errorf("unsupported holders format: %s", string(raw.Holders))
	}
	for _, o := range objs {
		name := o.Agent
		if name == "" {
			name = o.AgentName
		}
		if name != "" {
			c.Holders = append(c.Holders, name)
		}
	}
	return nil
}

// RenewResult reports reservations whose TTL was extended.
type RenewResult struct {
	Renewed []FileReservation `json:"renewed"`
	Missed  []string          `json:"missed,omitempty"`
}

// RegisterAgentOptions configures agent registration.
type RegisterAgentOptions struct {
	ProjectKey      string
	Program         string
	Model           string
	Name            string // optional; server generates one if empty
	TaskDescription string
}

// SendMessageOptions configures message delivery.
type SendMessageOptions struct {
	ProjectKey  string
	SenderName  string
	To          []string
	Subject     string
	BodyMD      string
	CC          []string
	Importance  string // normal, high, urgent
	AckRequired bool
	ThreadID    string
}

// FetchInboxOptions configures inbox retrieval.
type FetchInboxOptions struct {
	ProjectKey    string
	AgentName     string
	UrgentOnly    bool
	SinceTS       *time.Time
	Limit         int
	IncludeBodies bool
}

// ReserveOptions configures a file reservation request.
type ReserveOptions struct {
	ProjectKey string
	AgentName  string
	Paths      []string
	TTLSeconds int
	Exclusive  bool
	Reason     string
}

// RenewOptions configures a TTL extension.
type RenewOptions struct {
	ProjectKey    string
	AgentName     string
	ExtendSeconds int
	Paths         []string
}

// FlexTime tolerates the timestamp shapes the server emits: RFC 3339 with
// or without a zone. Bare timestamps are assumed UTC.
type FlexTime struct {
	time.Time
}

var flexTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// UnmarshalJSON parses the supported layouts. An empty string is the zero
// time.
func (f *FlexTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		f.Time = time.Time{}
		return nil
	}
	for _, layout := range flexTimeLayouts {
		if strings.Contains(layout, "Z07:00") {
			if t, err := time.Parse(layout, s); err == nil {
				f.Time = t.UTC()
				return nil
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			f.Time = t
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}

// MarshalJSON emits RFC 3339 with nanoseconds.
func (f FlexTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Time.Format(time.RFC3339Nano))
}
