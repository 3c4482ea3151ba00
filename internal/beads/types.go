package beads

import (
	"encoding/json"
	"strings"
	"time"
)

// Bead is one work item in the store. Only the fields drover reads are
// modeled; br owns the full schema.
type Bead struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Priority    int        `json:"priority,omitempty"`
	Type        string     `json:"issue_type,omitempty"`
	Assignee    FlexName   `json:"assignee,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
	BlockedBy   []string   `json:"blocked_by,omitempty"`
	Created     time.Time  `json:"created_at,omitempty"`
	Updated     time.Time  `json:"updated_at,omitempty"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// Text returns the searchable text of a bead: title, description, labels.
func (b Bead) Text() string {
	parts := []string{b.Title, b.Description}
	parts = append(parts, b.Labels...)
	return strings.ToLower(strings.Join(parts, " "))
}

// FlexName tolerates the two shapes br emits for people fields: a plain
// string, or an object with a "name" key.
type FlexName string

// UnmarshalJSON accepts "alice", {"name":"alice"}, or null.
func (f *FlexName) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexName(s)
		return nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*f = FlexName(obj.Name)
	return nil
}

// String returns the plain name.
func (f FlexName) String() string { return string(f) }
