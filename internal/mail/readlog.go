package mail

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ReadRecord marks one inbox message as read on this host. Read state is
// keyed by a locally computed hash and is never reconciled across hosts.
type ReadRecord struct {
	TS      time.Time `json:"ts"`
	Hash    string    `json:"hash"`
	Message int       `json:"message_id"`
	Subject string    `json:"subject,omitempty"`
}

// ReadLog is the append-only local read-state store.
type ReadLog struct {
	path string
}

// NewReadLog opens a read log at path.
func NewReadLog(path string) *ReadLog {
	return &ReadLog{path: path}
}

// ReadHash derives the stable local key for a message as seen by one agent
// in one project.
func ReadHash(projectKey, agentName string, messageID int) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s|%s|%d", projectKey, agentName, messageID)))
	return hex.EncodeToString(sum[:])[:12]
}

// Mark appends a read record. Marking an already-read message again is
// harmless; readers deduplicate by hash.
func (l *ReadLog) Mark(projectKey, agentName string, msg InboxMessage) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return err
	}
	rec := ReadRecord{
		TS:      time.Now().UTC(),
		Hash:    ReadHash(projectKey, agentName, msg.ID),
		Message: msg.ID,
		Subject: msg.Subject,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

// Seen returns the set of read hashes. Malformed lines are skipped.
func (l *ReadLog) Seen() (map[string]bool, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, fmt.Errorf("opening read log: %w", err)
	}
	defer f.Close()

	seen := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec ReadRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		seen[rec.Hash] = true
	}
	return seen, scanner.Err()
}

// Unread filters messages down to those not yet marked read locally.
func (l *ReadLog) Unread(projectKey, agentName string, messages []InboxMessage) ([]InboxMessage, error) {
	seen, err := l.Seen()
	if err != nil {
		return nil, err
	}
	out := make([]InboxMessage, 0, len(messages))
	for _, msg := range messages {
		if seen[ReadHash(projectKey, agentName, msg.ID)] {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}
