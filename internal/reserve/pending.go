package reserve

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/droverhq/drover/internal/util"
)

// PendingEntry queues requesters behind a held path. Requesters keep
// insertion order and are deduplicated.
type PendingEntry struct {
	Holder     string   `json:"holder"`
	Path       string   `json:"path"`
	Requesters []string `json:"requesters"`
}

// PendingStore keeps one file per (holder, path) pair under the pending
// directory, named md5(holder|path)[:12].pending.
type PendingStore struct {
	dir string
}

// NewPendingStore creates a store rooted at dir.
func NewPendingStore(dir string) *PendingStore {
	return &PendingStore{dir: dir}
}

// Key derives the stable file stem for a (holder, path) pair.
func Key(holder, path string) string {
	sum := md5.Sum([]byte(holder + "|" + path))
	return hex.EncodeToString(sum[:])[:12]
}

func (s *PendingStore) file(holder, path string) string {
	return filepath.Join(s.dir, Key(holder, path)+".pending")
}

// Record appends a requester to the pending entry for (holder, path),
// creating it if needed. Re-recording an existing requester is a no-op.
func (s *PendingStore) Record(holder, path, requester string) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}

	entry := PendingEntry{Holder: holder, Path: path}
	file := s.file(holder, path)
	if data, err := os.ReadFile(file); err == nil {
		if err := json.Unmarshal(data, &entry); err != nil {
			// Corrupt entry: start over rather than losing the new requester.
			entry = PendingEntry{Holder: holder, Path: path}
		}
	}

	for _, r := range entry.Requesters {
		if r == requester {
			return nil
		}
	}
	entry.Requesters = append(entry.Requesters, requester)

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(file, append(data, '\n'), 0644)
}

// All returns every readable pending entry.
func (s *PendingStore) All() ([]PendingEntry, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing pending dir: %w", err)
	}

	var out []PendingEntry
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pending") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var entry PendingEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// Drain removes and returns the pending entries whose holder matches and
// whose path overlaps any of the released patterns. Each entry is returned
// exactly once; its file is deleted before it is reported so a crash cannot
// double-notify.
func (s *PendingStore) Drain(holder string, released []Pattern) ([]PendingEntry, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}

	var drained []PendingEntry
	for _, entry := range all {
		if entry.Holder != holder {
			continue
		}
		held := ParsePattern(entry.Path)
		overlaps := false
		for _, rel := range released {
			if held.Overlaps(rel) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			continue
		}
		if err := os.Remove(s.file(entry.Holder, entry.Path)); err != nil && !os.IsNotExist(err) {
			return drained, err
		}
		drained = append(drained, entry)
	}
	return drained, nil
}
