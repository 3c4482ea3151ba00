// Package history tracks task claims and completions and derives per-agent
// quality scores for the matcher.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ActiveRecord is one in-flight claim in the active-tracking log.
type ActiveRecord struct {
	Agent   string    `json:"agent"`
	TaskID  string    `json:"task_id"`
	Labels  []string  `json:"labels,omitempty"`
	StartTS time.Time `json:"start_ts"`
}

// CompletionRecord is one finished task in the performance log. Quality is
// optional; nil means the task completed without a score.
type CompletionRecord struct {
	Agent           string     `json:"agent"`
	TaskID          string     `json:"task_id"`
	Labels          []string   `json:"labels,omitempty"`
	StartTS         *time.Time `json:"start_ts,omitempty"`
	CompleteTS      time.Time  `json:"complete_ts"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
	Quality         *float64   `json:"quality,omitempty"`
}

// Tracker owns the two JSONL stores.
type Tracker struct {
	activePath      string
	performancePath string
	mu              sync.Mutex
}

// NewTracker creates a Tracker over the given log paths.
func NewTracker(activePath, performancePath string) *Tracker {
	return &Tracker{activePath: activePath, performancePath: performancePath}
}

// Start records a claim. A duplicate (agent, task) claim replaces nothing;
// both lines remain and the most recent start wins at completion time.
func (t *Tracker) Start(agent, taskID string, labels []string) error {
	rec := ActiveRecord{
		Agent:   agent,
		TaskID:  taskID,
		Labels:  labels,
		StartTS: time.Now().UTC(),
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return appendLine(t.activePath, rec)
}

// Complete records a completion and removes the matching active entry. The
// returned bool reports whether a matching start existed; callers should
// emit a warning event when it did not.
func (t *Tracker) Complete(agent, taskID string, quality *float64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	active, err := t.readActive()
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	rec := CompletionRecord{Agent: agent, TaskID: taskID, CompleteTS: now, Quality: quality}

	matched := false
	kept := make([]ActiveRecord, 0, len(active))
	for _, a := range active {
		if !matched && a.Agent == agent && a.TaskID == taskID {
			matched = true
			start := a.StartTS
			rec.Labels = a.Labels
			rec.StartTS = &start
			rec.DurationSeconds = now.Sub(start).Seconds()
			continue
		}
		kept = append(kept, a)
	}

	if err := appendLine(t.performancePath, rec); err != nil {
		return matched, err
	}
	if matched {
		if err := t.rewriteActive(kept); err != nil {
			return matched, err
		}
	}
	return matched, nil
}

// Active returns all in-flight claims.
func (t *Tracker) Active() ([]ActiveRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readActive()
}

// InProgressCount returns the number of active claims held by an agent.
func (t *Tracker) InProgressCount(agent string) (int, error) {
	active, err := t.Active()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range active {
		if a.Agent == agent {
			n++
		}
	}
	return n, nil
}

// Completions returns every completion record, oldest first.
func (t *Tracker) Completions() ([]CompletionRecord, error) {
	f, err := os.Open(t.performancePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening performance log: %w", err)
	}
	defer f.Close()

	var out []CompletionRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec CompletionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}

// HistoryScore averages completion quality for an agent. Completions whose
// labels overlap the query are preferred; with no overlap the average runs
// over all of the agent's scored completions; with no scores anywhere the
// neutral 0.5 is returned. Quality q in [0,100] maps to 0.1 + 0.9*q/100.
func (t *Tracker) HistoryScore(agent string, labels []string) (float64, error) {
	completions, err := t.Completions()
	if err != nil {
		return 0, err
	}

	query := make(map[string]bool, len(labels))
	for _, l := range labels {
		query[strings.ToLower(l)] = true
	}

	var overlapping, all []float64
	for _, rec := range completions {
		if rec.Agent != agent || rec.Quality == nil {
			continue
		}
		score := qualityScore(*rec.Quality)
		all = append(all, score)
		for _, l := range rec.Labels {
			if query[strings.ToLower(l)] {
				overlapping = append(overlapping, score)
				break
			}
		}
	}

	if len(overlapping) > 0 {
		return mean(overlapping), nil
	}
	if len(all) > 0 {
		return mean(all), nil
	}
	return 0.5, nil
}

// qualityScore maps q in [0,100] into [0.1,1.0].
func qualityScore(q float64) float64 {
	s := 0.1 + 0.9*q/100
	if s < 0.1 {
		return 0.1
	}
	if s > 1.0 {
		return 1.0
	}
	return s
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Stats summarizes lifecycle feedback for the queue analyzer.
type Stats struct {
	ActiveTasks    int
	Completed      int
	CompletionRate float64
	SuccessRate    float64 // -1 when no quality data exists
}

// Stats computes fleet-wide completion feedback.
func (t *Tracker) Stats() (Stats, error) {
	active, err := t.Active()
	if err != nil {
		return Stats{}, err
	}
	completions, err := t.Completions()
	if err != nil {
		return Stats{}, err
	}

	s := Stats{ActiveTasks: len(active), Completed: len(completions), SuccessRate: -1}
	if total := len(active) + len(completions); total > 0 {
		s.CompletionRate = float64(len(completions)) / float64(total)
	}

	var scores []float64
	for _, rec := range completions {
		if rec.Quality != nil {
			scores = append(scores, *rec.Quality/100)
		}
	}
	if len(scores) > 0 {
		s.SuccessRate = mean(scores)
	}
	return s, nil
}

func (t *Tracker) readActive() ([]ActiveRecord, error) {
	f, err := os.Open(t.activePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening active tracking log: %w", err)
	}
	defer f.Close()

	var out []ActiveRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec ActiveRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}

// rewriteActive replaces the active log through a temp file and rename so
// concurrent readers never see a torn file.
func (t *Tracker) rewriteActive(records []ActiveRecord) error {
	dir := filepath.Dir(t.activePath)
	tmp, err := os.CreateTemp(dir, ".active-*.tmp")
	if err != nil {
		return fmt.Errorf("staging active log: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			tmp.Close()
			return err
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), t.activePath)
}

func appendLine(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
