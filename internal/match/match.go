// Package match scores (agent, task) compatibility from declared skills,
// current workload, and historical quality.
package match

import "strings"

// Candidate is one agent as seen by the matcher.
type Candidate struct {
	Name         string
	Capabilities []string
	InProgress   int     // tasks currently claimed by this agent
	History      float64 // history score in [0,1]; 0.5 when no history
}

// Result is one scored pairing with its factors.
type Result struct {
	Agent          string  `json:"agent"`
	Score          float64 `json:"score"`
	SkillMatch     float64 `json:"skill_match"`
	WorkloadFactor float64 `json:"workload_factor"`
	HistoryScore   float64 `json:"history_score"`
}

// Score computes skill × workload × history, each factor in [0,1].
func Score(c Candidate, taskLabels []string) Result {
	skill := skillMatch(c.Capabilities, taskLabels)
	workload := 1.0 / float64(1+c.InProgress)
	history := c.History
	if history <= 0 {
		history = 0.5
	}
	return Result{
		Agent:          c.Name,
		Score:          skill * workload * history,
		SkillMatch:     skill,
		WorkloadFactor: workload,
		HistoryScore:   history,
	}
}

// skillMatch is the fraction of task labels the agent's capabilities cover.
// A task with no labels scores 0.6; any overlap result floors at 0.1.
func skillMatch(capabilities, labels []string) float64 {
	if len(labels) == 0 {
		return 0.6
	}
	caps := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		caps[strings.ToLower(c)] = true
	}
	hits := 0
	for _, l := range labels {
		if caps[strings.ToLower(l)] {
			hits++
		}
	}
	frac := float64(hits) / float64(len(labels))
	if frac < 0.1 {
		return 0.1
	}
	return frac
}

// BestMatch returns the highest-scoring candidate. Ties keep the earliest
// candidate in input order.
func BestMatch(candidates []Candidate, taskLabels []string) (Result, bool) {
	var best Result
	found := false
	for _, c := range candidates {
		r := Score(c, taskLabels)
		if !found || r.Score > best.Score {
			best = r
			found = true
		}
	}
	return best, found
}
