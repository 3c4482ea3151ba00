package queue

import (
	"fmt"
	"sort"

	"github.com/droverhq/drover/internal/beads"
)

// Composition summarizes the ready queue against the active fleet.
type Composition struct {
	ReadyTasks      int            `json:"ready_tasks"`
	ActiveAgents    int            `json:"active_agents"`
	Ratio           float64        `json:"ratio"`
	TypesNeeded     map[string]int `json:"types_needed"`
	Recommendations []string       `json:"recommendations"`
}

// Policy carries the scaling tunables the analyzer consults.
type Policy struct {
	ScaleUpThreshold float64
	MaxAgents        int
	MinAgents        int
}

// Feedback is lifecycle input from the performance tracker: how much
// claimed work is actually completing.
type Feedback struct {
	ActiveTasks    int
	CompletionRate float64 // completed / (completed + active), 0..1
	SuccessRate    float64 // quality-weighted, 0..1; <0 means unknown
}

// Analyze classifies the ready beads and produces ordered recommendations.
// Classification is deterministic: identical inputs yield identical output.
func Analyze(ready []beads.Bead, activeAgents int, policy Policy, fb *Feedback) Composition {
	comp := Composition{
		ReadyTasks:   len(ready),
		ActiveAgents: activeAgents,
		TypesNeeded:  make(map[string]int),
	}
	for _, b := range ready {
		comp.TypesNeeded[Classify(b)]++
	}
	comp.Ratio = float64(len(ready)) / float64(activeAgents+1)

	if comp.Ratio > policy.ScaleUpThreshold && activeAgents < policy.MaxAgents {
		n := spawnCount(len(ready))
		if remaining := policy.MaxAgents - activeAgents; n > remaining {
			n = remaining
		}
		if fb != nil && fb.ActiveTasks > 0 && fb.CompletionRate < 0.25 && activeAgents+n < policy.MaxAgents {
			n++
		}
		if n > 0 {
			comp.Recommendations = append(comp.Recommendations,
				fmt.Sprintf("scale-up:%d:%s", n, dominantType(comp.TypesNeeded)))
		}
	}

	if len(ready) == 0 && activeAgents > policy.MinAgents {
		comp.Recommendations = append(comp.Recommendations, "check-idle:teardown")
	}

	if fb != nil && fb.SuccessRate >= 0 && fb.SuccessRate < 0.3 {
		comp.Recommendations = append(comp.Recommendations, "warning:low-success-rate")
	}

	return comp
}

// spawnCount maps queue depth to a spawn batch of 1..3.
func spawnCount(depth int) int {
	switch {
	case depth >= 15:
		return 3
	case depth >= 10:
		return 2
	default:
		return 1
	}
}

// dominantType picks the most-demanded type; ties break alphabetically so
// the answer is stable.
func dominantType(needed map[string]int) string {
	names := make([]string, 0, len(needed))
	for name := range needed {
		names = append(names, name)
	}
	sort.Strings(names)

	best, bestCount := "general", 0
	for _, name := range names {
		if needed[name] > bestCount {
			best, bestCount = name, needed[name]
		}
	}
	return best
}
