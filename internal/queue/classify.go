// Package queue reads the bead store and reports queue composition: ready
// counts, the skill mix the queue demands, and scaling recommendations.
package queue

import (
	"strings"

	"github.com/droverhq/drover/internal/beads"
)

// category is one classifier rule: a target type, the authoritative labels,
// and the keyword family tested against the bead's full text.
type category struct {
	name     string
	labels   []string
	keywords []string
}

// categories is ordered narrow-to-broad. The first matching category wins,
// so qa keywords like "test" are never shadowed by the broad backend family.
var categories = []category{
	{
		name:     "qa",
		labels:   []string{"qa", "testing"},
		keywords: []string{"test", "coverage", "lint", "e2e", "benchmark"},
	},
	{
		name:     "docs",
		labels:   []string{"docs", "documentation"},
		keywords: []string{"document", "readme", "guide", "openapi"},
	},
	{
		name:     "devops",
		labels:   []string{"devops", "infrastructure"},
		keywords: []string{"docker", "kubernetes", "ci/cd", "deploy", "pipeline", "terraform", "helm"},
	},
	{
		name:     "frontend",
		labels:   []string{"frontend", "ui"},
		keywords: []string{"css", "component", "ui", "ux", "react", "vue", "angular", "layout", "style", "responsive"},
	},
	{
		name:     "backend",
		labels:   []string{"backend", "api"},
		keywords: []string{"api", "database", "endpoint", "schema", "sql", "auth", "service"},
	},
}

// Classify maps one bead to an agent type. Labels are authoritative and
// checked across all categories before any keyword is consulted; the
// keyword pass then runs narrow-to-broad over the lowercased
// title+description+labels text. Unmatched beads are "general".
func Classify(b beads.Bead) string {
	labelSet := make(map[string]bool, len(b.Labels))
	for _, l := range b.Labels {
		labelSet[strings.ToLower(l)] = true
	}
	for _, cat := range categories {
		for _, l := range cat.labels {
			if labelSet[l] {
				return cat.name
			}
		}
	}

	text := b.Text()
	for _, cat := range categories {
		for _, kw := range cat.keywords {
			if strings.Contains(text, kw) {
				return cat.name
			}
		}
	}
	return "general"
}
