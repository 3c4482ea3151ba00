// Package reserve mediates advisory file reservations through the mail
// service: claim, check, release with pending-requester drain, renewal, and
// expiry warnings. Reservations are advisory; the value is notification and
// a predictable queueing discipline, never mutual exclusion.
package reserve

import "strings"

// Pattern is a normalized (repo, path) reservation pattern. Plain patterns
// have an empty repo; a "repo:" prefix scopes the pattern to one repo of a
// product; the "*" repo matches every repo.
type Pattern struct {
	Repo string
	Path string
}

// ParsePattern splits an optional "repo:" prefix from a pattern. Only a
// prefix before the first '/' counts as a repo qualifier, so absolute paths
// and URLs-in-paths are not misread.
func ParsePattern(raw string) Pattern {
	if idx := strings.Index(raw, ":"); idx > 0 && !strings.Contains(raw[:idx], "/") {
		return Pattern{Repo: raw[:idx], Path: raw[idx+1:]}
	}
	return Pattern{Path: raw}
}

// String reassembles the canonical pattern form.
func (p Pattern) String() string {
	if p.Repo == "" {
		return p.Path
	}
	return p.Repo + ":" + p.Path
}

// Overlaps reports whether two patterns conflict. Repos must agree, with
// "*" matching any repo and an unqualified pattern matching the local repo
// only. Path overlap is prefix-based in either direction, with glob
// suffixes stripped first so "src/*" overlaps "src/app.ts".
func (p Pattern) Overlaps(other Pattern) bool {
	if !reposMatch(p.Repo, other.Repo) {
		return false
	}
	a, b := trimGlob(p.Path), trimGlob(other.Path)
	return a == b || strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

func reposMatch(a, b string) bool {
	if a == "*" || b == "*" {
		return true
	}
	return a == b
}

// trimGlob drops a trailing glob component so prefix comparison works on
// the literal part of the pattern.
func trimGlob(path string) string {
	if idx := strings.IndexAny(path, "*?["); idx >= 0 {
		return path[:idx]
	}
	return path
}
