package util

import (
	"strings"
	"unicode/utf8"
)

// Truncate shortens a string to n bytes with an ASCII "..." suffix,
// respecting UTF-8 rune boundaries.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		lastValid := 0
		for i := range s {
			if i > n {
				break
			}
			lastValid = i
		}
		return s[:lastValid]
	}
	targetLen := n - 3
	prevI := 0
	for i := range s {
		if i > targetLen {
			return s[:prevI] + "..."
		}
		prevI = i
	}
	return s[:prevI] + "..."
}

// SanitizeFilename makes a string safe for use as a filename.
func SanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "-",
		"?", "-",
		"\"", "-",
		"<", "-",
		">", "-",
		"|", "-",
		"%", "_",
		" ", "_",
	)
	safe := replacer.Replace(strings.TrimSpace(name))

	if len(safe) > 80 {
		for i := 80; i >= 0; i-- {
			if utf8.RuneStart(safe[i]) {
				return safe[:i]
			}
		}
		return safe[:80]
	}
	return safe
}

// SafePane converts a tmux pane id to a filesystem-safe token by replacing
// ':' and '.' with '-'. Used for per-pane identity and name files.
func SafePane(paneID string) string {
	return strings.NewReplacer(":", "-", ".", "-").Replace(paneID)
}
