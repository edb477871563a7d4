// Package utils holds small string and formatting helpers shared across
// AsteronIris components.
package utils

import "strings"

// Truncate shortens s to at most n runes, appending an ellipsis marker when
// truncated. Used for log previews so large payloads never flood logs.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// FirstNonEmpty returns the first non-empty string among candidates, or "".
func FirstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return c
		}
	}
	return ""
}
