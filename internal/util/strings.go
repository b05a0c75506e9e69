// Package util provides shared utility functions used across the codebase.
package util

import (
	"path/filepath"
	"strings"
)

// SplitCSV splits a comma-separated string into a slice, trimming whitespace.
// Returns nil for empty strings.
func SplitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}

// FileStem returns the base name of path without its extension.
func FileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// SanitizeIdentifier lower-cases s and keeps only ASCII letters, digits and
// underscores, so the result can be used unquoted in SQL. Runs of other
// characters become one underscore. A leading digit gets an "f" prefix and
// an empty result becomes "src". limit > 0 caps the length.
func SanitizeIdentifier(s string, limit int) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		case r == '_':
			if b.Len() > 0 {
				pendingSep = true
			}
		default:
			pendingSep = true
		}
	}
	out := b.String()
	if out == "" {
		out = "src"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "f" + out
	}
	if limit > 0 && len(out) > limit {
		out = strings.TrimRight(out[:limit], "_")
	}
	return out
}
