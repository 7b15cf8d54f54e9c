// Package strings normalizes delimited configuration values.
package strings

import (
	"strings"
)

// SplitList splits value on sep and returns the trimmed, non-empty elements
// in first-seen order with duplicates removed.
func SplitList(value, sep string) []string {
	if value == "" {
		return nil
	}
	return Dedupe(strings.Split(value, sep))
}

// Dedupe trims each element and drops empties and repeats. Order is preserved.
func Dedupe(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
