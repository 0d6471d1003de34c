// Package strings holds small helpers for list-valued inputs.
package strings

import (
	"strings"
)

// SplitList flattens repeated and comma-separated values, as in
// ?event_type=a,b&event_type=c, into one trimmed list. Empty items and
// duplicates are dropped; first occurrence wins.
func SplitList(values []string) []string {
	var parts []string
	for _, v := range values {
		parts = append(parts, strings.Split(v, ",")...)
	}
	return DedupeAndTrim(parts)
}

// DedupeAndTrim removes duplicates and empty strings from a slice,
// trimming whitespace from each element. Order is preserved.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	var result []string
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}
	return result
}
