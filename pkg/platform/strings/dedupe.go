// Package strings holds list helpers shared by query-string and
// environment parsing.
package strings

import (
	"strings"
)

// SplitList splits a comma-separated value, trims each element and drops
// empties and repeats. Order of first appearance is kept.
func SplitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return Dedupe(strings.Split(value, ","))
}

// Dedupe trims values and removes empties and repeats, preserving order.
func Dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
