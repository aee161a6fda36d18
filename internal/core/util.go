package core

import "strings"

// normalizeInterest lowercases and trims a single interest string, per
// spec.md §3's QueueEntry invariant and §8's boundary behavior.
func normalizeInterest(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// commonInterests returns the lowercase, trimmed intersection of two
// interest sets (spec.md §4.2).
func commonInterests(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[normalizeInterest(s)] = true
	}
	var out []string
	seen := make(map[string]bool)
	for _, s := range b {
		n := normalizeInterest(s)
		if set[n] && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
