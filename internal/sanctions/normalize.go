// Package sanctions screens names against sanctioned-entity lists.
package sanctions

import (
	"slices"
	"strings"
)

// Normalize lower-cases a name, trims it and collapses internal whitespace.
func Normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// NormalizeCountry is Normalize for country keys.
func NormalizeCountry(country string) string {
	return Normalize(country)
}

// nameVariants returns the normalized name and, for multi-token names, the
// reversed token order, so "first last" and "last first" both hit.
func nameVariants(name string) []string {
	n := Normalize(name)
	if n == "" {
		return nil
	}
	tokens := strings.Split(n, " ")
	if len(tokens) < 2 {
		return []string{n}
	}
	reversed := slices.Clone(tokens)
	slices.Reverse(reversed)
	return []string{n, strings.Join(reversed, " ")}
}

// tokenSubset reports whether every token of a appears in b.
func tokenSubset(a, b []string) bool {
	if len(a) == 0 {
		return false
	}
	for _, t := range a {
		if !slices.Contains(b, t) {
			return false
		}
	}
	return true
}
