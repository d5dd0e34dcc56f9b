package models

import (
	"strings"
	"unicode"
)

const maxHandleLength = 30

var urlFragments = map[string]bool{"https:": true, "www.": true, ".com": true}

// ValidHandle reports whether s has the shape of a platform handle:
// 1-30 characters, at least one letter, not purely numeric, no whitespace
// and not a URL fragment.
func ValidHandle(s string) bool {
	if s == "" || len([]rune(s)) > maxHandleLength {
		return false
	}
	if strings.HasPrefix(s, "http") || urlFragments[s] {
		return false
	}
	hasLetter := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			return false
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	// A string with a letter cannot be purely numeric.
	return hasLetter
}

// NormalizeHandle trims whitespace and a leading "@".
func NormalizeHandle(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "@")
}

// SameHandle compares handles case-insensitively.
func SameHandle(a, b string) bool {
	return strings.EqualFold(NormalizeHandle(a), NormalizeHandle(b))
}
