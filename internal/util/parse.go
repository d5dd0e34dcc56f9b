package util

import (
	"regexp"
	"strconv"
	"strings"
)

func SafeAtoi(s string) int {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return i
}

var nonNumericRegex = regexp.MustCompile(`[^\d]`)

// CleanNumericString drops everything but digits, so "1,204" becomes "1204".
func CleanNumericString(s string) string {
	return nonNumericRegex.ReplaceAllString(s, "")
}

var firstNumberRegex = regexp.MustCompile(`\d[\d,.\s]*`)

// FirstNumber returns the first run of digits in s, ignoring thousands
// separators, or 0 if s holds no digit.
func FirstNumber(s string) int {
	return SafeAtoi(CleanNumericString(firstNumberRegex.FindString(s)))
}

// ContainsDigit reports whether s holds at least one ASCII digit.
func ContainsDigit(s string) bool {
	return strings.ContainsAny(s, "0123456789")
}
