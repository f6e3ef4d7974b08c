package models

import (
	"strconv"
	"strings"
)

const (
	MinGrade = 1
	MaxGrade = 10
)

// ParseGrade coerces raw input into a grade: every non-digit is dropped
// ("-3" reads as 3), the rest is parsed and clamped into [MinGrade, MaxGrade].
// Empty input and zero mean "no grade".
func ParseGrade(raw string) (int, bool) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	if digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		// Only an out-of-range digit string gets here.
		return MaxGrade, true
	}
	return ClampGrade(n)
}

// ClampGrade maps n into the grade range. Values below the minimum are not
// a grade at all.
func ClampGrade(n int) (int, bool) {
	switch {
	case n < MinGrade:
		return 0, false
	case n > MaxGrade:
		return MaxGrade, true
	default:
		return n, true
	}
}
