// Package version handles the dotted numeric release identifiers used by the
// framework: parsing, bumping to the next patch release, and ordering checks.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// MalformedError reports an identifier that is not a dotted list of
// non-negative integers.
type MalformedError struct {
	Input     string
	Component string
}

func (e *MalformedError) Error() string {
	if e.Component == "" {
		return fmt.Sprintf("version: malformed version %q", e.Input)
	}
	return fmt.Sprintf("version: malformed version %q: component %q is not a number", e.Input, e.Component)
}

// OrderError reports a release that would not increase the published version.
type OrderError struct {
	Previous string
	Next     string
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("version: new version %s must be greater than previous version %s", e.Next, e.Previous)
}

// Parse splits a version on dots into its integer components.
func Parse(s string) ([]int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, &MalformedError{Input: s}
	}
	fields := strings.Split(trimmed, ".")
	parts := make([]int, 0, len(fields))
	for _, field := range fields {
		if field == "" || !allDigits(field) {
			return nil, &MalformedError{Input: s, Component: field}
		}
		n, err := strconv.Atoi(field)
		if err != nil {
			return nil, &MalformedError{Input: s, Component: field}
		}
		parts = append(parts, n)
	}
	return parts, nil
}

// String joins components back into dotted form.
func String(parts []int) string {
	fields := make([]string, len(parts))
	for i, p := range parts {
		fields[i] = strconv.Itoa(p)
	}
	return strings.Join(fields, ".")
}

// Increment returns the next patch release. Only the first three components
// are kept, so a fourth (hotfix) component is dropped: 2.5.3.1 becomes 2.5.4.
func Increment(s string) (string, error) {
	parts, err := Parse(s)
	if err != nil {
		return "", err
	}
	if len(parts) > 3 {
		parts = parts[:3]
	}
	parts[len(parts)-1]++
	return String(parts), nil
}

// Compare orders two versions component by component. The shorter version is
// padded with zeros, so 1.2 and 1.2.0 compare equal.
func Compare(a, b string) (int, error) {
	left, err := Parse(a)
	if err != nil {
		return 0, err
	}
	right, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return compareParts(left, right), nil
}

func compareParts(left, right []int) int {
	n := len(left)
	if len(right) > n {
		n = len(right)
	}
	for i := 0; i < n; i++ {
		l, r := at(left, i), at(right, i)
		switch {
		case l < r:
			return -1
		case l > r:
			return 1
		}
	}
	return 0
}

func at(parts []int, i int) int {
	if i < len(parts) {
		return parts[i]
	}
	return 0
}

// CheckRelease fails unless next is strictly greater than previous.
func CheckRelease(previous, next string) error {
	cmp, err := Compare(previous, next)
	if err != nil {
		return err
	}
	if cmp >= 0 {
		return &OrderError{Previous: previous, Next: next}
	}
	return nil
}

// Max returns the greatest of the given versions.
func Max(versions ...string) (string, error) {
	if len(versions) == 0 {
		return "", fmt.Errorf("version: no versions to compare")
	}
	best := versions[0]
	bestParts, err := Parse(best)
	if err != nil {
		return "", err
	}
	for _, candidate := range versions[1:] {
		parts, err := Parse(candidate)
		if err != nil {
			return "", err
		}
		if compareParts(parts, bestParts) > 0 {
			best, bestParts = candidate, parts
		}
	}
	return best, nil
}

// NextSnapshot is the development version the build file carries after a
// release: the next patch release with a -SNAPSHOT qualifier.
func NextSnapshot(released string) (string, error) {
	next, err := Increment(released)
	if err != nil {
		return "", err
	}
	return next + "-SNAPSHOT", nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
