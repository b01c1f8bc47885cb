// Package etag converts between aggregate row versions and weak entity tags
// and performs the optimistic concurrency comparison.
package etag

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidEtag is returned when a presented version token is missing,
// malformed or does not match the current row version.
var ErrInvalidEtag = errors.New("invalid etag")

// Format renders v as a weak validator: W/"7".
func Format(v int) string {
	return `W/"` + strconv.Itoa(v) + `"`
}

// Parse accepts W/"7", "7" or 7 and returns the integer version.
func Parse(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidEtag)
	}
	s = strings.TrimPrefix(s, "W/")
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidEtag, s)
	}
	return v, nil
}

// Check compares the caller's expected version with the current one.
func Check(expected, current int) error {
	if expected != current {
		return fmt.Errorf("%w: expected version %d, current %d", ErrInvalidEtag, expected, current)
	}
	return nil
}
