package utils

import (
	"regexp"

	"github.com/google/uuid"
)

// NewSessionID returns a random calibration session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidSessionID reports whether s is usable as a session identifier: a UUID
// or a short name made of letters, digits, '.', '_' and '-'.
func ValidSessionID(s string) bool {
	if _, err := uuid.Parse(s); err == nil {
		return true
	}
	return sessionIDPattern.MatchString(s)
}
