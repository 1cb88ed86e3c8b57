package helpers

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random v4 UUID string. Engine sessions and migration
// runs are identified by it.
func NewID() string {
	return uuid.NewString()
}

// Unquote trims whitespace and one pair of matching single or double
// quotes, as left behind by .env files and shell-quoted variables.
func Unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return s
	}
	if q := s[0]; (q == '"' || q == '\'') && s[len(s)-1] == q {
		return s[1 : len(s)-1]
	}
	return s
}
