package database

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// generateUsernameBase creates a lowercase alphanumeric base from a user's name.
func generateUsernameBase(name string) string {
	var result []byte
	for _, c := range strings.ToLower(name) {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			result = append(result, byte(c))
		}
	}
	if len(result) == 0 {
		return "user"
	}
	if len(result) > 12 {
		result = result[:12]
	}
	return string(result)
}

// GenerateUsername appends four random digits to a base derived from name.
// Collisions are possible; callers retry on the unique constraint.
func GenerateUsername(name string) string {
	return fmt.Sprintf("%s%04d", generateUsernameBase(name), rand.IntN(10000))
}

// IsUniqueViolation reports whether err is a unique constraint failure on
// column of table, for either postgres or sqlite.
func IsUniqueViolation(err error, table, column string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, fmt.Sprintf("%s_%s_key", table, column)) ||
		strings.Contains(msg, fmt.Sprintf("UNIQUE constraint failed: %s.%s", table, column))
}
