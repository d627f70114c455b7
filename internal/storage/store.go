// Package storage provides the key-value persistence collaborator behind
// reward ledgers. Writes fail soft: errors are logged and counted, then
// dropped, so callers keep working from memory when the backend is
// unavailable. Reads report failures separately from missing keys so a caller
// never mistakes an outage for an empty namespace.
package storage

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable wraps every read failure returned by a Store.
var ErrUnavailable = errors.New("storage unavailable")

// Store is a namespaced string key-value view.
type Store interface {
	// Get returns the value for key and whether it was found. A missing key
	// is ("", false, nil); err is non-nil only when the backend could not be
	// read, and then wraps ErrUnavailable.
	Get(key string) (string, bool, error)
	// Set writes value under key. Failures are swallowed.
	Set(key, value string)
}

// Backend hands out Stores scoped to a namespace, typically one per user.
type Backend interface {
	Scope(namespace string) Store
	Close() error
}

// DefaultTimeout bounds each remote read or write.
const DefaultTimeout = 2 * time.Second

// UserNamespace is the namespace used for a user's ledger.
func UserNamespace(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}
