// Package store provides durable key-value persistence for shieldd.
//
// Records are opaque JSON values addressed by well-known keys. Writes are
// atomic: a record is either fully replaced or untouched. The SQLite
// backend is the production store; the memory backend exists for tests
// and for running with persistence disabled.
package store

import "errors"

// Well-known record keys.
const (
	KeyUserPolicy     = "userPolicy"
	KeyCurrentSession = "currentSession"
	KeySessionHistory = "sessionHistory"
	KeySchedules      = "protectionSchedules"
)

var (
	// ErrNotFound is returned when a key has no stored value.
	ErrNotFound = errors.New("store: key not found")

	// ErrCorruptRecord is returned when a stored value fails schema
	// validation. The caller is expected to archive the record rather
	// than delete it.
	ErrCorruptRecord = errors.New("store: corrupt record")
)

// Store is the key-value persistence interface the session engine writes
// through. Implementations must make Set atomic with respect to crashes.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Set atomically replaces the value stored under key.
	Set(key string, value []byte) error

	// Delete removes the value stored under key. Deleting an absent key
	// is not an error.
	Delete(key string) error

	// Archive moves a value into the diagnostic archive under its key,
	// tagged with a reason, and removes the live record. Archived values
	// are never returned by Get.
	Archive(key string, value []byte, reason string) error

	// Close releases the underlying resources.
	Close() error
}
