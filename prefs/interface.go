// Package prefs persists console UI preferences (layout and active mode).
package prefs

import "context"

// Store defines the interface for preference storage operations.
type Store interface {
	// Create stores a new record with Version set to 1.
	Create(ctx context.Context, rec *Record) error

	// Get retrieves a record by key.
	// Returns nil if the record is not found (not an error).
	Get(ctx context.Context, key string) (*Record, error)

	// Update updates an existing record with optimistic locking.
	// Verifies the Version matches the stored version, increments Version,
	// updates UpdatedAt, and persists the record.
	// Returns ErrVersionConflict if the version does not match.
	// Returns ErrNotFound if the record does not exist.
	Update(ctx context.Context, rec *Record) error

	// Delete deletes a record by key.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}
