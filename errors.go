package console

import "errors"

// Common errors returned by the console stores.
var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidStoreType = errors.New("invalid store type")
	ErrVersionConflict  = errors.New("version conflict")
	ErrNotFound         = errors.New("not found")

	// ErrUnauthenticated is returned when no signed-in user is available.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrForbidden is returned when the cached role lacks a capability.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation marks client-side checks that fail before any network call.
	ErrValidation = errors.New("validation failed")
	// ErrRemote wraps failures reported by the backend or an Edge Function.
	ErrRemote = errors.New("remote call failed")
	// ErrHandshake is returned when an OAuth handshake cannot complete.
	ErrHandshake = errors.New("oauth handshake failed")
)
