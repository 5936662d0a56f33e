// Package auth holds the signed-in identity shared by the stores.
package auth

import (
	"fmt"
	"sync"

	"github.com/creastat/console"
)

// Source yields the authenticated user id.
type Source interface {
	// UserID returns the signed-in user's id or an error wrapping
	// console.ErrUnauthenticated.
	UserID() (string, error)
}

// Identity is the current authentication state.
type Identity struct {
	mu      sync.RWMutex
	session *console.AuthSession
}

// NewIdentity returns a signed-out identity.
func NewIdentity() *Identity {
	return &Identity{}
}

// Set records a successful sign-in.
func (i *Identity) Set(s *console.AuthSession) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if s == nil {
		i.session = nil
		return
	}
	cp := *s
	i.session = &cp
}

// Clear signs the identity out.
func (i *Identity) Clear() {
	i.Set(nil)
}

// UserID implements Source.
func (i *Identity) UserID() (string, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.session == nil || i.session.UserID == "" {
		return "", fmt.Errorf("no signed-in user: %w", console.ErrUnauthenticated)
	}
	return i.session.UserID, nil
}

// Session returns a copy of the current session.
func (i *Identity) Session() (console.AuthSession, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.session == nil {
		return console.AuthSession{}, false
	}
	return *i.session, true
}

// Static is a fixed Source, mostly for tests and the CLI.
type Static string

func (s Static) UserID() (string, error) {
	if s == "" {
		return "", fmt.Errorf("no signed-in user: %w", console.ErrUnauthenticated)
	}
	return string(s), nil
}

var (
	_ Source = (*Identity)(nil)
	_ Source = Static("")
)
