// Package access centralises capability checks for gated console actions.
//
// The cached role is trusted as-is; row-level security on the backend is the
// enforcement boundary.
package access

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/creastat/console"
	"github.com/creastat/console/auth"
	"github.com/creastat/console/logging"
	"github.com/creastat/console/supabase"
	"go.uber.org/zap"
)

// Capability names a gated action.
type Capability string

const (
	CapManageProviders Capability = "providers:manage"
	CapViewLogs        Capability = "logs:view"
	CapManageRAG       Capability = "rag:manage"
)

// policy lists the roles granted each capability.
var policy = map[Capability][]console.UserRole{
	CapManageProviders: {console.RoleNameSuperAdmin},
	CapViewLogs:        {console.RoleNameAdmin, console.RoleNameSuperAdmin},
	CapManageRAG:       {console.RoleNameUser, console.RoleNameAdmin, console.RoleNameSuperAdmin},
}

// Allowed reports whether role holds capability.
func Allowed(role console.UserRole, capability Capability) bool {
	return slices.Contains(policy[capability], role)
}

// Checker is consumed by every gated action.
type Checker interface {
	// Require returns nil when the signed-in user holds capability, an error
	// wrapping console.ErrUnauthenticated when nobody is signed in, and one
	// wrapping console.ErrForbidden otherwise.
	Require(ctx context.Context, capability Capability) error
}

// Roles caches the signed-in user's role and implements Checker.
type Roles struct {
	table    supabase.RoleTable
	identity auth.Source
	logger   *logging.Logger

	mu     sync.RWMutex
	userID string
	role   console.UserRole
}

// NewRoles creates a role cache reading from table.
func NewRoles(table supabase.RoleTable, identity auth.Source, logger *logging.Logger) *Roles {
	return &Roles{
		table:    table,
		identity: identity,
		logger:   logging.OrNop(logger).Named("access"),
	}
}

// Refresh re-reads the role of the signed-in user.
func (r *Roles) Refresh(ctx context.Context) (console.UserRole, error) {
	userID, err := r.identity.UserID()
	if err != nil {
		return "", err
	}
	role, err := r.table.GetUserRole(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load role: %w", err)
	}

	r.mu.Lock()
	r.userID = userID
	r.role = role
	r.mu.Unlock()

	r.logger.Debug(ctx, "role loaded", zap.String("user_id", userID), zap.String("role", string(role)))
	return role, nil
}

// Role returns the cached role, or "" before the first Refresh.
func (r *Roles) Role() console.UserRole {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.role
}

// Require implements Checker. The role is loaded on first use.
func (r *Roles) Require(ctx context.Context, capability Capability) error {
	userID, err := r.identity.UserID()
	if err != nil {
		return err
	}

	r.mu.RLock()
	role, cachedFor := r.role, r.userID
	r.mu.RUnlock()

	if cachedFor != userID || role == "" {
		if role, err = r.Refresh(ctx); err != nil {
			return err
		}
	}

	if !Allowed(role, capability) {
		r.logger.Warn(ctx, "capability denied",
			zap.String("capability", string(capability)),
			zap.String("role", string(role)))
		return fmt.Errorf("%w: %s requires a different role than %s", console.ErrForbidden, capability, role)
	}
	return nil
}

// Reset drops the cached role.
func (r *Roles) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userID = ""
	r.role = ""
}

// AllowAll is a Checker that grants everything to any signed-in user.
type AllowAll struct {
	Identity auth.Source
}

func (a AllowAll) Require(context.Context, Capability) error {
	if a.Identity == nil {
		return nil
	}
	_, err := a.Identity.UserID()
	return err
}

var (
	_ Checker = (*Roles)(nil)
	_ Checker = AllowAll{}
)
