package access

import (
	"context"
	"testing"

	"github.com/creastat/console"
	"github.com/creastat/console/auth"
	"github.com/creastat/console/supabase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowed(t *testing.T) {
	tests := []struct {
		role console.UserRole
		cap  Capability
		want bool
	}{
		{console.RoleNameSuperAdmin, CapManageProviders, true},
		{console.RoleNameAdmin, CapManageProviders, false},
		{console.RoleNameUser, CapManageProviders, false},
		{console.RoleNameAdmin, CapViewLogs, true},
		{console.RoleNameUser, CapViewLogs, false},
		{"", CapManageRAG, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Allowed(tt.role, tt.cap), "%s/%s", tt.role, tt.cap)
	}
}

func TestRoles_Require(t *testing.T) {
	ctx := context.Background()
	backend := supabase.NewMemoryStore()
	backend.SetRole("admin-1", console.RoleNameSuperAdmin)
	identity := auth.NewIdentity()
	roles := NewRoles(backend, identity, nil)

	err := roles.Require(ctx, CapManageProviders)
	assert.ErrorIs(t, err, console.ErrUnauthenticated)

	identity.Set(&console.AuthSession{UserID: "admin-1"})
	require.NoError(t, roles.Require(ctx, CapManageProviders))
	require.NoError(t, roles.Require(ctx, CapViewLogs))
	assert.Equal(t, 1, backend.Calls("GetUserRole"), "role is cached")

	identity.Set(&console.AuthSession{UserID: "plain"})
	err = roles.Require(ctx, CapManageProviders)
	assert.ErrorIs(t, err, console.ErrForbidden)
	assert.Equal(t, console.RoleNameUser, roles.Role())

	roles.Reset()
	assert.Equal(t, console.UserRole(""), roles.Role())
}

func TestAllowAll(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, AllowAll{}.Require(ctx, CapManageProviders))
	assert.ErrorIs(t, AllowAll{Identity: auth.Static("")}.Require(ctx, CapViewLogs), console.ErrUnauthenticated)
}
