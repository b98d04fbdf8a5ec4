package rbac

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGlobalSource struct {
	permissions []string
	err         error
}

func (s *stubGlobalSource) EffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	return s.permissions, s.err
}

// seedResolverFixture wires user-1 in org-1 to a role carrying both
// template grants and an org-1 override, plus an org-2 override that
// must never leak into org-1 resolution.
func seedResolverFixture(t *testing.T, db *sql.DB) {
	t.Helper()

	rows := []struct {
		query string
		args  []interface{}
	}{
		{`INSERT INTO membership_roles (organization_id, user_id, role_id) VALUES ($1, $2, $3)`,
			[]interface{}{"org-1", "user-1", "role-member"}},
		{`INSERT INTO role_permissions (role_id, organization_id, permission, created_at) VALUES ($1, $2, $3, $4)`,
			[]interface{}{"role-member", nil, PermOrgRead, testTime()}},
		{`INSERT INTO role_permissions (role_id, organization_id, permission, created_at) VALUES ($1, $2, $3, $4)`,
			[]interface{}{"role-member", nil, PermMembersRead, testTime()}},
		{`INSERT INTO role_permissions (role_id, organization_id, permission, created_at) VALUES ($1, $2, $3, $4)`,
			[]interface{}{"role-member", "org-1", PermInvitesCreate, testTime()}},
		{`INSERT INTO role_permissions (role_id, organization_id, permission, created_at) VALUES ($1, $2, $3, $4)`,
			[]interface{}{"role-member", "org-2", PermMembersManage, testTime()}},
	}
	for _, r := range rows {
		_, err := db.Exec(r.query, r.args...)
		require.NoError(t, err)
	}
}

func TestOrganizationPermissions(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	seedResolverFixture(t, db)
	resolver := NewResolver(db, nil, nil, nil)

	t.Run("template grants union org overrides", func(t *testing.T) {
		perms, err := resolver.OrganizationPermissions(ctx, "org-1", "user-1")
		require.NoError(t, err)
		assert.Equal(t, []string{PermInvitesCreate, PermMembersRead, PermOrgRead}, perms)
	})

	t.Run("other orgs overrides never leak", func(t *testing.T) {
		perms, err := resolver.OrganizationPermissions(ctx, "org-1", "user-1")
		require.NoError(t, err)
		assert.NotContains(t, perms, PermMembersManage)
	})

	t.Run("non-member gets empty set", func(t *testing.T) {
		perms, err := resolver.OrganizationPermissions(ctx, "org-1", "stranger")
		require.NoError(t, err)
		assert.Empty(t, perms)
		assert.NotNil(t, perms)
	})
}

func TestEffectivePermissions(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	seedResolverFixture(t, db)

	t.Run("global permissions union in", func(t *testing.T) {
		global := &stubGlobalSource{permissions: []string{"platform:admin", PermOrgRead}}
		resolver := NewResolver(db, global, nil, nil)

		perms, err := resolver.EffectivePermissions(ctx, "org-1", "user-1")
		require.NoError(t, err)
		assert.Equal(t, []string{PermInvitesCreate, PermMembersRead, PermOrgRead, "platform:admin"}, perms)
	})

	t.Run("nil global source", func(t *testing.T) {
		resolver := NewResolver(db, nil, nil, nil)

		perms, err := resolver.EffectivePermissions(ctx, "org-1", "user-1")
		require.NoError(t, err)
		assert.Equal(t, []string{PermInvitesCreate, PermMembersRead, PermOrgRead}, perms)
	})

	t.Run("global source failure propagates", func(t *testing.T) {
		global := &stubGlobalSource{err: errors.New("directory unavailable")}
		resolver := NewResolver(db, global, nil, nil)

		_, err := resolver.EffectivePermissions(ctx, "org-1", "user-1")
		assert.Error(t, err)
	})
}

func TestActiveOrganizationPermissions(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	seedResolverFixture(t, db)
	resolver := NewResolver(db, nil, nil, nil)

	t.Run("active org contributes", func(t *testing.T) {
		perms, err := resolver.ActiveOrganizationPermissions(ctx, "org-1", "user-1", "org-1")
		require.NoError(t, err)
		assert.NotEmpty(t, perms)
	})

	t.Run("inactive org contributes nothing", func(t *testing.T) {
		perms, err := resolver.ActiveOrganizationPermissions(ctx, "org-1", "user-1", "org-2")
		require.NoError(t, err)
		assert.Empty(t, perms)
		assert.NotNil(t, perms)
	})
}

func TestResolverInvalidationDropsRevokedGrant(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	seedResolverFixture(t, db)

	cache, err := NewPermissionCache(nil, 0, time.Hour, nil)
	require.NoError(t, err)
	resolver := NewResolver(db, nil, cache, nil)

	perms, err := resolver.OrganizationPermissions(ctx, "org-1", "user-1")
	require.NoError(t, err)
	assert.Contains(t, perms, PermInvitesCreate)

	// Revoke the org override out from under the cached resolution
	_, err = db.Exec(`DELETE FROM role_permissions WHERE role_id = $1 AND organization_id = $2 AND permission = $3`,
		"role-member", "org-1", PermInvitesCreate)
	require.NoError(t, err)

	require.NoError(t, resolver.InvalidateOrganization(ctx, "org-1"))

	perms, err = resolver.OrganizationPermissions(ctx, "org-1", "user-1")
	require.NoError(t, err)
	assert.NotContains(t, perms, PermInvitesCreate, "revoked grant must not serve after invalidation")
	assert.Equal(t, []string{PermMembersRead, PermOrgRead}, perms)
}

func TestUnionSorted(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, unionSorted([]string{"c", "a"}, []string{"b", "a"}))
	assert.Empty(t, unionSorted(nil, nil))
}
