package orgs

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniqueViolation() error {
	return &pq.Error{Code: "23505"}
}

func membershipColumns() []string {
	return []string{"organization_id", "user_id", "tenant_id", "is_primary", "created_at", "updated_at"}
}

func expectRoleIDs(mock sqlmock.Sqlmock, orgID, userID string, roleIDs ...string) {
	rows := sqlmock.NewRows([]string{"role_id"})
	for _, id := range roleIDs {
		rows.AddRow(id)
	}
	mock.ExpectQuery(`SELECT role_id FROM membership_roles`).
		WithArgs(orgID, userID).
		WillReturnRows(rows)
}

func TestGetMembership(t *testing.T) {
	ctx := context.Background()

	t.Run("found with roles", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		now := time.Now()
		mock.ExpectQuery(`SELECT organization_id, user_id, tenant_id, is_primary`).
			WithArgs("org-1", "user-1").
			WillReturnRows(sqlmock.NewRows(membershipColumns()).
				AddRow("org-1", "user-1", nil, true, now, now))
		expectRoleIDs(mock, "org-1", "user-1", "role-admin", "role-member")

		m, err := service.GetMembership(ctx, "org-1", "user-1")
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.True(t, m.IsPrimary)
		assert.Equal(t, []string{"role-admin", "role-member"}, m.RoleIDs)
		assert.True(t, m.HasRole("role-admin"))
		assert.False(t, m.HasRole("role-owner"))

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not a member", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT organization_id, user_id, tenant_id, is_primary`).
			WithArgs("org-1", "stranger").
			WillReturnRows(sqlmock.NewRows(membershipColumns()))

		m, err := service.GetMembership(ctx, "org-1", "stranger")
		require.NoError(t, err)
		assert.Nil(t, m)

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestListMemberships(t *testing.T) {
	ctx := context.Background()

	service, mock, db := newMockService(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT organization_id, user_id, tenant_id, is_primary`).
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows(membershipColumns()).
			AddRow("org-1", "user-1", nil, true, now, now).
			AddRow("org-1", "user-2", nil, false, now, now))
	expectRoleIDs(mock, "org-1", "user-1", "role-admin")
	expectRoleIDs(mock, "org-1", "user-2")

	members, err := service.ListMemberships(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, []string{"role-admin"}, members[0].RoleIDs)
	assert.Empty(t, members[1].RoleIDs)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateMembership(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()
		invalidator := &recordingInvalidator{}
		service.Invalidator = invalidator

		now := time.Now()
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO memberships`).
			WithArgs("org-1", "user-1", nil, false).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectExec(`INSERT INTO membership_roles`).
			WithArgs("org-1", "user-1", "role-member").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := service.CreateMembership(ctx, &Membership{
			OrganizationID: "org-1",
			UserID:         "user-1",
			RoleIDs:        []string{"role-member"},
		})
		require.NoError(t, err)
		assert.Equal(t, [][2]string{{"org-1", "user-1"}}, invalidator.calls)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already a member", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO memberships`).
			WillReturnError(uniqueViolation())
		mock.ExpectRollback()

		err := service.CreateMembership(ctx, &Membership{OrganizationID: "org-1", UserID: "user-1"})
		assert.True(t, IsConflict(err))

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUpdateMembershipRoles(t *testing.T) {
	ctx := context.Background()

	t.Run("additive merge", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()
		invalidator := &recordingInvalidator{}
		service.Invalidator = invalidator

		now := time.Now()
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT TRUE FROM memberships`).
			WithArgs("org-1", "user-1").
			WillReturnRows(sqlmock.NewRows([]string{"bool"}).AddRow(true))
		// duplicates in the request collapse to a single insert
		mock.ExpectExec(`INSERT INTO membership_roles`).
			WithArgs("org-1", "user-1", "role-admin").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE memberships SET updated_at`).
			WithArgs("org-1", "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		mock.ExpectQuery(`SELECT organization_id, user_id, tenant_id, is_primary`).
			WithArgs("org-1", "user-1").
			WillReturnRows(sqlmock.NewRows(membershipColumns()).
				AddRow("org-1", "user-1", nil, false, now, now))
		expectRoleIDs(mock, "org-1", "user-1", "role-admin", "role-member")

		m, err := service.UpdateMembershipRoles(ctx, "org-1", "user-1", []string{"role-admin", "role-admin"})
		require.NoError(t, err)
		assert.Equal(t, []string{"role-admin", "role-member"}, m.RoleIDs)
		assert.Equal(t, [][2]string{{"org-1", "user-1"}}, invalidator.calls)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("membership missing", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT TRUE FROM memberships`).
			WithArgs("org-1", "stranger").
			WillReturnRows(sqlmock.NewRows([]string{"bool"}))
		mock.ExpectRollback()

		_, err := service.UpdateMembershipRoles(ctx, "org-1", "stranger", []string{"role-admin"})
		assert.True(t, IsNotFound(err))

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRemoveMembership(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		invalidator := &recordingInvalidator{}
		service.Invalidator = invalidator
		mock.ExpectExec(`DELETE FROM memberships`).
			WithArgs("org-1", "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, service.RemoveMembership(ctx, "org-1", "user-1"))
		assert.Equal(t, [][2]string{{"org-1", "user-1"}}, invalidator.calls)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not a member", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectExec(`DELETE FROM memberships`).
			WithArgs("org-1", "stranger").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := service.RemoveMembership(ctx, "org-1", "stranger")
		assert.True(t, IsNotFound(err))

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, dedupe([]string{"b", "a", "b", "a"}))
	assert.Empty(t, dedupe(nil))
}
