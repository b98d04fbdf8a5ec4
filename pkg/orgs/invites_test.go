package orgs

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inviteColumns() []string {
	return []string{"code", "organization_id", "organization_name", "organization_slug", "email", "role_ids", "created_by", "created_at", "expires_at"}
}

func expectActiveOrg(mock sqlmock.Sqlmock, orgID string) {
	now := time.Now()
	mock.ExpectQuery(`SELECT id, tenant_id, slug, display_name, metadata, status`).
		WithArgs(orgID).
		WillReturnRows(sqlmock.NewRows(orgColumns()).
			AddRow(orgID, nil, "acme", "Acme Corp", []byte(`{}`), "active", now, now, nil))
}

func expectResolvedRoles(mock sqlmock.Sqlmock, roleIDs ...string) {
	rows := sqlmock.NewRows([]string{"id"})
	for _, id := range roleIDs {
		rows.AddRow(id)
	}
	mock.ExpectQuery(`SELECT id FROM roles`).WillReturnRows(rows)
}

func TestCreateInvitation(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		expectActiveOrg(mock, "org-1")
		expectResolvedRoles(mock, "role-member")
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM invitations`).
			WithArgs("org-1", "invitee@example.com").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`INSERT INTO invitations`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
		mock.ExpectCommit()

		inv, err := service.CreateInvitation(ctx, "org-1", &CreateInvitationRequest{
			Email:   "  Invitee@Example.com ",
			RoleIDs: []string{"role-member"},
		})
		require.NoError(t, err)
		assert.Len(t, inv.Code, 64)
		assert.Equal(t, "invitee@example.com", inv.Email)
		assert.Equal(t, "acme", inv.OrganizationSlug)
		assert.WithinDuration(t, time.Now().UTC().Add(DefaultInvitationTTL), inv.ExpiresAt, time.Minute)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("explicit expiry overrides default", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		expectActiveOrg(mock, "org-1")
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM invitations`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`INSERT INTO invitations`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
		mock.ExpectCommit()

		inv, err := service.CreateInvitation(ctx, "org-1", &CreateInvitationRequest{
			Email:          "invitee@example.com",
			ExpiresInHours: 2,
		})
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().UTC().Add(2*time.Hour), inv.ExpiresAt, time.Minute)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing email", func(t *testing.T) {
		service, _, db := newMockService(t)
		defer db.Close()

		_, err := service.CreateInvitation(ctx, "org-1", &CreateInvitationRequest{Email: "   "})
		assert.True(t, IsInvalidArgument(err))
	})

	t.Run("negative expiry", func(t *testing.T) {
		service, _, db := newMockService(t)
		defer db.Close()

		_, err := service.CreateInvitation(ctx, "org-1", &CreateInvitationRequest{
			Email:          "invitee@example.com",
			ExpiresInHours: -1,
		})
		assert.True(t, IsInvalidArgument(err))
	})

	t.Run("organization missing", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT id, tenant_id, slug, display_name, metadata, status`).
			WithArgs("gone").
			WillReturnRows(sqlmock.NewRows(orgColumns()))

		_, err := service.CreateInvitation(ctx, "gone", &CreateInvitationRequest{Email: "invitee@example.com"})
		assert.True(t, IsNotFound(err))

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("organization archived", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		now := time.Now()
		archived := now.Add(-time.Hour)
		mock.ExpectQuery(`SELECT id, tenant_id, slug, display_name, metadata, status`).
			WithArgs("org-1").
			WillReturnRows(sqlmock.NewRows(orgColumns()).
				AddRow("org-1", nil, "acme", "Acme Corp", []byte(`{}`), "archived", now, now, archived))

		_, err := service.CreateInvitation(ctx, "org-1", &CreateInvitationRequest{Email: "invitee@example.com"})
		assert.True(t, IsInvalidArgument(err))

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unresolvable role", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		expectActiveOrg(mock, "org-1")
		expectResolvedRoles(mock) // nothing resolves

		_, err := service.CreateInvitation(ctx, "org-1", &CreateInvitationRequest{
			Email:   "invitee@example.com",
			RoleIDs: []string{"role-ghost"},
		})
		require.Error(t, err)
		assert.True(t, IsInvalidArgument(err))
		assert.Contains(t, err.Error(), "role-ghost")

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("pending invitation already exists", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		expectActiveOrg(mock, "org-1")
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM invitations`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`INSERT INTO invitations`).WillReturnError(uniqueViolation())
		mock.ExpectRollback()

		_, err := service.CreateInvitation(ctx, "org-1", &CreateInvitationRequest{Email: "invitee@example.com"})
		assert.True(t, IsInvitationExists(err))

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestListInvitations(t *testing.T) {
	ctx := context.Background()

	service, mock, db := newMockService(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT code, organization_id, organization_name`).
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows(inviteColumns()).
			AddRow("code-1", "org-1", "Acme Corp", "acme", "a@example.com", []byte(`["role-member"]`), nil, now, now.Add(time.Hour)))

	invitations, err := service.ListInvitations(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, invitations, 1)
	assert.Equal(t, []string{"role-member"}, invitations[0].RoleIDs)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindInvitation(t *testing.T) {
	ctx := context.Background()

	t.Run("absent returns nil", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT code, organization_id, organization_name`).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(inviteColumns()))

		inv, err := service.FindInvitation(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, inv)

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestExpiredInvitationVisibility(t *testing.T) {
	ctx := context.Background()

	t.Run("find returns the row past expiry", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		created := time.Now().Add(-48 * time.Hour)
		expired := time.Now().Add(-time.Hour)
		mock.ExpectQuery(`SELECT code, organization_id, organization_name`).
			WithArgs("code-1").
			WillReturnRows(sqlmock.NewRows(inviteColumns()).
				AddRow("code-1", "org-1", "Acme Corp", "acme", "a@example.com",
					[]byte(`["role-member"]`), nil, created, expired))

		inv, err := service.FindInvitation(ctx, "code-1")
		require.NoError(t, err)
		require.NotNil(t, inv, "expiry never hides the row from Find")
		assert.False(t, inv.Usable(time.Now().UTC()))
		assert.True(t, inv.Expired(time.Now().UTC()))

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("list filters expired rows in the query", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		// The pending filter lives in the statement itself; no sweep runs
		mock.ExpectQuery(`FROM invitations\s+WHERE organization_id = \$1 AND expires_at > NOW\(\)`).
			WithArgs("org-1").
			WillReturnRows(sqlmock.NewRows(inviteColumns()))

		invitations, err := service.ListInvitations(ctx, "org-1")
		require.NoError(t, err)
		assert.Empty(t, invitations)

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRevokeInvitation(t *testing.T) {
	ctx := context.Background()

	t.Run("revoked", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectExec(`DELETE FROM invitations`).
			WithArgs("org-1", "code-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		revoked, err := service.RevokeInvitation(ctx, "org-1", "code-1")
		require.NoError(t, err)
		assert.True(t, revoked)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already gone is idempotent", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectExec(`DELETE FROM invitations`).
			WithArgs("org-1", "code-1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		revoked, err := service.RevokeInvitation(ctx, "org-1", "code-1")
		require.NoError(t, err)
		assert.False(t, revoked)

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAcceptInvitation(t *testing.T) {
	ctx := context.Background()

	expectFindInvitation := func(mock sqlmock.Sqlmock, code string, expiresAt time.Time) {
		mock.ExpectQuery(`SELECT code, organization_id, organization_name`).
			WithArgs(code).
			WillReturnRows(sqlmock.NewRows(inviteColumns()).
				AddRow(code, "org-1", "Acme Corp", "acme", "invitee@example.com",
					[]byte(`["role-member"]`), nil, time.Now().Add(-time.Hour), expiresAt))
	}

	t.Run("new member first join becomes primary", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()
		invalidator := &recordingInvalidator{}
		service.Invalidator = invalidator

		expiresAt := time.Now().Add(time.Hour)
		expectFindInvitation(mock, "code-1", expiresAt)
		mock.ExpectBegin()
		expectFindInvitation(mock, "code-1", expiresAt) // re-read under lock
		expectResolvedRoles(mock, "role-member")
		mock.ExpectQuery(`SELECT TRUE FROM memberships`).
			WithArgs("org-1", "user-1").
			WillReturnRows(sqlmock.NewRows([]string{"bool"}))
		mock.ExpectQuery(`SELECT tenant_id FROM organizations`).
			WithArgs("org-1").
			WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}).AddRow(nil))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM memberships`).
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		now := time.Now()
		mock.ExpectQuery(`INSERT INTO memberships`).
			WithArgs("org-1", "user-1", nil, true).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectExec(`INSERT INTO membership_roles`).
			WithArgs("org-1", "user-1", "role-member").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM invitations`).
			WithArgs("code-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		result, err := service.AcceptInvitation(ctx, "code-1", &UserRef{ID: "user-1", Email: "invitee@example.com"})
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, "org-1", result.OrganizationID)
		assert.Equal(t, []string{"role-member"}, result.RoleIDs)
		assert.False(t, result.WasExistingMember)
		assert.Equal(t, [][2]string{{"org-1", "user-1"}}, invalidator.calls)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("existing member roles merge", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()
		invalidator := &recordingInvalidator{}
		service.Invalidator = invalidator

		expiresAt := time.Now().Add(time.Hour)
		expectFindInvitation(mock, "code-1", expiresAt)
		mock.ExpectBegin()
		expectFindInvitation(mock, "code-1", expiresAt)
		expectResolvedRoles(mock, "role-member")
		mock.ExpectQuery(`SELECT TRUE FROM memberships`).
			WithArgs("org-1", "user-1").
			WillReturnRows(sqlmock.NewRows([]string{"bool"}).AddRow(true))
		mock.ExpectExec(`INSERT INTO membership_roles`).
			WithArgs("org-1", "user-1", "role-member").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`UPDATE memberships SET updated_at`).
			WithArgs("org-1", "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM invitations`).
			WithArgs("code-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		result, err := service.AcceptInvitation(ctx, "code-1", &UserRef{ID: "user-1"})
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.True(t, result.WasExistingMember)

		// Merged assignments must not keep serving stale cached resolutions
		assert.Equal(t, [][2]string{{"org-1", "user-1"}}, invalidator.calls)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired code reads as absent", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		expectFindInvitation(mock, "code-1", time.Now().Add(-time.Minute))

		result, err := service.AcceptInvitation(ctx, "code-1", &UserRef{ID: "user-1"})
		require.NoError(t, err)
		assert.Nil(t, result)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown code reads as absent", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT code, organization_id, organization_name`).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(inviteColumns()))

		result, err := service.AcceptInvitation(ctx, "missing", &UserRef{ID: "user-1"})
		require.NoError(t, err)
		assert.Nil(t, result)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing user", func(t *testing.T) {
		service, _, db := newMockService(t)
		defer db.Close()

		_, err := service.AcceptInvitation(ctx, "code-1", nil)
		assert.True(t, IsInvalidArgument(err))
	})

	t.Run("role deleted since invite surfaces as error", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		expiresAt := time.Now().Add(time.Hour)
		expectFindInvitation(mock, "code-1", expiresAt)
		mock.ExpectBegin()
		expectFindInvitation(mock, "code-1", expiresAt)
		expectResolvedRoles(mock) // role no longer resolves
		mock.ExpectRollback()

		_, err := service.AcceptInvitation(ctx, "code-1", &UserRef{ID: "user-1"})
		require.Error(t, err)
		assert.True(t, IsInvalidArgument(err))

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestInvitationPathsRequireDirectory(t *testing.T) {
	ctx := context.Background()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	service := NewPostgresService(db, nil, nil, nil)

	t.Run("create", func(t *testing.T) {
		_, err := service.CreateInvitation(ctx, "org-1", &CreateInvitationRequest{Email: "a@example.com"})
		assert.ErrorIs(t, err, ErrNoDirectory)
	})

	t.Run("accept", func(t *testing.T) {
		_, err := service.AcceptInvitation(ctx, "code-1", &UserRef{ID: "user-1"})
		assert.ErrorIs(t, err, ErrNoDirectory)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeExpiredInvitations(t *testing.T) {
	ctx := context.Background()

	service, mock, db := newMockService(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM invitations`).
		WithArgs("2592000 seconds").
		WillReturnResult(sqlmock.NewResult(0, 3))

	purged, err := service.PurgeExpiredInvitations(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), purged)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvitationUsable(t *testing.T) {
	now := time.Now().UTC()
	inv := &Invitation{ExpiresAt: now.Add(time.Minute)}
	assert.True(t, inv.Usable(now))
	assert.False(t, inv.Usable(now.Add(2*time.Minute)))
}
