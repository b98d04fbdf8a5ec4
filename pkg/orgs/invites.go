package orgs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/gatehouse/pkg/audit"
)

// CreateInvitation creates a pending invitation for an email address to join
// an organization with the given roles.
//
// At most one pending invitation may exist per (organization, normalized
// email); a second create while the first is pending fails with
// InvitationExistsError. Expired rows for the pair are cleared inside the same
// transaction, so the store's unique constraint (not an application lock)
// enforces the invariant under concurrent creates.
func (s *PostgresService) CreateInvitation(ctx context.Context, orgID string, req *CreateInvitationRequest) (*Invitation, error) {
	ctx, span := s.tracer.Start(ctx, "orgs.CreateInvitation")
	defer span.End()

	if s.directory == nil {
		return nil, ErrNoDirectory
	}

	email := NormalizeEmail(req.Email)
	if email == "" {
		return nil, &InvalidArgumentError{Field: "email", Reason: "email is required"}
	}
	if req.ExpiresInHours < 0 {
		return nil, &InvalidArgumentError{Field: "expires_in_hours", Reason: "must be positive"}
	}
	ttl := s.InvitationTTL
	if ttl <= 0 {
		ttl = DefaultInvitationTTL
	}
	if req.ExpiresInHours > 0 {
		ttl = time.Duration(req.ExpiresInHours) * time.Hour
	}

	org, err := s.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, &NotFoundError{Resource: "organization", ID: orgID}
	}
	if org.Status == OrgStatusArchived {
		return nil, &InvalidArgumentError{Field: "organization_id", Reason: "organization is archived"}
	}

	roleIDs := dedupe(req.RoleIDs)
	if missing, err := s.resolveRoles(ctx, s.db, orgID, roleIDs); err != nil {
		return nil, err
	} else if len(missing) > 0 {
		return nil, unresolvableRoles(missing)
	}

	// Directory lookup happens before any write begins; no lock is held
	// across this external call.
	invitee, err := s.directory.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up invitee: %w", err)
	}

	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate invitation code: %w", err)
	}

	inv := &Invitation{
		Code:             code,
		OrganizationID:   org.ID,
		OrganizationName: org.DisplayName,
		OrganizationSlug: org.Slug,
		Email:            email,
		RoleIDs:          roleIDs,
		CreatedBy:        req.CreatedBy,
		ExpiresAt:        time.Now().UTC().Add(ttl),
	}
	roleIDsJSON, err := json.Marshal(inv.RoleIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal role ids: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Expired rows are treated as absent for the collision check
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM invitations
		WHERE organization_id = $1 AND email = $2 AND expires_at <= NOW()
	`, org.ID, email); err != nil {
		return nil, fmt.Errorf("failed to clear expired invitations: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO invitations (code, organization_id, organization_name, organization_slug, email, role_ids, created_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, inv.Code, inv.OrganizationID, inv.OrganizationName, inv.OrganizationSlug,
		inv.Email, roleIDsJSON, inv.CreatedBy, inv.ExpiresAt).
		Scan(&inv.CreatedAt)
	if isUniqueViolation(err) {
		return nil, &InvitationExistsError{OrganizationID: org.ID, Email: email}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invitation: %w", err)
	}

	// Audit failures are reported by the sink itself and never block
	_ = s.audit.Log(ctx, &audit.Event{
		Type:           audit.EventTypeInviteCreated,
		OrganizationID: inv.OrganizationID,
		ActorID:        req.CreatedBy,
		Email:          inv.Email,
		Code:           inv.Code,
		Detail:         map[string]string{"existing_account": fmt.Sprintf("%t", invitee != nil)},
	})
	if s.metrics != nil {
		s.metrics.InvitationsCreatedTotal.Inc()
	}

	return inv, nil
}

// ListInvitations returns the pending invitations of an organization.
// Expired-but-not-yet-purged rows are filtered out at read time.
func (s *PostgresService) ListInvitations(ctx context.Context, orgID string) ([]*Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, organization_id, organization_name, organization_slug, email, role_ids, created_by, created_at, expires_at
		FROM invitations
		WHERE organization_id = $1 AND expires_at > NOW()
		ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}

	return invitations, nil
}

// FindInvitation retrieves an invitation by code regardless of expiry state,
// or nil when absent. Accept re-checks expiry independently.
func (s *PostgresService) FindInvitation(ctx context.Context, code string) (*Invitation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT code, organization_id, organization_name, organization_slug, email, role_ids, created_by, created_at, expires_at
		FROM invitations
		WHERE code = $1
	`, code)

	inv, err := scanInvitation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// RevokeInvitation removes an invitation if it belongs to the organization.
// Returns false, not an error, when the code is already gone, making
// repeated revokes idempotent.
func (s *PostgresService) RevokeInvitation(ctx context.Context, orgID, code string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "orgs.RevokeInvitation")
	defer span.End()

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM invitations WHERE organization_id = $1 AND code = $2`,
		orgID, code)
	if err != nil {
		return false, fmt.Errorf("failed to revoke invitation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return false, nil
	}

	_ = s.audit.Log(ctx, &audit.Event{
		Type:           audit.EventTypeInviteRevoked,
		OrganizationID: orgID,
		Code:           code,
	})
	if s.metrics != nil {
		s.metrics.InvitationsRevokedTotal.Inc()
	}

	return true, nil
}

// AcceptInvitation redeems an invitation code for the given user, creating or
// merging their membership in the invitation's organization.
//
// Returns (nil, nil) when the code is absent or expired so callers can render
// a neutral not-found without learning whether the code ever existed.
// Membership write and invitation deletion commit atomically.
func (s *PostgresService) AcceptInvitation(ctx context.Context, code string, user *UserRef) (*AcceptanceResult, error) {
	ctx, span := s.tracer.Start(ctx, "orgs.AcceptInvitation")
	defer span.End()

	if user == nil || user.ID == "" {
		return nil, &InvalidArgumentError{Field: "user", Reason: "user is required"}
	}
	if s.directory == nil {
		return nil, ErrNoDirectory
	}

	// Cheap pre-read to avoid directory calls for dead codes; the expiry and
	// presence checks are repeated under the row lock below.
	inv, err := s.FindInvitation(ctx, code)
	if err != nil {
		return nil, err
	}
	if inv == nil || inv.Expired(time.Now().UTC()) {
		return nil, nil
	}

	// External call before any write; no lock held across it
	accountCreatedAt, err := s.directory.AccountCreatedAt(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	wasExistingUser := accountCreatedAt.Before(inv.CreatedAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inv, err = lockInvitation(ctx, tx, code)
	if err != nil {
		return nil, err
	}
	if inv == nil || inv.Expired(time.Now().UTC()) {
		return nil, nil
	}

	// Roles deleted since the invite was created surface as an error,
	// never a silent drop
	if missing, err := s.resolveRoles(ctx, tx, inv.OrganizationID, inv.RoleIDs); err != nil {
		return nil, err
	} else if len(missing) > 0 {
		return nil, unresolvableRoles(missing)
	}

	var memberPresent bool
	err = tx.QueryRowContext(ctx, `
		SELECT TRUE FROM memberships
		WHERE organization_id = $1 AND user_id = $2
		FOR UPDATE
	`, inv.OrganizationID, user.ID).Scan(&memberPresent)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to lock membership: %w", err)
	}

	if memberPresent {
		// Existing member: union the assignment sets
		if err := mergeRoleAssignments(ctx, tx, inv.OrganizationID, user.ID, inv.RoleIDs); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE memberships SET updated_at = NOW()
			WHERE organization_id = $1 AND user_id = $2
		`, inv.OrganizationID, user.ID); err != nil {
			return nil, fmt.Errorf("failed to touch membership: %w", err)
		}
	} else {
		var tenantID *string
		if err := tx.QueryRowContext(ctx,
			`SELECT tenant_id FROM organizations WHERE id = $1`,
			inv.OrganizationID).Scan(&tenantID); err != nil {
			return nil, fmt.Errorf("failed to get organization tenant: %w", err)
		}

		isPrimary := false
		if s.PrimaryOnFirstJoin {
			var others int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM memberships WHERE user_id = $1`,
				user.ID).Scan(&others); err != nil {
				return nil, fmt.Errorf("failed to count memberships: %w", err)
			}
			isPrimary = others == 0
		}

		if err := insertMembership(ctx, tx, &Membership{
			OrganizationID: inv.OrganizationID,
			UserID:         user.ID,
			TenantID:       tenantID,
			IsPrimary:      isPrimary,
			RoleIDs:        inv.RoleIDs,
		}); err != nil {
			return nil, err
		}
	}

	// Acceptance is modeled as row deletion, matching the revoke path
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM invitations WHERE code = $1`, code); err != nil {
		return nil, fmt.Errorf("failed to delete invitation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit acceptance: %w", err)
	}

	// The user's assignment set just changed; cached resolutions for the
	// pair must not serve past this point
	s.invalidatePermissions(ctx, inv.OrganizationID, user.ID)

	_ = s.audit.Log(ctx, &audit.Event{
		Type:           audit.EventTypeInviteAccepted,
		OrganizationID: inv.OrganizationID,
		ActorID:        &user.ID,
		Email:          inv.Email,
		Code:           inv.Code,
		Detail:         map[string]string{"existing_member": fmt.Sprintf("%t", memberPresent)},
	})
	if s.metrics != nil {
		s.metrics.InvitationsAcceptedTotal.Inc()
	}

	return &AcceptanceResult{
		OrganizationID:    inv.OrganizationID,
		OrganizationSlug:  inv.OrganizationSlug,
		OrganizationName:  inv.OrganizationName,
		RoleIDs:           inv.RoleIDs,
		WasExistingMember: memberPresent,
		WasExistingUser:   wasExistingUser,
	}, nil
}

// PurgeExpiredInvitations deletes invitations expired for longer than
// retainFor. Storage hygiene only; expiry semantics never depend on it.
func (s *PostgresService) PurgeExpiredInvitations(ctx context.Context, retainFor time.Duration) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM invitations WHERE expires_at < NOW() - $1::interval`,
		fmt.Sprintf("%d seconds", int64(retainFor.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired invitations: %w", err)
	}
	return result.RowsAffected()
}

// querier abstracts *sql.DB and *sql.Tx for reads that run either way
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// resolveRoles verifies every roleID names a role belonging to the
// organization or a global template; returns the ids that did not resolve.
func (s *PostgresService) resolveRoles(ctx context.Context, q querier, orgID string, roleIDs []string) ([]string, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id FROM roles
		WHERE id = ANY($1) AND (organization_id = $2 OR organization_id IS NULL)
	`, pq.Array(roleIDs), orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve roles: %w", err)
	}
	defer rows.Close()

	found := make(map[string]struct{}, len(roleIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		found[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to resolve roles: %w", err)
	}

	var missing []string
	for _, id := range roleIDs {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// lockInvitation reads an invitation FOR UPDATE inside tx, or nil when absent
func lockInvitation(ctx context.Context, tx *sql.Tx, code string) (*Invitation, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT code, organization_id, organization_name, organization_slug, email, role_ids, created_by, created_at, expires_at
		FROM invitations
		WHERE code = $1
		FOR UPDATE
	`, code)

	inv, err := scanInvitation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInvitation(row rowScanner) (*Invitation, error) {
	inv := &Invitation{}
	var roleIDsJSON []byte
	err := row.Scan(
		&inv.Code, &inv.OrganizationID, &inv.OrganizationName, &inv.OrganizationSlug,
		&inv.Email, &roleIDsJSON, &inv.CreatedBy, &inv.CreatedAt, &inv.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan invitation: %w", err)
	}

	if err := json.Unmarshal(roleIDsJSON, &inv.RoleIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal role ids: %w", err)
	}

	return inv, nil
}
