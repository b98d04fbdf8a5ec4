package orgs

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// GetMembership retrieves a user's membership in an organization, including
// its role assignments, or nil when the user is not a member.
func (s *PostgresService) GetMembership(ctx context.Context, orgID, userID string) (*Membership, error) {
	query := `
		SELECT organization_id, user_id, tenant_id, is_primary, created_at, updated_at
		FROM memberships
		WHERE organization_id = $1 AND user_id = $2
	`
	m := &Membership{}
	err := s.db.QueryRowContext(ctx, query, orgID, userID).Scan(
		&m.OrganizationID, &m.UserID, &m.TenantID, &m.IsPrimary, &m.CreatedAt, &m.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}

	m.RoleIDs, err = s.loadRoleIDs(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ListMemberships retrieves all memberships of an organization, including
// role assignments
func (s *PostgresService) ListMemberships(ctx context.Context, orgID string) ([]*Membership, error) {
	query := `
		SELECT organization_id, user_id, tenant_id, is_primary, created_at, updated_at
		FROM memberships
		WHERE organization_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var members []*Membership
	for rows.Next() {
		m := &Membership{}
		if err := rows.Scan(
			&m.OrganizationID, &m.UserID, &m.TenantID, &m.IsPrimary, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}

	for _, m := range members {
		if m.RoleIDs, err = s.loadRoleIDs(ctx, orgID, m.UserID); err != nil {
			return nil, err
		}
	}

	return members, nil
}

// CreateMembership adds a user to an organization with the given role
// assignments. Returns ConflictError when the user is already a member.
func (s *PostgresService) CreateMembership(ctx context.Context, m *Membership) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertMembership(ctx, tx, m); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.invalidatePermissions(ctx, m.OrganizationID, m.UserID)
	return nil
}

// UpdateMembershipRoles replaces a membership's role assignment set with the
// union of its current set and roleIDs. The merge is additive and idempotent;
// assigning an already-held role is a no-op.
func (s *PostgresService) UpdateMembershipRoles(ctx context.Context, orgID, userID string, roleIDs []string) (*Membership, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Lock the membership row so concurrent merges serialize
	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT TRUE FROM memberships
		WHERE organization_id = $1 AND user_id = $2
		FOR UPDATE
	`, orgID, userID).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "membership", ID: orgID + "/" + userID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock membership: %w", err)
	}

	if err := mergeRoleAssignments(ctx, tx, orgID, userID, roleIDs); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE memberships SET updated_at = NOW()
		WHERE organization_id = $1 AND user_id = $2
	`, orgID, userID); err != nil {
		return nil, fmt.Errorf("failed to touch membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit membership update: %w", err)
	}

	s.invalidatePermissions(ctx, orgID, userID)

	return s.GetMembership(ctx, orgID, userID)
}

// RemoveMembership removes a user from an organization. Role assignments
// cascade. Returns NotFoundError when the user is not a member.
func (s *PostgresService) RemoveMembership(ctx context.Context, orgID, userID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM memberships WHERE organization_id = $1 AND user_id = $2`,
		orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove membership: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &NotFoundError{Resource: "membership", ID: orgID + "/" + userID}
	}

	s.invalidatePermissions(ctx, orgID, userID)
	return nil
}

func (s *PostgresService) loadRoleIDs(ctx context.Context, orgID, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role_id FROM membership_roles
		WHERE organization_id = $1 AND user_id = $2
		ORDER BY role_id ASC
	`, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load role assignments: %w", err)
	}
	defer rows.Close()

	var roleIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan role assignment: %w", err)
		}
		roleIDs = append(roleIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load role assignments: %w", err)
	}

	return roleIDs, nil
}

// insertMembership inserts a membership and its role assignments inside tx
func insertMembership(ctx context.Context, tx *sql.Tx, m *Membership) error {
	err := tx.QueryRowContext(ctx, `
		INSERT INTO memberships (organization_id, user_id, tenant_id, is_primary)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, m.OrganizationID, m.UserID, m.TenantID, m.IsPrimary).
		Scan(&m.CreatedAt, &m.UpdatedAt)
	if isUniqueViolation(err) {
		return &ConflictError{Resource: "membership", Detail: "user is already a member"}
	}
	if err != nil {
		return fmt.Errorf("failed to create membership: %w", err)
	}

	return mergeRoleAssignments(ctx, tx, m.OrganizationID, m.UserID, m.RoleIDs)
}

// mergeRoleAssignments adds roleIDs to a membership's assignment set inside
// tx; duplicates collapse via ON CONFLICT DO NOTHING.
func mergeRoleAssignments(ctx context.Context, tx *sql.Tx, orgID, userID string, roleIDs []string) error {
	for _, roleID := range dedupe(roleIDs) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO membership_roles (organization_id, user_id, role_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (organization_id, user_id, role_id) DO NOTHING
		`, orgID, userID, roleID); err != nil {
			return fmt.Errorf("failed to assign role %s: %w", roleID, err)
		}
	}
	return nil
}

// dedupe returns a sorted copy of ids with duplicates removed
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
