package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/orgs"
)

// Store handles role and role-permission persistence
type Store struct {
	db    *sql.DB
	audit audit.Logger
	cache *PermissionCache
}

// NewStore creates a new role store. A nil audit logger disables audit
// emission. When a cache is given, mutations that change what roles
// grant invalidate the affected entries.
func NewStore(db *sql.DB, auditLogger audit.Logger, cache *PermissionCache) *Store {
	if auditLogger == nil {
		auditLogger = audit.NewNopLogger()
	}
	return &Store{db: db, audit: auditLogger, cache: cache}
}

// invalidateScope drops cached resolutions affected by a mutation at
// the given scope. A nil organizationID means a template changed,
// which can touch any organization assigning the role. Best effort;
// TTL expiry bounds staleness if the flush fails.
func (s *Store) invalidateScope(ctx context.Context, organizationID *string) {
	if s.cache == nil {
		return
	}
	if organizationID != nil {
		_ = s.cache.InvalidateOrganization(ctx, *organizationID)
		return
	}
	_ = s.cache.InvalidateAll(ctx)
}

// CreateRole creates a new role and assigns its ID. A nil
// role.OrganizationID creates a global template.
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	if strings.TrimSpace(role.Name) == "" {
		return &orgs.InvalidArgumentError{Field: "name", Reason: "must not be empty"}
	}

	role.ID = uuid.NewString()
	now := time.Now().UTC()

	query := `
		INSERT INTO roles (id, organization_id, name, description, is_system_role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		role.ID,
		role.OrganizationID,
		role.Name,
		role.Description,
		role.IsSystemRole,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &orgs.ConflictError{Resource: "role", Detail: fmt.Sprintf("role %q already exists in this scope", role.Name)}
		}
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now

	_ = s.audit.Log(ctx, &audit.Event{
		Type:           audit.EventTypeRoleCreated,
		OrganizationID: derefOrEmpty(role.OrganizationID),
		Detail: map[string]string{
			"role_id":   role.ID,
			"role_name": role.Name,
		},
	})

	return nil
}

// GetRole retrieves a role by ID. Returns nil when no role exists.
func (s *Store) GetRole(ctx context.Context, roleID string) (*Role, error) {
	query := `
		SELECT id, organization_id, name, description, is_system_role, created_at, updated_at
		FROM roles
		WHERE id = $1
	`
	role, err := scanRole(s.db.QueryRowContext(ctx, query, roleID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// GetRoleByName retrieves a role by name, preferring an org-scoped role
// over a template of the same name. Returns nil when no role exists.
func (s *Store) GetRoleByName(ctx context.Context, organizationID *string, name string) (*Role, error) {
	query := `
		SELECT id, organization_id, name, description, is_system_role, created_at, updated_at
		FROM roles
		WHERE name = $1 AND (organization_id = $2 OR organization_id IS NULL)
		ORDER BY organization_id NULLS LAST
		LIMIT 1
	`
	role, err := scanRole(s.db.QueryRowContext(ctx, query, name, organizationID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role by name: %w", err)
	}
	return role, nil
}

// ListRoles lists the roles visible to an organization: its own roles
// plus the global templates. A nil organizationID lists templates only.
func (s *Store) ListRoles(ctx context.Context, organizationID *string) ([]Role, error) {
	query := `
		SELECT id, organization_id, name, description, is_system_role, created_at, updated_at
		FROM roles
		WHERE organization_id = $1 OR organization_id IS NULL
		ORDER BY organization_id NULLS FIRST, name ASC
	`
	rows, err := s.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}

	return roles, rows.Err()
}

// DeleteRole deletes a role. System roles refuse deletion. Permission
// rows and membership assignments referencing the role are removed by
// the schema's cascades.
func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role == nil {
		return &orgs.NotFoundError{Resource: "role", ID: roleID}
	}
	if role.IsSystemRole {
		return &orgs.InvalidArgumentError{Field: "role_id", Reason: "system roles cannot be deleted"}
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}

	s.invalidateScope(ctx, role.OrganizationID)

	_ = s.audit.Log(ctx, &audit.Event{
		Type:           audit.EventTypeRoleDeleted,
		OrganizationID: derefOrEmpty(role.OrganizationID),
		Detail: map[string]string{
			"role_id":   role.ID,
			"role_name": role.Name,
		},
	})

	return nil
}

// SetRolePermissions replaces the permission rows for a role at one
// scope. A nil organizationID sets the role's template grants; a
// non-nil one sets that organization's additive overrides without
// touching the template rows. The role must be a template or belong to
// the given organization.
func (s *Store) SetRolePermissions(ctx context.Context, roleID string, organizationID *string, permissions []string) error {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role == nil {
		return &orgs.NotFoundError{Resource: "role", ID: roleID}
	}
	if organizationID != nil && role.OrganizationID != nil && *role.OrganizationID != *organizationID {
		return &orgs.InvalidArgumentError{Field: "organization_id", Reason: "role belongs to a different organization"}
	}
	if organizationID == nil && role.OrganizationID != nil {
		return &orgs.InvalidArgumentError{Field: "organization_id", Reason: "org-scoped roles cannot carry template grants"}
	}

	perms := dedupeStrings(permissions)
	for _, p := range perms {
		if strings.TrimSpace(p) == "" {
			return &orgs.InvalidArgumentError{Field: "permissions", Reason: "permission strings must not be empty"}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	deleteQuery := `
		DELETE FROM role_permissions
		WHERE role_id = $1
		  AND (organization_id = $2 OR (organization_id IS NULL AND $2::uuid IS NULL))
	`
	if _, err := tx.ExecContext(ctx, deleteQuery, roleID, organizationID); err != nil {
		return fmt.Errorf("failed to clear role permissions: %w", err)
	}

	now := time.Now().UTC()
	insertQuery := `
		INSERT INTO role_permissions (role_id, organization_id, permission, created_at)
		VALUES ($1, $2, $3, $4)
	`
	for _, p := range perms {
		if _, err := tx.ExecContext(ctx, insertQuery, roleID, organizationID, p, now); err != nil {
			return fmt.Errorf("failed to insert role permission: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role permissions: %w", err)
	}

	s.invalidateScope(ctx, organizationID)

	_ = s.audit.Log(ctx, &audit.Event{
		Type:           audit.EventTypePermissionsSet,
		OrganizationID: derefOrEmpty(organizationID),
		Detail: map[string]string{
			"role_id":     roleID,
			"role_name":   role.Name,
			"permissions": strings.Join(perms, ","),
		},
	})

	return nil
}

// ListRolePermissions returns the effective permission strings a role
// grants within an organization: template rows plus that org's
// overrides, deduplicated and sorted. A nil organizationID returns the
// template rows only.
func (s *Store) ListRolePermissions(ctx context.Context, roleID string, organizationID *string) ([]string, error) {
	query := `
		SELECT DISTINCT permission
		FROM role_permissions
		WHERE role_id = $1
		  AND (organization_id = $2 OR organization_id IS NULL)
		ORDER BY permission ASC
	`
	rows, err := s.db.QueryContext(ctx, query, roleID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer rows.Close()

	permissions := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		permissions = append(permissions, p)
	}

	return permissions, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(scanner rowScanner) (*Role, error) {
	var role Role
	var orgID sql.NullString

	err := scanner.Scan(
		&role.ID,
		&orgID,
		&role.Name,
		&role.Description,
		&role.IsSystemRole,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if orgID.Valid {
		oid := orgID.String
		role.OrganizationID = &oid
	}

	return &role, nil
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

// dedupeStrings returns a sorted copy of values with duplicates removed.
// Comparison is case-sensitive.
func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
