package orgs

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all organization-layer migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create organizations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id UUID PRIMARY KEY,
					tenant_id TEXT,
					slug VARCHAR(255) NOT NULL,
					display_name VARCHAR(255) NOT NULL,
					metadata JSONB NOT NULL DEFAULT '{}',
					status VARCHAR(50) NOT NULL DEFAULT 'active',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					archived_at TIMESTAMPTZ
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_organizations_tenant_slug
					ON organizations (COALESCE(tenant_id, ''), slug);
				CREATE INDEX IF NOT EXISTS idx_organizations_status ON organizations(status);
			`,
		},
		{
			Version:     2,
			Description: "Create memberships table",
			SQL: `
				CREATE TABLE IF NOT EXISTS memberships (
					organization_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					user_id UUID NOT NULL,
					tenant_id TEXT,
					is_primary BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (organization_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_memberships_user_id ON memberships(user_id);
			`,
		},
		{
			Version:     3,
			Description: "Create membership_roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS membership_roles (
					organization_id UUID NOT NULL,
					user_id UUID NOT NULL,
					role_id UUID NOT NULL,
					assigned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (organization_id, user_id, role_id),
					FOREIGN KEY (organization_id, user_id)
						REFERENCES memberships(organization_id, user_id) ON DELETE CASCADE
				);

				CREATE INDEX IF NOT EXISTS idx_membership_roles_role_id ON membership_roles(role_id);
			`,
		},
		{
			Version:     4,
			Description: "Create invitations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS invitations (
					code TEXT PRIMARY KEY,
					organization_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					organization_name VARCHAR(255) NOT NULL,
					organization_slug VARCHAR(255) NOT NULL,
					email VARCHAR(320) NOT NULL,
					role_ids JSONB NOT NULL DEFAULT '[]',
					created_by UUID,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMPTZ NOT NULL
				);

				-- One invitation row per (org, email). CreateInvitation deletes
				-- expired rows for the pair in the same transaction before
				-- inserting, so this constraint only ever bites on a still
				-- pending invitation and closes the concurrent-create race.
				CREATE UNIQUE INDEX IF NOT EXISTS idx_invitations_org_email
					ON invitations (organization_id, email);
				CREATE INDEX IF NOT EXISTS idx_invitations_expires_at ON invitations(expires_at);
			`,
		},
	}
}

// RunMigrations applies all pending organization-layer migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	// Create migrations tracking table
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS orgs_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, migration := range GetMigrations() {
		var applied bool
		err := db.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM orgs_migrations WHERE version = $1)",
			migration.Version,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", migration.Version, err)
		}
		if applied {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Description, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO orgs_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
