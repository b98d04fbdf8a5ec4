package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// SeedFile is the on-disk YAML shape consumed by the seed command.
type SeedFile struct {
	Roles []RoleDefinition `yaml:"roles"`
}

// LoadSeedFile reads role definitions from a YAML file.
func LoadSeedFile(path string) ([]RoleDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var file SeedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if len(file.Roles) == 0 {
		return nil, fmt.Errorf("seed file %s defines no roles", path)
	}

	for _, def := range file.Roles {
		if def.Name == "" {
			return nil, fmt.Errorf("seed file %s contains a role with no name", path)
		}
	}

	return file.Roles, nil
}

// SeedRoles installs template roles and their grants. Seeding is
// idempotent and insert-only: existing roles keep their IDs, and
// permission rows added by operators after a previous seed run are
// never removed.
func SeedRoles(ctx context.Context, db *sql.DB, definitions []RoleDefinition) error {
	for _, def := range definitions {
		roleID, err := ensureTemplateRole(ctx, db, def)
		if err != nil {
			return fmt.Errorf("failed to seed role %q: %w", def.Name, err)
		}

		now := time.Now().UTC()
		for _, permission := range dedupeStrings(def.Permissions) {
			_, err := db.ExecContext(ctx, `
				INSERT INTO role_permissions (role_id, organization_id, permission, created_at)
				VALUES ($1, NULL, $2, $3)
				ON CONFLICT (role_id, COALESCE(organization_id::text, ''), permission) DO NOTHING
			`, roleID, permission, now)
			if err != nil {
				return fmt.Errorf("failed to seed permission %q for role %q: %w", permission, def.Name, err)
			}
		}
	}

	return nil
}

// SeedDefaultRoles installs the built-in template roles.
func SeedDefaultRoles(ctx context.Context, db *sql.DB) error {
	return SeedRoles(ctx, db, DefaultRoleDefinitions())
}

// ensureTemplateRole inserts a template role if absent and returns its
// ID either way.
func ensureTemplateRole(ctx context.Context, db *sql.DB, def RoleDefinition) (string, error) {
	now := time.Now().UTC()
	_, err := db.ExecContext(ctx, `
		INSERT INTO roles (id, organization_id, name, description, is_system_role, created_at, updated_at)
		VALUES ($1, NULL, $2, $3, $4, $5, $5)
		ON CONFLICT (COALESCE(organization_id::text, ''), name) DO NOTHING
	`, uuid.NewString(), def.Name, def.Description, def.System, now)
	if err != nil {
		return "", fmt.Errorf("failed to insert role: %w", err)
	}

	var roleID string
	err = db.QueryRowContext(ctx, `
		SELECT id FROM roles WHERE organization_id IS NULL AND name = $1
	`, def.Name).Scan(&roleID)
	if err != nil {
		return "", fmt.Errorf("failed to look up role: %w", err)
	}

	return roleID, nil
}
