package orgs

import (
	"context"
	"database/sql"
	"fmt"
)

// ScopeResolver answers whether a user may act within an organization.
// It is the first gate on every organization-scoped operation and is
// deliberately dumb: membership row present means in scope, nothing else.
// No caching, no side effects.
type ScopeResolver struct {
	db *sql.DB
}

// NewScopeResolver creates a new ScopeResolver
func NewScopeResolver(db *sql.DB) *ScopeResolver {
	return &ScopeResolver{db: db}
}

// IsInScope reports whether userID has a membership in orgID. A denial is an
// authorization outcome, not a not-found outcome; mapping it to 403 or 404 is
// the caller's policy.
func (r *ScopeResolver) IsInScope(ctx context.Context, userID, orgID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM memberships
			WHERE organization_id = $1 AND user_id = $2
		)
	`, orgID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to resolve scope: %w", err)
	}
	return exists, nil
}
