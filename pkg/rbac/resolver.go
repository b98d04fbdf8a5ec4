package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// GlobalPermissionSource supplies a user's organization-independent
// permissions, typically backed by the host platform's own account
// system. Implementations return an empty slice for unknown users
// rather than an error.
type GlobalPermissionSource interface {
	EffectivePermissions(ctx context.Context, userID string) ([]string, error)
}

// Resolver computes effective permission sets. Permission grants are
// purely additive: the resolved set is the union of every source that
// applies, and no source can subtract what another grants.
type Resolver struct {
	db      *sql.DB
	global  GlobalPermissionSource
	cache   *PermissionCache
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// NewResolver creates a permission resolver. global may be nil when no
// platform-level permission source exists; cache and metrics may be nil.
func NewResolver(db *sql.DB, global GlobalPermissionSource, cache *PermissionCache, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		db:      db,
		global:  global,
		cache:   cache,
		metrics: metrics,
		tracer:  otel.Tracer("gatehouse/rbac"),
	}
}

// OrganizationPermissions returns the permissions a user holds within
// one organization: the union over the user's assigned roles of each
// role's template grants plus that organization's additive overrides.
// A user with no membership gets an empty set, not an error.
func (r *Resolver) OrganizationPermissions(ctx context.Context, organizationID, userID string) ([]string, error) {
	ctx, span := r.tracer.Start(ctx, "rbac.OrganizationPermissions")
	defer span.End()

	if r.cache != nil {
		if permissions, ok := r.cache.Get(ctx, organizationID, userID); ok {
			return permissions, nil
		}
	}

	query := `
		SELECT DISTINCT rp.permission
		FROM membership_roles mr
		JOIN role_permissions rp ON rp.role_id = mr.role_id
		WHERE mr.organization_id = $1
		  AND mr.user_id = $2
		  AND (rp.organization_id = $1 OR rp.organization_id IS NULL)
		ORDER BY rp.permission ASC
	`
	rows, err := r.db.QueryContext(ctx, query, organizationID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve organization permissions: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to resolve organization permissions: %w", err)
	}

	if r.cache != nil {
		r.cache.Set(ctx, organizationID, userID, permissions)
	}
	r.recordResolution("organization")

	return permissions, nil
}

// EffectivePermissions returns the full permission set for a user in
// the context of an organization: the global source's permissions
// unioned with the organization-scoped ones. The result is
// deduplicated (case-sensitive) and sorted.
func (r *Resolver) EffectivePermissions(ctx context.Context, organizationID, userID string) ([]string, error) {
	ctx, span := r.tracer.Start(ctx, "rbac.EffectivePermissions")
	defer span.End()

	orgPerms, err := r.OrganizationPermissions(ctx, organizationID, userID)
	if err != nil {
		return nil, err
	}

	var globalPerms []string
	if r.global != nil {
		globalPerms, err = r.global.EffectivePermissions(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve global permissions: %w", err)
		}
	}

	r.recordResolution("effective")
	return unionSorted(globalPerms, orgPerms), nil
}

// ActiveOrganizationPermissions returns the organization-scoped
// permissions only when the caller's active organization matches the
// target organization; otherwise the contribution is the empty set.
// The active organization is an explicit argument rather than ambient
// request state.
func (r *Resolver) ActiveOrganizationPermissions(ctx context.Context, organizationID, userID, activeOrganizationID string) ([]string, error) {
	if activeOrganizationID != organizationID {
		r.recordResolution("inactive_org")
		return []string{}, nil
	}
	return r.OrganizationPermissions(ctx, organizationID, userID)
}

// Invalidate drops any cached permission set for (organization, user).
// Call after membership role mutations.
func (r *Resolver) Invalidate(ctx context.Context, organizationID, userID string) {
	if r.cache != nil {
		r.cache.Invalidate(ctx, organizationID, userID)
	}
}

// InvalidateOrganization drops every cached set for an organization.
// Call after role or role-permission mutations.
func (r *Resolver) InvalidateOrganization(ctx context.Context, organizationID string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.InvalidateOrganization(ctx, organizationID)
}

func (r *Resolver) recordResolution(kind string) {
	if r.metrics != nil {
		r.metrics.PermissionResolutions.WithLabelValues(kind).Inc()
	}
}

// unionSorted merges permission slices into a sorted, deduplicated set.
func unionSorted(sets ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, set := range sets {
		for _, p := range set {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
