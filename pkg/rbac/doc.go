// Package rbac implements role storage and permission resolution for
// gatehouse organizations.
//
// # Model
//
// A Role is a named bundle of permission strings. Roles come in two
// flavors distinguished by OrganizationID:
//
//   - Templates (nil OrganizationID) are global. Every organization can
//     assign them, and the default set (admin, member, viewer) is
//     seeded once at install time.
//   - Org-scoped roles belong to a single organization.
//
// Permission grants live in role_permissions rows, also scoped by a
// nullable organization id. Template rows apply wherever the role is
// assigned; rows scoped to an organization are additive overrides for
// that organization only. Grants are never subtractive: resolving a
// permission set is always a union, so adding a row can only widen
// what a user may do.
//
// Permissions themselves are open strings in "resource:action" form.
// The store does not validate them against a catalog; the constants in
// this package cover the engine's own surface.
//
// # Resolution
//
// The Resolver computes permission sets from membership role
// assignments (pkg/orgs writes those rows):
//
//	resolver := rbac.NewResolver(db, globalSource, cache, metrics)
//
//	// Org-scoped only: union over the user's roles in this org.
//	perms, err := resolver.OrganizationPermissions(ctx, orgID, userID)
//
//	// Global source unioned with the org-scoped set.
//	perms, err = resolver.EffectivePermissions(ctx, orgID, userID)
//
// ActiveOrganizationPermissions additionally gates on the caller's
// active organization: the org-scoped contribution is empty unless the
// active organization matches the target. The active organization is
// an explicit argument, not ambient state, so callers cannot pick up a
// stale selection by accident.
//
// A user with no membership in the organization resolves to an empty
// set rather than an error; absence of access is a result, not a
// failure.
//
// # Caching
//
// PermissionCache is optional. With a redis client it is shared across
// instances with a local LRU in front; without one the LRU serves
// alone. Entries are TTL-bounded. A Store constructed with the cache
// invalidates the affected organization when a role or its grants
// change (every organization when a template changes), and the orgs
// engine invalidates the (organization, user) pair on membership role
// mutation through its PermissionInvalidator hook. Wire both to the
// same cache the Resolver reads; flushes are best effort, so a stale
// grant can outlive its revocation by at most the TTL.
package rbac
