// Package orgs provides multi-tenant organization membership and the
// invitation engine for Gatehouse.
//
// # Overview
//
// This package manages organizations, memberships with role assignment sets,
// and the invitation lifecycle: creation, listing, revocation, expiry, and
// acceptance. Acceptance creates or merges a membership as a side effect.
//
// # Invitation lifecycle
//
// State is derived, never stored:
//
//	Pending:  row present, now < expires_at
//	Expired:  row present, now >= expires_at (filtered at read time)
//	Accepted: row deleted by AcceptInvitation
//	Revoked:  row deleted by RevokeInvitation
//
// Accepted and Revoked are indistinguishable to the store; the audit log
// records which path an invitation took.
//
// # Usage Example
//
// Create an invitation:
//
//	inv, err := service.CreateInvitation(ctx, orgID, &orgs.CreateInvitationRequest{
//		Email:   "new@example.com",
//		RoleIDs: []string{editorRoleID},
//	})
//	if orgs.IsInvitationExists(err) {
//		// offer resend instead of a hard error
//	}
//
// Accept it:
//
//	result, err := service.AcceptInvitation(ctx, inv.Code, user)
//	if result == nil && err == nil {
//		// code unknown or expired; render a neutral 404
//	}
//
// Gate an org-scoped request:
//
//	ok, err := resolver.IsInScope(ctx, userID, orgID)
//
// # Related Packages
//
//   - pkg/rbac: role definitions and permission resolution
//   - pkg/audit: structured audit events for invitation outcomes
package orgs
