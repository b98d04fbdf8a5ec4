package orgs

import (
	"strings"
	"time"
)

// OrgStatus represents organization lifecycle status
type OrgStatus string

const (
	OrgStatusActive   OrgStatus = "active"
	OrgStatusArchived OrgStatus = "archived"
)

// Organization represents a tenant-scoped grouping of users
type Organization struct {
	ID          string            `json:"id"`
	TenantID    *string           `json:"tenant_id,omitempty"`
	Slug        string            `json:"slug"`
	DisplayName string            `json:"display_name"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Status      OrgStatus         `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	ArchivedAt  *time.Time        `json:"archived_at,omitempty"`
}

// Membership binds a user to an organization with a set of role assignments.
// Unique per (organization, user).
type Membership struct {
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	TenantID       *string   `json:"tenant_id,omitempty"`
	IsPrimary      bool      `json:"is_primary"`
	RoleIDs        []string  `json:"role_ids"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// HasRole reports whether the membership carries the given role assignment
func (m *Membership) HasRole(roleID string) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// Invitation is a time-bounded, single-use code granting membership with the
// specified roles to whoever redeems it with a matching email.
//
// Lifecycle state is derived, never stored: a present row with a future
// expires_at is Pending, a present row past expires_at is Expired, and a
// deleted row was either Accepted or Revoked (indistinguishable to the store;
// the audit log records which path was taken).
type Invitation struct {
	Code             string    `json:"code"`
	OrganizationID   string    `json:"organization_id"`
	OrganizationName string    `json:"organization_name"`
	OrganizationSlug string    `json:"organization_slug"`
	Email            string    `json:"email"`
	RoleIDs          []string  `json:"role_ids"`
	CreatedBy        *string   `json:"created_by,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// Expired reports whether the invitation has passed its expiry instant
func (i *Invitation) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// Usable reports whether the invitation can still be accepted
func (i *Invitation) Usable(now time.Time) bool {
	return !i.Expired(now)
}

// AcceptanceResult describes the outcome of a successful invitation acceptance
type AcceptanceResult struct {
	OrganizationID   string   `json:"organization_id"`
	OrganizationSlug string   `json:"organization_slug"`
	OrganizationName string   `json:"organization_name"`
	RoleIDs          []string `json:"role_ids"`
	// WasExistingMember is true when the accepting user already had a
	// membership in the organization and the role sets were merged.
	WasExistingMember bool `json:"was_existing_member"`
	// WasExistingUser is true when the accepting user's account predates the
	// invitation.
	WasExistingUser bool `json:"was_existing_user"`
}

// CreateInvitationRequest carries the inputs to CreateInvitation
type CreateInvitationRequest struct {
	Email     string   `json:"email"`
	RoleIDs   []string `json:"role_ids"`
	CreatedBy *string  `json:"created_by,omitempty"`
	// ExpiresInHours overrides the default invitation TTL when positive.
	ExpiresInHours int `json:"expires_in_hours,omitempty"`
}

// CreateOrgRequest carries the inputs to CreateOrganization
type CreateOrgRequest struct {
	TenantID    *string           `json:"tenant_id,omitempty"`
	Slug        string            `json:"slug"`
	DisplayName string            `json:"display_name"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NormalizeEmail canonicalizes an email for case-insensitive comparison
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
