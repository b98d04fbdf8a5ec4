package rbac

import (
	"time"
)

// Role represents a named bundle of permissions. A role with a nil
// OrganizationID is a global template visible to every organization;
// an org-scoped role belongs to a single organization.
type Role struct {
	ID             string    `json:"id"`
	OrganizationID *string   `json:"organization_id,omitempty"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	IsSystemRole   bool      `json:"is_system_role"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsTemplate reports whether the role is a global template rather than
// an organization-scoped role.
func (r *Role) IsTemplate() bool {
	return r.OrganizationID == nil
}

// RolePermission represents a single permission grant attached to a
// role. Template rows (nil OrganizationID) apply everywhere the role is
// assigned; org-scoped rows are additive overrides for that
// organization only. Grants are never subtractive.
type RolePermission struct {
	RoleID         string    `json:"role_id"`
	OrganizationID *string   `json:"organization_id,omitempty"`
	Permission     string    `json:"permission"`
	CreatedAt      time.Time `json:"created_at"`
}

// Permissions are open strings in "resource:action" form. The catalog
// below covers the engine's own surface; callers may grant any string.
const (
	PermOrgRead       = "org:read"
	PermOrgUpdate     = "org:update"
	PermOrgArchive    = "org:archive"
	PermMembersRead   = "members:read"
	PermMembersManage = "members:manage"
	PermInvitesRead   = "invites:read"
	PermInvitesCreate = "invites:create"
	PermInvitesRevoke = "invites:revoke"
	PermRolesRead     = "roles:read"
	PermRolesManage   = "roles:manage"
)

// Default template role names
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleViewer = "viewer"
)

// RoleDefinition describes a role and its permission set, used for
// seeding the default templates.
type RoleDefinition struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	System      bool     `json:"system" yaml:"system"`
	Permissions []string `json:"permissions" yaml:"permissions"`
}

// DefaultRoleDefinitions returns the built-in template roles seeded
// into every fresh deployment.
func DefaultRoleDefinitions() []RoleDefinition {
	return []RoleDefinition{
		{
			Name:        RoleAdmin,
			Description: "Full access to organization settings, members and roles",
			System:      true,
			Permissions: []string{
				PermOrgRead,
				PermOrgUpdate,
				PermOrgArchive,
				PermMembersRead,
				PermMembersManage,
				PermInvitesRead,
				PermInvitesCreate,
				PermInvitesRevoke,
				PermRolesRead,
				PermRolesManage,
			},
		},
		{
			Name:        RoleMember,
			Description: "Standard member access",
			System:      true,
			Permissions: []string{
				PermOrgRead,
				PermMembersRead,
				PermInvitesRead,
				PermRolesRead,
			},
		},
		{
			Name:        RoleViewer,
			Description: "Read-only access",
			System:      true,
			Permissions: []string{
				PermOrgRead,
				PermMembersRead,
			},
		},
	}
}
