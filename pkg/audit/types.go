package audit

import (
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Invitation lifecycle events
	EventTypeInviteCreated  EventType = "invitation.created"
	EventTypeInviteAccepted EventType = "invitation.accepted"
	EventTypeInviteRevoked  EventType = "invitation.revoked"

	// Membership events
	EventTypeMemberAdded       EventType = "membership.created"
	EventTypeMemberRolesMerged EventType = "membership.roles_merged"
	EventTypeMemberRemoved     EventType = "membership.removed"

	// Authorization events
	EventTypeScopeDenied     EventType = "authz.scope_denied"
	EventTypeRoleCreated     EventType = "authz.role_created"
	EventTypeRoleDeleted     EventType = "authz.role_deleted"
	EventTypePermissionsSet  EventType = "authz.permissions_set"
)

// Event represents a single audit log entry
type Event struct {
	ID             string            `json:"id,omitempty"`
	Type           EventType         `json:"type"`
	OrganizationID string            `json:"organization_id,omitempty"`
	ActorID        *string           `json:"actor_id,omitempty"`
	Email          string            `json:"email,omitempty"`
	Code           string            `json:"code,omitempty"`
	Detail         map[string]string `json:"detail,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}
