// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//   import "github.com/platinummonkey/gatehouse/pkg/contextkeys"
//   ctx = contextkeys.WithUserID(ctx, userID)
//   userID, ok := contextkeys.UserID(ctx)
package contextkeys

import (
	"context"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// UserIDKey contains the authenticated user's ID string
	// Set by: host authentication middleware
	// Used by: scope gate, invitation engine, audit trail
	// Type: string
	UserIDKey Key = "user_id"

	// OrgIDKey contains the target organization ID string
	// Set by: middleware.OrgScope (pkg/middleware/org.go)
	// Used by: org-scoped handlers
	// Type: string
	OrgIDKey Key = "org_id"

	// ActiveOrgIDKey contains the session's active organization ID string
	// Set by: host session layer ("set active organization" operation)
	// Used by: rbac.Resolver.ActiveOrganizationPermissions callers
	// Type: string
	ActiveOrgIDKey Key = "active_org_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: HTTP middleware
	// Used by: Logger, audit trail
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: observability middleware
	// Used by: handlers that need request-scoped structured logging
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithUserID adds the authenticated user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// UserID retrieves the authenticated user ID from the context
func UserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(UserIDKey).(string)
	return v, ok
}

// WithOrgID adds the target organization ID to the context
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, OrgIDKey, orgID)
}

// OrgID retrieves the target organization ID from the context
func OrgID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(OrgIDKey).(string)
	return v, ok
}

// WithActiveOrgID adds the session's active organization ID to the context
func WithActiveOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, ActiveOrgIDKey, orgID)
}

// ActiveOrgID retrieves the session's active organization ID from the context
func ActiveOrgID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ActiveOrgIDKey).(string)
	return v, ok
}

// WithRequestID adds the request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestID retrieves the request ID from the context
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(RequestIDKey).(string)
	return v, ok
}

// WithLogger adds a request-scoped logger to the context
func WithLogger(ctx context.Context, logger *observability.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// Logger retrieves the request-scoped logger from the context
func Logger(ctx context.Context) (*observability.Logger, bool) {
	v, ok := ctx.Value(LoggerKey).(*observability.Logger)
	return v, ok
}
