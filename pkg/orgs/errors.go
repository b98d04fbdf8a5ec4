package orgs

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError indicates a referenced entity does not exist
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return e.Resource + " not found: " + e.ID
}

// InvalidArgumentError indicates malformed or unresolvable input
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

// ConflictError indicates a uniqueness or state conflict
type ConflictError struct {
	Resource string
	Detail   string
}

func (e *ConflictError) Error() string {
	return e.Resource + " conflict: " + e.Detail
}

// InvitationExistsError indicates a pending invitation already exists for the
// (organization, email) pair. Distinct from ConflictError so callers can offer
// "resend" instead of a hard error.
type InvitationExistsError struct {
	OrganizationID string
	Email          string
}

func (e *InvitationExistsError) Error() string {
	return fmt.Sprintf("pending invitation already exists for %s in organization %s", e.Email, e.OrganizationID)
}

// ForbiddenError indicates a scope-resolver denial
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return "forbidden: " + e.Reason
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsInvalidArgument checks if an error is an invalid argument error
func IsInvalidArgument(err error) bool {
	var e *InvalidArgumentError
	return errors.As(err, &e)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

// IsInvitationExists checks if an error is an invitation-already-exists error
func IsInvitationExists(err error) bool {
	var e *InvitationExistsError
	return errors.As(err, &e)
}

// IsForbidden checks if an error is a forbidden error
func IsForbidden(err error) bool {
	var e *ForbiddenError
	return errors.As(err, &e)
}

func unresolvableRoles(ids []string) *InvalidArgumentError {
	return &InvalidArgumentError{
		Field:  "role_ids",
		Reason: "unresolvable roles: " + strings.Join(ids, ", "),
	}
}
