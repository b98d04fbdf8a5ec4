package orgs

import (
	"context"
	"time"
)

// UserRef is a minimal reference to an account in the external user directory
type UserRef struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// UserDirectory resolves accounts in the external identity provider.
// Implemented by the host; this engine only consumes it.
type UserDirectory interface {
	// FindByEmail resolves a normalized email to an account, or nil when no
	// account exists for it. Returns an error only for lookup failures.
	FindByEmail(ctx context.Context, email string) (*UserRef, error)

	// AccountCreatedAt returns the creation timestamp of the given account
	AccountCreatedAt(ctx context.Context, userID string) (time.Time, error)
}
