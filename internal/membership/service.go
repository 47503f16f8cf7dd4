// internal/membership/service.go
package membership

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the membership service.
type Service interface {
	Register(ctx context.Context, reg Registration) (*User, error)
	// Authenticate checks credentials and the account's standing. A user
	// whose subscription was suspended for repeated incidents cannot log in.
	Authenticate(ctx context.Context, username, password string) (*LoginResult, error)
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	// ListMembers returns every non-admin user.
	ListMembers(ctx context.Context) ([]*User, error)
	UpdateUser(ctx context.Context, id uuid.UUID, p Profile) (*User, error)
	DeleteUser(ctx context.Context, id uuid.UUID) error
	// EnsureAdmin creates an admin, or promotes and resets an existing user.
	EnsureAdmin(ctx context.Context, username, email, password string) (*User, error)
}

// StandingSource reports a user's subscription standing.
type StandingSource interface {
	Standing(ctx context.Context, userID uuid.UUID) (Standing, error)
}
