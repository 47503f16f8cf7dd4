// internal/membership/domain.go
package membership

import (
	"time"

	"github.com/google/uuid"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/apperr"
)

// User is an account holder. Admins manage the catalog and other users.
type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	FirstName    string    `json:"first_name" db:"first_name"`
	LastName     string    `json:"last_name" db:"last_name"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Salt         string    `json:"-" db:"salt"`
	IsAdmin      bool      `json:"is_admin" db:"is_admin"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Registration is the sign-up form.
type Registration struct {
	Username  string `form:"username" validate:"required,alphanum,min=3,max=150"`
	Email     string `form:"email" validate:"required,email,max=254"`
	FirstName string `form:"first_name" validate:"max=150"`
	LastName  string `form:"last_name" validate:"max=150"`
	Password1 string `form:"password1" validate:"required,min=8"`
	Password2 string `form:"password2" validate:"required,eqfield=Password1"`
}

// Profile is the admin edit form for a user.
type Profile struct {
	Username string `form:"username" validate:"required,alphanum,min=3,max=150"`
	Email    string `form:"email" validate:"required,email,max=254"`
}

// Standing is what the login gate needs to know about a user's account.
type Standing struct {
	HasSubscription bool
	Active          bool
	// Incidents counts damage/loss reports that have not been archived.
	Incidents int
}

// LoginResult is a successful login and where to send the user next.
type LoginResult struct {
	User        *User
	Destination string
}

const (
	DestinationCatalog   = "/books"
	DestinationSubscribe = "/subscription"
)

var (
	ErrUserNotFound       = apperr.NotFound("User not found.")
	ErrInvalidCredentials = apperr.Invalid(map[string]string{"form": "Invalid credentials"})
	ErrSuspended          = apperr.Policy("Your account has been suspended. Please contact the Admin.")
	ErrRateLimited        = apperr.Policy("Too many attempts. Please wait a minute and try again.")
	ErrUsernameTaken      = apperr.Invalid(map[string]string{"username": "A user with that username already exists."})
)
