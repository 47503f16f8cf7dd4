package notification

import (
	"time"

	"github.com/google/uuid"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/apperr"
)

// Notification is one in-app message for a user.
type Notification struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Message   string    `json:"message" db:"message"`
	IsRead    bool      `json:"is_read" db:"is_read"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

var (
	ErrNotFound     = apperr.NotFound("Notification not found.")
	ErrForbidden    = apperr.Forbidden("You do not have permission to change this notification.")
	ErrEmptyMessage = apperr.Invalid(map[string]string{"message": "This field is required."})
	ErrNoRecipient  = apperr.NotFound("User not found.")
)

// StampLayout renders instants the way every user-facing message shows them,
// e.g. "Mar. 05, 2024, 02:30 PM".
const StampLayout = "Jan. 02, 2006, 03:04 PM"

// Stamp formats t in loc with StampLayout.
func Stamp(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(StampLayout)
}
