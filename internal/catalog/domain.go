// internal/catalog/domain.go
package catalog

import (
	"time"

	"github.com/google/uuid"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/apperr"
)

// Book is one title in the catalog. AvailableCopies never leaves
// [0, TotalCopies].
type Book struct {
	ID              uuid.UUID `json:"id" db:"id"`
	Title           string    `json:"title" db:"title"`
	Author          string    `json:"author" db:"author"`
	Description     string    `json:"description" db:"description"`
	ImagePath       string    `json:"image_path,omitempty" db:"image_path"`
	TotalCopies     int       `json:"total_copies" db:"total_copies"`
	AvailableCopies int       `json:"available_copies" db:"available_copies"`
	IsAvailable     bool      `json:"is_available" db:"is_available"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// OnLoan is the number of copies currently out.
func (b *Book) OnLoan() int {
	return b.TotalCopies - b.AvailableCopies
}

// Borrowable reports whether a copy can be handed out right now.
func (b *Book) Borrowable() bool {
	return b.IsAvailable && b.AvailableCopies > 0
}

// BookInput is the admin form for creating or editing a book.
type BookInput struct {
	Title       string `form:"title" validate:"required,max=255"`
	Author      string `form:"author" validate:"required,max=255"`
	Description string `form:"description" validate:"max=5000"`
	TotalCopies int    `form:"total_copies" validate:"gte=0,lte=100000"`
	IsAvailable bool   `form:"is_available"`
}

var (
	ErrBookNotFound = apperr.NotFound("Book not found.")
	ErrNoCopies     = apperr.Policy("No copies of the book are available to borrow.")
	ErrUnavailable  = apperr.Policy("This book is not available for borrowing.")
	ErrBookOnLoan   = apperr.Policy("This book cannot be deleted while copies are on loan.")
	ErrCopiesFull   = apperr.New(apperr.KindInternal, "every copy of this book is already on the shelf")
)

func errTooFewCopies() error {
	return apperr.Invalid(map[string]string{
		"total_copies": "Total copies cannot be fewer than the copies currently on loan.",
	})
}
