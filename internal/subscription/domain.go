// internal/subscription/domain.go
package subscription

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/apperr"
)

// Tier is a subscription level. It fixes how many books a user may hold.
type Tier string

const (
	Basic   Tier = "Basic"
	Premium Tier = "Premium"
	VIP     Tier = "VIP"
)

// Tiers lists every tier in ascending order.
var Tiers = []Tier{Basic, Premium, VIP}

// ParseTier accepts exactly the tier names.
func ParseTier(s string) (Tier, error) {
	for _, t := range Tiers {
		if string(t) == s {
			return t, nil
		}
	}
	return "", ErrInvalidTier
}

func (t Tier) Valid() bool {
	_, err := ParseTier(string(t))
	return err == nil
}

// MaxBooksFor is the borrowing quota of a tier. It is the only place the
// mapping lives.
func MaxBooksFor(t Tier) int {
	switch t {
	case Basic:
		return 2
	case Premium:
		return 5
	case VIP:
		return 10
	default:
		return 0
	}
}

// PenaltyRateFor is the per-day overdue rate, in BDT, used by reminders.
func PenaltyRateFor(t Tier) int {
	switch t {
	case Basic:
		return 2
	case Premium:
		return 5
	case VIP:
		return 10
	default:
		return 0
	}
}

// Subscription is a user's borrowing plan. MaxBooks always equals
// MaxBooksFor(Tier).
type Subscription struct {
	ID       uuid.UUID `json:"id" db:"id"`
	UserID   uuid.UUID `json:"user_id" db:"user_id"`
	Tier     Tier      `json:"tier" db:"tier"`
	MaxBooks int       `json:"max_books" db:"max_books"`
	StartsAt time.Time `json:"starts_at" db:"starts_at"`
	EndsAt   time.Time `json:"ends_at" db:"ends_at"`
	IsActive bool      `json:"is_active" db:"is_active"`
}

var (
	ErrNotFound     = apperr.NotFound("Subscription not found.")
	ErrExists       = apperr.Policy("You already have a subscription.")
	ErrSameTier     = apperr.Policy("You are already using the selected subscription type.")
	ErrOpenLoans    = apperr.Policy("This subscription cannot be deleted while books are on loan.")
	ErrInvalidTier  = apperr.Invalid(map[string]string{"subscription_type": "Invalid subscription type."})
	ErrEndNotAfter  = apperr.Invalid(map[string]string{"expire-date": "The end date must be after the start date."})
	ErrStartNotPrev = apperr.Invalid(map[string]string{"start-date": "The start date must be before the end date."})
)

func errDowngradeBlocked(booksToReturn int, tier Tier) error {
	return apperr.Policy(fmt.Sprintf("You need to return %d book(s) to downgrade to the %s plan.", booksToReturn, tier))
}
