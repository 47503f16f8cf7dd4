// internal/subscription/service.go
package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service defines the interface for the subscription service.
type Service interface {
	Get(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	Create(ctx context.Context, userID uuid.UUID, tier Tier) (*Subscription, error)
	// ChangeTier moves the user to another tier. Moving to a tier whose quota
	// does not exceed the books currently held, or to the current tier, is
	// refused with a notification and no change.
	ChangeTier(ctx context.Context, userID uuid.UUID, tier Tier) (*Subscription, error)
	// Renew extends the end date by one term.
	Renew(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	SetStart(ctx context.Context, id uuid.UUID, start time.Time) error
	SetEnd(ctx context.Context, id uuid.UUID, end time.Time) error
	Delete(ctx context.Context, userID uuid.UUID) error
	Reactivate(ctx context.Context, id uuid.UUID) error
}
