// internal/subscription/implementation.go
package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/mail"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/membership"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/notification"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/policy"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store"
)

const subscriptionColumns = `id, user_id, tier, max_books, starts_at, ends_at, is_active`

// service implements the Service interface.
type service struct {
	db       *store.DB
	notifier notification.Notifier
	outbox   *mail.Outbox
	loc      *time.Location
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures the service.
type Option func(*service)

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// NewService creates a new subscription service instance. Dates in messages
// are shown in loc.
func NewService(db *store.DB, notifier notification.Notifier, outbox *mail.Outbox, loc *time.Location, opts ...Option) Service {
	if loc == nil {
		loc = time.UTC
	}
	s := &service{
		db:       db,
		notifier: notifier,
		outbox:   outbox,
		loc:      loc,
		tracer:   otel.Tracer("boipoka/subscription"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetByUser loads the user's subscription through q.
func GetByUser(ctx context.Context, q store.Querier, userID uuid.UUID) (*Subscription, error) {
	return get(ctx, q, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = ?`, userID)
}

// LockByUser loads the user's subscription and locks it for the rest of tx.
func LockByUser(ctx context.Context, tx *store.Tx, userID uuid.UUID) (*Subscription, error) {
	return get(ctx, tx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = ?`+tx.ForUpdate(), userID)
}

func get(ctx context.Context, q store.Querier, query string, arg any) (*Subscription, error) {
	sub := &Subscription{}
	err := store.Get(ctx, q, sub, query, arg)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// SetActive writes the active flag.
func SetActive(ctx context.Context, q store.Querier, id uuid.UUID, active bool) error {
	if _, err := store.Exec(ctx, q, `UPDATE subscriptions SET is_active = ? WHERE id = ?`, active, id); err != nil {
		return fmt.Errorf("set subscription active: %w", err)
	}
	return nil
}

// OpenLoanCount is the number of books the user holds and has not returned.
func OpenLoanCount(ctx context.Context, q store.Querier, userID uuid.UUID) (int, error) {
	var n int
	err := store.Get(ctx, q, &n, `
		SELECT COUNT(*) FROM borrowings WHERE user_id = ? AND returned_at IS NULL
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("count open loans: %w", err)
	}
	return n, nil
}

func (s *service) Get(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return GetByUser(ctx, s.db, userID)
}

// Create starts a fresh term on tier.
func (s *service) Create(ctx context.Context, userID uuid.UUID, tier Tier) (*Subscription, error) {
	if !tier.Valid() {
		return nil, ErrInvalidTier
	}
	ctx, span := s.tracer.Start(ctx, "subscription.create",
		trace.WithAttributes(
			attribute.String("user.id", userID.String()),
			attribute.String("subscription.tier", string(tier)),
		),
	)
	defer span.End()

	start := s.now().UTC()
	sub := &Subscription{
		ID:       uuid.New(),
		UserID:   userID,
		Tier:     tier,
		MaxBooks: MaxBooksFor(tier),
		StartsAt: start,
		EndsAt:   start.Add(policy.SubscriptionPeriod),
		IsActive: true,
	}
	err := s.db.InTx(ctx, "subscription.create", func(ctx context.Context, tx *store.Tx) error {
		if _, err := membership.Lookup(ctx, tx, userID); err != nil {
			return err
		}
		_, err := store.Exec(ctx, tx, `
			INSERT INTO subscriptions (`+subscriptionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, sub.ID, sub.UserID, string(sub.Tier), sub.MaxBooks, sub.StartsAt, sub.EndsAt, sub.IsActive)
		if store.IsUniqueViolation(err) {
			return ErrExists
		}
		if err != nil {
			return fmt.Errorf("insert subscription: %w", err)
		}
		return s.notifier.Notify(ctx, tx, userID, fmt.Sprintf(
			"Your subscription of %s plan has been created successfully.\nIt will end on %s.",
			tier, notification.Stamp(sub.EndsAt, s.loc),
		))
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *service) ChangeTier(ctx context.Context, userID uuid.UUID, tier Tier) (*Subscription, error) {
	if !tier.Valid() {
		return nil, ErrInvalidTier
	}
	ctx, span := s.tracer.Start(ctx, "subscription.change_tier",
		trace.WithAttributes(
			attribute.String("user.id", userID.String()),
			attribute.String("subscription.tier", string(tier)),
		),
	)
	defer span.End()

	var sub *Subscription
	var refused error
	err := s.db.InTx(ctx, "subscription.change_tier", func(ctx context.Context, tx *store.Tx) error {
		var err error
		if sub, err = LockByUser(ctx, tx, userID); err != nil {
			return err
		}
		borrowed, err := OpenLoanCount(ctx, tx, userID)
		if err != nil {
			return err
		}

		newMax := MaxBooksFor(tier)
		if n := policy.BooksToReturn(borrowed, newMax); n > 0 {
			refused = errDowngradeBlocked(n, tier)
			return s.notifier.Notify(ctx, tx, userID, fmt.Sprintf(
				"You cannot downgrade your subscription from %s to %s until you return at least %d books.",
				sub.Tier, tier, n,
			))
		}
		if tier == sub.Tier {
			refused = ErrSameTier
			return s.notifier.Notify(ctx, tx, userID, "You are already using the selected subscription type.")
		}

		direction := "upgraded"
		if newMax < sub.MaxBooks {
			direction = "downgraded"
		}
		if _, err := store.Exec(ctx, tx, `
			UPDATE subscriptions SET tier = ?, max_books = ? WHERE id = ?
		`, string(tier), newMax, sub.ID); err != nil {
			return fmt.Errorf("update tier: %w", err)
		}
		old := sub.Tier
		sub.Tier, sub.MaxBooks = tier, newMax
		return s.notifier.Notify(ctx, tx, userID, fmt.Sprintf(
			"Your subscription has been %s from %s to %s successfully.", direction, old, tier,
		))
	})
	if err != nil {
		return nil, err
	}
	if refused != nil {
		span.AddEvent("subscription.change_refused")
		return nil, refused
	}
	return sub, nil
}

func (s *service) Renew(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	ctx, span := s.tracer.Start(ctx, "subscription.renew",
		trace.WithAttributes(attribute.String("user.id", userID.String())),
	)
	defer span.End()

	var sub *Subscription
	err := s.db.InTx(ctx, "subscription.renew", func(ctx context.Context, tx *store.Tx) error {
		var err error
		if sub, err = LockByUser(ctx, tx, userID); err != nil {
			return err
		}
		sub.EndsAt = sub.EndsAt.Add(policy.SubscriptionPeriod).UTC()
		if _, err := store.Exec(ctx, tx, `UPDATE subscriptions SET ends_at = ? WHERE id = ?`, sub.EndsAt, sub.ID); err != nil {
			return fmt.Errorf("renew subscription: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *service) byID(ctx context.Context, tx *store.Tx, id uuid.UUID) (*Subscription, error) {
	return get(ctx, tx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`+tx.ForUpdate(), id)
}

func (s *service) SetStart(ctx context.Context, id uuid.UUID, start time.Time) error {
	return s.db.InTx(ctx, "subscription.set_start", func(ctx context.Context, tx *store.Tx) error {
		sub, err := s.byID(ctx, tx, id)
		if err != nil {
			return err
		}
		if !start.Before(sub.EndsAt) {
			return ErrStartNotPrev
		}
		_, err = store.Exec(ctx, tx, `UPDATE subscriptions SET starts_at = ? WHERE id = ?`, start.UTC(), id)
		return err
	})
}

func (s *service) SetEnd(ctx context.Context, id uuid.UUID, end time.Time) error {
	return s.db.InTx(ctx, "subscription.set_end", func(ctx context.Context, tx *store.Tx) error {
		sub, err := s.byID(ctx, tx, id)
		if err != nil {
			return err
		}
		if !end.After(sub.StartsAt) {
			return ErrEndNotAfter
		}
		_, err = store.Exec(ctx, tx, `UPDATE subscriptions SET ends_at = ? WHERE id = ?`, end.UTC(), id)
		return err
	})
}

// Delete removes the user's subscription. It is refused while the user
// still holds books, since those loans are charged against it.
func (s *service) Delete(ctx context.Context, userID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "subscription.delete",
		trace.WithAttributes(attribute.String("user.id", userID.String())),
	)
	defer span.End()

	return s.db.InTx(ctx, "subscription.delete", func(ctx context.Context, tx *store.Tx) error {
		sub, err := LockByUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		open, err := OpenLoanCount(ctx, tx, userID)
		if err != nil {
			return err
		}
		if open > 0 {
			return ErrOpenLoans
		}
		_, err = store.Exec(ctx, tx, `DELETE FROM subscriptions WHERE id = ?`, sub.ID)
		return err
	})
}

// Reactivate lifts a suspension, then tells the user by email and notification.
func (s *service) Reactivate(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "subscription.reactivate",
		trace.WithAttributes(attribute.String("subscription.id", id.String())),
	)
	defer span.End()

	return s.db.InTx(ctx, "subscription.reactivate", func(ctx context.Context, tx *store.Tx) error {
		sub, err := s.byID(ctx, tx, id)
		if err != nil {
			return err
		}
		user, err := membership.Lookup(ctx, tx, sub.UserID)
		if err != nil {
			return err
		}
		if err := SetActive(ctx, tx, sub.ID, true); err != nil {
			return err
		}
		if err := s.outbox.Enqueue(ctx, tx, mail.Reactivated(user.Email, user.Username, string(sub.Tier))); err != nil {
			return err
		}
		return s.notifier.Notify(ctx, tx, sub.UserID, fmt.Sprintf(
			"Your subscription of %s plan has been successfully reactivated by Admin.", sub.Tier,
		))
	})
}
