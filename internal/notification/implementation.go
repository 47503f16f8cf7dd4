package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store"
)

// Publisher pushes a committed notification to live clients.
type Publisher interface {
	Publish(n *Notification)
}

// service implements the Service interface.
type service struct {
	db        *store.DB
	publisher Publisher
	tracer    trace.Tracer
	now       func() time.Time
}

// Option configures the service.
type Option func(*service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// NewService creates a new notification service instance. publisher may be nil.
func NewService(db *store.DB, publisher Publisher, opts ...Option) Service {
	s := &service{
		db:        db,
		publisher: publisher,
		tracer:    otel.Tracer("boipoka/notification"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type afterCommitter interface {
	AfterCommit(func())
}

// Notify appends a message to the user's log. When q is a transaction the
// live push waits for the commit.
func (s *service) Notify(ctx context.Context, q store.Querier, userID uuid.UUID, message string) error {
	n := &Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Message:   message,
		CreatedAt: s.now().UTC(),
	}
	_, err := store.Exec(ctx, q, `
		INSERT INTO notifications (id, user_id, message, is_read, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, n.ID, n.UserID, n.Message, false, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	if s.publisher == nil {
		return nil
	}
	if tx, ok := q.(afterCommitter); ok {
		tx.AfterCommit(func() { s.publisher.Publish(n) })
	} else {
		s.publisher.Publish(n)
	}
	return nil
}

// List returns the user's notifications, newest first.
func (s *service) List(ctx context.Context, userID uuid.UUID) ([]*Notification, error) {
	var out []*Notification
	err := store.Select(ctx, s.db, &out, `
		SELECT id, user_id, message, is_read, created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

func (s *service) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := store.Get(ctx, s.db, &n, `
		SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = ?
	`, userID, false)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}

// owned loads a notification and checks that userID may change it.
func (s *service) owned(ctx context.Context, q store.Querier, userID, id uuid.UUID) error {
	var owner uuid.UUID
	err := store.Get(ctx, q, &owner, `SELECT user_id FROM notifications WHERE id = ?`, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load notification: %w", err)
	}
	if owner != userID {
		return ErrForbidden
	}
	return nil
}

func (s *service) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "notification.mark_read",
		trace.WithAttributes(attribute.String("notification.id", id.String())),
	)
	defer span.End()

	return s.db.InTx(ctx, "notification.mark_read", func(ctx context.Context, tx *store.Tx) error {
		if err := s.owned(ctx, tx, userID, id); err != nil {
			return err
		}
		_, err := store.Exec(ctx, tx, `UPDATE notifications SET is_read = ? WHERE id = ?`, true, id)
		return err
	})
}

func (s *service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "notification.delete",
		trace.WithAttributes(attribute.String("notification.id", id.String())),
	)
	defer span.End()

	return s.db.InTx(ctx, "notification.delete", func(ctx context.Context, tx *store.Tx) error {
		if err := s.owned(ctx, tx, userID, id); err != nil {
			return err
		}
		_, err := store.Exec(ctx, tx, `DELETE FROM notifications WHERE id = ?`, id)
		return err
	})
}

func (s *service) Broadcast(ctx context.Context, userID *uuid.UUID, message string) (int, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return 0, ErrEmptyMessage
	}

	ctx, span := s.tracer.Start(ctx, "notification.broadcast")
	defer span.End()

	var recipients []uuid.UUID
	err := s.db.InTx(ctx, "notification.broadcast", func(ctx context.Context, tx *store.Tx) error {
		var err error
		if userID != nil {
			err = store.Select(ctx, tx, &recipients, `SELECT id FROM users WHERE id = ?`, *userID)
			if err == nil && len(recipients) == 0 {
				return ErrNoRecipient
			}
		} else {
			err = store.Select(ctx, tx, &recipients, `SELECT id FROM users WHERE is_admin = ?`, false)
		}
		if err != nil {
			return fmt.Errorf("select recipients: %w", err)
		}
		for _, id := range recipients {
			if err := s.Notify(ctx, tx, id, message); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	span.SetAttributes(attribute.Int("broadcast.recipients", len(recipients)))
	return len(recipients), nil
}
