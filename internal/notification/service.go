package notification

import (
	"context"

	"github.com/google/uuid"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store"
)

// Notifier appends a notification through q so it commits with the caller's
// transaction.
type Notifier interface {
	Notify(ctx context.Context, q store.Querier, userID uuid.UUID, message string) error
}

// Service defines the interface for the notification service.
type Service interface {
	Notifier
	List(ctx context.Context, userID uuid.UUID) ([]*Notification, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) error
	Delete(ctx context.Context, userID, id uuid.UUID) error
	// Broadcast notifies one user, or every non-admin user when userID is nil.
	Broadcast(ctx context.Context, userID *uuid.UUID, message string) (int, error)
}
