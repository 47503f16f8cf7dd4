// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the catalog service.
type Service interface {
	AddBook(ctx context.Context, in BookInput) (*Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	UpdateBook(ctx context.Context, id uuid.UUID, in BookInput) (*Book, error)
	DeleteBook(ctx context.Context, id uuid.UUID) error
	// Search lists books whose title or author contains query. An empty
	// query lists the whole catalog.
	Search(ctx context.Context, query string) ([]*Book, error)
}
