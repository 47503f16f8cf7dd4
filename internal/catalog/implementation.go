// internal/catalog/implementation.go
package catalog

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

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/platform/validate"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store"
)

const bookColumns = `id, title, author, description, image_path, total_copies, available_copies, is_available, created_at, updated_at`

// service implements the Service interface.
type service struct {
	db     *store.DB
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures the service.
type Option func(*service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// NewService creates a new catalog service instance.
func NewService(db *store.DB, opts ...Option) Service {
	s := &service{
		db:     db,
		tracer: otel.Tracer("boipoka/catalog"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddBook creates a new book with every copy on the shelf.
func (s *service) AddBook(ctx context.Context, in BookInput) (*Book, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "catalog.add_book")
	defer span.End()

	now := s.now().UTC()
	book := &Book{
		ID:              uuid.New(),
		Title:           in.Title,
		Author:          in.Author,
		Description:     in.Description,
		TotalCopies:     in.TotalCopies,
		AvailableCopies: in.TotalCopies,
		IsAvailable:     in.IsAvailable,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := insert(ctx, s.db, book); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("book.id", book.ID.String()))
	return book, nil
}

func insert(ctx context.Context, q store.Querier, b *Book) error {
	_, err := store.Exec(ctx, q, `
		INSERT INTO books (`+bookColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.Title, b.Author, b.Description, b.ImagePath, b.TotalCopies, b.AvailableCopies, b.IsAvailable, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

// GetBook retrieves a book by its ID.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	return Get(ctx, s.db, id)
}

// UpdateBook edits a book. Changing the total moves the shelf count by the
// same amount, so copies on loan stay accounted for.
func (s *service) UpdateBook(ctx context.Context, id uuid.UUID, in BookInput) (*Book, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "catalog.update_book",
		trace.WithAttributes(attribute.String("book.id", id.String())),
	)
	defer span.End()

	var book *Book
	err := s.db.InTx(ctx, "catalog.update_book", func(ctx context.Context, tx *store.Tx) error {
		var err error
		book, err = getForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		onLoan := book.OnLoan()
		if in.TotalCopies < onLoan {
			return errTooFewCopies()
		}

		book.Title = in.Title
		book.Author = in.Author
		book.Description = in.Description
		book.TotalCopies = in.TotalCopies
		book.AvailableCopies = in.TotalCopies - onLoan
		book.IsAvailable = in.IsAvailable
		book.UpdatedAt = s.now().UTC()

		_, err = store.Exec(ctx, tx, `
			UPDATE books
			SET title = ?, author = ?, description = ?, total_copies = ?, available_copies = ?, is_available = ?, updated_at = ?
			WHERE id = ?
		`, book.Title, book.Author, book.Description, book.TotalCopies, book.AvailableCopies, book.IsAvailable, book.UpdatedAt, id)
		if err != nil {
			return fmt.Errorf("update book: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}

// DeleteBook removes a book that has no open loans.
func (s *service) DeleteBook(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "catalog.delete_book",
		trace.WithAttributes(attribute.String("book.id", id.String())),
	)
	defer span.End()

	return s.db.InTx(ctx, "catalog.delete_book", func(ctx context.Context, tx *store.Tx) error {
		if _, err := getForUpdate(ctx, tx, id); err != nil {
			return err
		}
		var open int
		if err := store.Get(ctx, tx, &open, `
			SELECT COUNT(*) FROM borrowings WHERE book_id = ? AND returned_at IS NULL
		`, id); err != nil {
			return fmt.Errorf("count open loans: %w", err)
		}
		if open > 0 {
			return ErrBookOnLoan
		}
		if _, err := store.Exec(ctx, tx, `DELETE FROM books WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete book: %w", err)
		}
		return nil
	})
}

// Search finds books by title or author, case-insensitively.
func (s *service) Search(ctx context.Context, query string) ([]*Book, error) {
	query = strings.TrimSpace(query)
	var books []*Book
	var err error
	if query == "" {
		err = store.Select(ctx, s.db, &books, `SELECT `+bookColumns+` FROM books ORDER BY title`)
	} else {
		pattern := "%" + strings.ToLower(query) + "%"
		err = store.Select(ctx, s.db, &books, `
			SELECT `+bookColumns+`
			FROM books
			WHERE LOWER(title) LIKE ? OR LOWER(author) LIKE ?
			ORDER BY title
		`, pattern, pattern)
	}
	if err != nil {
		return nil, fmt.Errorf("search books: %w", err)
	}
	return books, nil
}

// Get loads a book through q.
func Get(ctx context.Context, q store.Querier, id uuid.UUID) (*Book, error) {
	book := &Book{}
	err := store.Get(ctx, q, book, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	return book, nil
}

func getForUpdate(ctx context.Context, tx *store.Tx, id uuid.UUID) (*Book, error) {
	book := &Book{}
	err := store.Get(ctx, tx, book, `SELECT `+bookColumns+` FROM books WHERE id = ?`+tx.ForUpdate(), id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	return book, nil
}

// TakeCopy hands out one copy. The decrement is conditional on a copy being
// on the shelf, so two borrowers racing for the last copy cannot both win.
func TakeCopy(ctx context.Context, q store.Querier, id uuid.UUID, now time.Time) error {
	n, err := store.Exec(ctx, q, `
		UPDATE books
		SET available_copies = available_copies - 1, updated_at = ?
		WHERE id = ? AND available_copies > 0
	`, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("take copy: %w", err)
	}
	if n == 0 {
		return ErrNoCopies
	}
	return nil
}

// ReturnCopy puts one copy back on the shelf, never above the total.
func ReturnCopy(ctx context.Context, q store.Querier, id uuid.UUID, now time.Time) error {
	n, err := store.Exec(ctx, q, `
		UPDATE books
		SET available_copies = available_copies + 1, updated_at = ?
		WHERE id = ? AND available_copies < total_copies
	`, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("return copy: %w", err)
	}
	if n == 0 {
		return ErrCopiesFull
	}
	return nil
}
