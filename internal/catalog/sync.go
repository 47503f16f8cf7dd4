// internal/catalog/sync.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store"
)

// RemoteBook is one volume as reported by an external catalog.
type RemoteBook struct {
	Title        string
	Author       string
	Description  string
	ThumbnailURL string
}

// Source is an external book-metadata catalog.
type Source interface {
	Volumes(ctx context.Context, startIndex, maxResults int) ([]RemoteBook, error)
	Cover(ctx context.Context, url string) ([]byte, error)
}

// SyncResult counts what one sync pass did.
type SyncResult struct {
	Fetched     int
	Created     int
	Existing    int
	CoverErrors int
}

// Syncer imports volumes from a Source. Titles already in the catalog are
// left untouched; new titles start with a single copy.
type Syncer struct {
	db       *store.DB
	source   Source
	mediaDir string
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

const coverDir = "book_images"

func NewSyncer(db *store.DB, source Source, mediaDir string, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		db:       db,
		source:   source,
		mediaDir: mediaDir,
		logger:   logger,
		tracer:   otel.Tracer("boipoka/catalog"),
		now:      time.Now,
	}
}

// Sync imports one page of volumes.
func (s *Syncer) Sync(ctx context.Context, startIndex, maxResults int) (SyncResult, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.sync",
		trace.WithAttributes(
			attribute.Int("sync.start_index", startIndex),
			attribute.Int("sync.max_results", maxResults),
		),
	)
	defer span.End()

	var res SyncResult
	volumes, err := s.source.Volumes(ctx, startIndex, maxResults)
	if err != nil {
		span.RecordError(err)
		return res, fmt.Errorf("fetch volumes: %w", err)
	}
	res.Fetched = len(volumes)

	for _, v := range volumes {
		title := strings.TrimSpace(v.Title)
		if title == "" {
			continue
		}
		created, coverErr, err := s.getOrCreate(ctx, v, title)
		if err != nil {
			return res, err
		}
		if coverErr {
			res.CoverErrors++
		}
		if created {
			res.Created++
		} else {
			res.Existing++
		}
	}

	span.SetAttributes(attribute.Int("sync.created", res.Created))
	s.logger.InfoContext(ctx, "catalog sync finished",
		"fetched", res.Fetched,
		"created", res.Created,
		"existing", res.Existing,
		"cover_errors", res.CoverErrors,
	)
	return res, nil
}

func (s *Syncer) getOrCreate(ctx context.Context, v RemoteBook, title string) (created, coverErr bool, err error) {
	var existing uuid.UUID
	err = store.Get(ctx, s.db, &existing, `SELECT id FROM books WHERE title = ? LIMIT 1`, title)
	if err == nil {
		return false, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, false, fmt.Errorf("look up %q: %w", title, err)
	}

	now := s.now().UTC()
	book := &Book{
		ID:              uuid.New(),
		Title:           title,
		Author:          v.Author,
		Description:     v.Description,
		TotalCopies:     1,
		AvailableCopies: 1,
		IsAvailable:     true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if v.ThumbnailURL != "" {
		path, err := s.saveCover(ctx, book.ID, v.ThumbnailURL)
		if err != nil {
			s.logger.WarnContext(ctx, "cover download failed", "title", title, "error", err)
			coverErr = true
		} else {
			book.ImagePath = path
		}
	}

	if err := insert(ctx, s.db, book); err != nil {
		return false, coverErr, err
	}
	return true, coverErr, nil
}

// saveCover stores the image under the media directory and returns its path
// relative to it.
func (s *Syncer) saveCover(ctx context.Context, id uuid.UUID, url string) (string, error) {
	data, err := s.source.Cover(ctx, url)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(s.mediaDir, coverDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create cover dir: %w", err)
	}
	name := id.String() + ".jpg"
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write cover: %w", err)
	}
	return coverDir + "/" + name, nil
}

// Run syncs a page every interval, walking forward through the source and
// wrapping to the start when a page comes back empty.
func (s *Syncer) Run(ctx context.Context, interval time.Duration, pageSize int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	start := 0
	for {
		res, err := s.Sync(ctx, start, pageSize)
		switch {
		case err != nil && ctx.Err() == nil:
			s.logger.Error("catalog sync failed", "start_index", start, "error", err)
		case res.Fetched == 0:
			start = 0
		default:
			start += res.Fetched
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
