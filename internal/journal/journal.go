// Package journal is an append-only, versioned event log. Each borrowing is
// an aggregate whose stream records every ledger transition.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

// Event is one recorded transition of an aggregate.
type Event struct {
	ID            int64             `json:"id"`
	AggregateID   uuid.UUID         `json:"aggregate_id"`
	AggregateType string            `json:"aggregate_type"`
	EventType     string            `json:"event_type"`
	EventData     json.RawMessage   `json:"event_data"`
	Metadata      map[string]string `json:"metadata"`
	Version       int               `json:"version"`
	CreatedAt     time.Time         `json:"created_at"`
}

// NewEvent marshals data into an event of the given type.
func NewEvent(eventType string, data any, metadata map[string]string) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return Event{EventType: eventType, EventData: raw, Metadata: metadata}, nil
}

// Journal appends and loads event streams through the caller's querier, so
// appends commit or roll back with the surrounding transaction.
type Journal struct {
	tracer trace.Tracer
	now    func() time.Time
}

func New() *Journal {
	return &Journal{
		tracer: otel.Tracer("boipoka/journal"),
		now:    time.Now,
	}
}

// Append writes events after expectedVersion. A stale expectedVersion or a
// concurrent writer on the same version yields ErrConcurrencyConflict.
func (j *Journal) Append(ctx context.Context, q store.Querier, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events ...Event) error {
	ctx, span := j.tracer.Start(ctx, "journal.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if expectedVersion < 0 {
		return ErrInvalidVersion
	}

	current, err := j.CurrentVersion(ctx, q, aggregateID)
	if err != nil {
		return err
	}
	if current != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", current),
			attribute.Bool("conflict.detected", true),
		)
		return ErrConcurrencyConflict
	}

	for i, event := range events {
		version := expectedVersion + i + 1
		var metadata any
		if len(event.Metadata) > 0 {
			raw, err := json.Marshal(event.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata: %w", err)
			}
			metadata = string(raw)
		}

		_, err := store.Exec(ctx, q, `
			INSERT INTO journal_events (aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, aggregateID, aggregateType, event.EventType, string(event.EventData), metadata, version, j.now().UTC())
		if err != nil {
			if store.IsUniqueViolation(err) {
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("insert event %d: %w", i, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int("event.version", version),
			attribute.String("event.type", event.EventType),
		))
	}

	span.SetAttributes(attribute.Bool("append.success", true))
	return nil
}

// CurrentVersion returns the latest version of an aggregate, 0 when empty.
func (j *Journal) CurrentVersion(ctx context.Context, q store.Querier, aggregateID uuid.UUID) (int, error) {
	var version int
	err := store.Get(ctx, q, &version, `
		SELECT COALESCE(MAX(version), 0)
		FROM journal_events
		WHERE aggregate_id = ?
	`, aggregateID)
	if err != nil {
		return 0, fmt.Errorf("query current version: %w", err)
	}
	return version, nil
}

type eventRow struct {
	ID            int64     `db:"id"`
	AggregateID   uuid.UUID `db:"aggregate_id"`
	AggregateType string    `db:"aggregate_type"`
	EventType     string    `db:"event_type"`
	EventData     string    `db:"event_data"`
	Metadata      *string   `db:"metadata"`
	Version       int       `db:"version"`
	CreatedAt     time.Time `db:"created_at"`
}

// Load returns the stream of an aggregate in version order.
func (j *Journal) Load(ctx context.Context, q store.Querier, aggregateID uuid.UUID) ([]Event, error) {
	ctx, span := j.tracer.Start(ctx, "journal.load",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID.String())),
	)
	defer span.End()

	var rows []eventRow
	err := store.Select(ctx, q, &rows, `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at
		FROM journal_events
		WHERE aggregate_id = ?
		ORDER BY version ASC
	`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		event := Event{
			ID:            row.ID,
			AggregateID:   row.AggregateID,
			AggregateType: row.AggregateType,
			EventType:     row.EventType,
			EventData:     json.RawMessage(row.EventData),
			Version:       row.Version,
			CreatedAt:     row.CreatedAt,
		}
		if row.Metadata != nil && *row.Metadata != "" {
			if err := json.Unmarshal([]byte(*row.Metadata), &event.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of event %d: %w", event.ID, err)
			}
		}
		events = append(events, event)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}
