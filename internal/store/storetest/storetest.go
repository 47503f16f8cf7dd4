// Package storetest provides migrated throwaway databases and row fixtures
// for package tests.
package storetest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store"
)

// New returns a migrated SQLite database in a temp directory.
func New(t testing.TB) *store.DB {
	t.Helper()
	db, err := store.Open(context.Background(), store.DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

// Postgres returns a migrated Postgres database, skipping the test when
// BOIPOKA_TEST_POSTGRES_URL is unset or unreachable.
func Postgres(t testing.TB) *store.DB {
	t.Helper()
	dsn := os.Getenv("BOIPOKA_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("skipping postgres test: BOIPOKA_TEST_POSTGRES_URL not set")
	}
	db, err := store.Open(context.Background(), store.DriverPostgres, dsn)
	if err != nil {
		t.Skipf("skipping postgres test: could not connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	_, err = db.Exec(`TRUNCATE TABLE journal_events, email_outbox, notifications,
		damaged_lost_history, borrowings, subscriptions, books, users CASCADE`)
	require.NoError(t, err)
	return db
}

// User inserts a non-admin user and returns its id.
func User(t testing.TB, db store.Querier, username string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := store.Exec(context.Background(), db, `
		INSERT INTO users (id, username, email, password_hash, salt, is_admin, created_at)
		VALUES (?, ?, ?, 'x', 'x', ?, ?)
	`, id, username, username+"@example.com", false, time.Now().UTC())
	require.NoError(t, err)
	return id
}

// Book inserts a book with copies total and available copies.
func Book(t testing.TB, db store.Querier, title string, copies int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	now := time.Now().UTC()
	_, err := store.Exec(context.Background(), db, `
		INSERT INTO books (id, title, author, description, total_copies, available_copies, is_available, created_at, updated_at)
		VALUES (?, ?, 'Author', '', ?, ?, ?, ?, ?)
	`, id, title, copies, copies, true, now, now)
	require.NoError(t, err)
	return id
}

// Subscription inserts an active subscription starting at start.
func Subscription(t testing.TB, db store.Querier, userID uuid.UUID, tier string, maxBooks int, start time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := store.Exec(context.Background(), db, `
		INSERT INTO subscriptions (id, user_id, tier, max_books, starts_at, ends_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, userID, tier, maxBooks, start.UTC(), start.UTC().AddDate(0, 0, 30), true)
	require.NoError(t, err)
	return id
}
