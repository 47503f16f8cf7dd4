package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store/storetest"
)

func TestMigrateIsIdempotent(t *testing.T) {
	db := storetest.New(t)
	require.NoError(t, db.Migrate(context.Background()))
}

func TestGetMapsMissingRowToErrNotFound(t *testing.T) {
	db := storetest.New(t)
	var title string
	err := store.Get(context.Background(), db, &title, `SELECT title FROM books WHERE id = ?`, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInTxRollsBackOnError(t *testing.T) {
	db := storetest.New(t)
	ctx := context.Background()
	boom := errors.New("boom")
	committed := false

	err := db.InTx(ctx, "test.rollback", func(ctx context.Context, tx *store.Tx) error {
		storetest.User(t, tx, "rina")
		tx.AfterCommit(func() { committed = true })
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, committed)

	var n int
	require.NoError(t, store.Get(ctx, db, &n, `SELECT COUNT(*) FROM users`))
	assert.Zero(t, n)
}

func TestInTxRunsAfterCommitHooks(t *testing.T) {
	db := storetest.New(t)
	var order []string

	err := db.InTx(context.Background(), "test.commit", func(ctx context.Context, tx *store.Tx) error {
		storetest.User(t, tx, "karim")
		tx.AfterCommit(func() { order = append(order, "first") })
		tx.AfterCommit(func() { order = append(order, "second") })
		assert.Empty(t, tx.ForUpdate())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestConstraintClassification(t *testing.T) {
	db := storetest.New(t)
	ctx := context.Background()
	storetest.User(t, db, "dup")

	_, err := store.Exec(ctx, db, `
		INSERT INTO users (id, username, email, password_hash, salt, is_admin, created_at)
		VALUES (?, 'dup', 'd@example.com', 'x', 'x', ?, ?)
	`, uuid.New(), false, time.Now().UTC())
	require.Error(t, err)
	assert.True(t, store.IsUniqueViolation(err))

	bookID := storetest.Book(t, db, "Padma Nadir Majhi", 1)
	_, err = store.Exec(ctx, db, `UPDATE books SET available_copies = 2 WHERE id = ?`, bookID)
	require.Error(t, err)
	assert.True(t, store.IsCheckViolation(err))
	assert.False(t, store.IsUniqueViolation(err))
}

func TestScanRoundTripsTimesAndBools(t *testing.T) {
	db := storetest.New(t)
	ctx := context.Background()
	userID := storetest.User(t, db, "nila")
	start := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	storetest.Subscription(t, db, userID, "Premium", 5, start)

	var row struct {
		StartsAt time.Time  `db:"starts_at"`
		IsActive bool       `db:"is_active"`
		Missing  *time.Time `db:"missing"`
	}
	require.NoError(t, store.Get(ctx, db, &row,
		`SELECT starts_at, is_active, NULL AS missing FROM subscriptions WHERE user_id = ?`, userID))
	assert.True(t, row.StartsAt.Equal(start))
	assert.True(t, row.IsActive)
	assert.Nil(t, row.Missing)
}

func TestPostgresMigrate(t *testing.T) {
	db := storetest.Postgres(t)
	err := db.InTx(context.Background(), "test.pg", func(ctx context.Context, tx *store.Tx) error {
		assert.Equal(t, " FOR UPDATE", tx.ForUpdate())
		return nil
	})
	require.NoError(t, err)
}
