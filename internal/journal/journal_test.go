package journal

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store/storetest"
)

type borrowed struct {
	BookID string `json:"book_id"`
}

func TestAppendAndLoad(t *testing.T) {
	db := storetest.New(t)
	j := New()
	ctx := context.Background()
	id := uuid.New()

	first, err := NewEvent("BookBorrowed", borrowed{BookID: "b1"}, map[string]string{"actor": "u1"})
	require.NoError(t, err)
	second, err := NewEvent("BookReturned", borrowed{BookID: "b1"}, nil)
	require.NoError(t, err)

	require.NoError(t, j.Append(ctx, db, id, "borrowing", 0, first))
	require.NoError(t, j.Append(ctx, db, id, "borrowing", 1, second))

	events, err := j.Load(ctx, db, id)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "BookBorrowed", events[0].EventType)
	assert.Equal(t, 1, events[0].Version)
	assert.Equal(t, "u1", events[0].Metadata["actor"])
	assert.Equal(t, 2, events[1].Version)
	assert.Nil(t, events[1].Metadata)

	var data borrowed
	require.NoError(t, json.Unmarshal(events[1].EventData, &data))
	assert.Equal(t, "b1", data.BookID)

	version, err := j.CurrentVersion(ctx, db, id)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestAppendRejectsStaleVersion(t *testing.T) {
	db := storetest.New(t)
	j := New()
	ctx := context.Background()
	id := uuid.New()
	event, err := NewEvent("BookBorrowed", borrowed{}, nil)
	require.NoError(t, err)

	require.NoError(t, j.Append(ctx, db, id, "borrowing", 0, event))
	assert.ErrorIs(t, j.Append(ctx, db, id, "borrowing", 0, event), ErrConcurrencyConflict)
	assert.ErrorIs(t, j.Append(ctx, db, id, "borrowing", -1, event), ErrInvalidVersion)
}

func TestAppendRollsBackWithTransaction(t *testing.T) {
	db := storetest.New(t)
	j := New()
	ctx := context.Background()
	id := uuid.New()
	event, err := NewEvent("BookBorrowed", borrowed{}, nil)
	require.NoError(t, err)

	_ = db.InTx(ctx, "test.journal", func(ctx context.Context, tx *store.Tx) error {
		require.NoError(t, j.Append(ctx, tx, id, "borrowing", 0, event))
		return assert.AnError
	})

	events, err := j.Load(ctx, db, id)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestConcurrentAppendsOneWinner(t *testing.T) {
	db := storetest.New(t)
	j := New()
	ctx := context.Background()
	id := uuid.New()
	event, err := NewEvent("BookBorrowed", borrowed{}, nil)
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.InTx(ctx, "test.race", func(ctx context.Context, tx *store.Tx) error {
				return j.Append(ctx, tx, id, "borrowing", 0, event)
			})
			if err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrConcurrencyConflict)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
