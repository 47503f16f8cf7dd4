package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store/storetest"
)

type fakeSource struct {
	volumes []RemoteBook
	covers  map[string][]byte
	err     error
}

func (f *fakeSource) Volumes(_ context.Context, startIndex, maxResults int) ([]RemoteBook, error) {
	if f.err != nil {
		return nil, f.err
	}
	if startIndex >= len(f.volumes) {
		return nil, nil
	}
	end := min(startIndex+maxResults, len(f.volumes))
	return f.volumes[startIndex:end], nil
}

func (f *fakeSource) Cover(_ context.Context, url string) ([]byte, error) {
	data, ok := f.covers[url]
	if !ok {
		return nil, errors.New("404")
	}
	return data, nil
}

func TestSyncGetOrCreateByTitle(t *testing.T) {
	db := storetest.New(t)
	ctx := context.Background()
	media := t.TempDir()
	existing := storetest.Book(t, db, "Devdas", 7)

	src := &fakeSource{
		volumes: []RemoteBook{
			{Title: "Devdas", Author: "Sarat Chandra"},
			{Title: "Parineeta", Author: "Sarat Chandra", ThumbnailURL: "http://img/p"},
			{Title: "Nishkriti", ThumbnailURL: "http://img/missing"},
			{Title: "  "},
		},
		covers: map[string][]byte{"http://img/p": []byte("jpeg")},
	}
	syncer := NewSyncer(db, src, media, nil)

	res, err := syncer.Sync(ctx, 0, 40)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Fetched: 4, Created: 2, Existing: 1, CoverErrors: 1}, res)

	book, err := Get(ctx, db, existing)
	require.NoError(t, err)
	assert.Equal(t, 7, book.TotalCopies, "existing titles are not touched")

	var created Book
	require.NoError(t, store.Get(ctx, db, &created, `SELECT `+bookColumns+` FROM books WHERE title = ?`, "Parineeta"))
	assert.Equal(t, 1, created.TotalCopies)
	assert.Equal(t, 1, created.AvailableCopies)
	assert.True(t, created.IsAvailable)
	require.NotEmpty(t, created.ImagePath)
	data, err := os.ReadFile(filepath.Join(media, created.ImagePath))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))

	res, err = syncer.Sync(ctx, 0, 40)
	require.NoError(t, err)
	assert.Zero(t, res.Created, "a second pass creates nothing")
}

func TestSyncSourceFailure(t *testing.T) {
	syncer := NewSyncer(storetest.New(t), &fakeSource{err: errors.New("breaker open")}, t.TempDir(), nil)
	_, err := syncer.Sync(context.Background(), 0, 10)
	assert.ErrorContains(t, err, "breaker open")
}
