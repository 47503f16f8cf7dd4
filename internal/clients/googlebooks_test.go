package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolumesDecodesPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/volumes", r.URL.Path)
		assert.Equal(t, "subject:fiction", r.URL.Query().Get("q"))
		assert.Equal(t, "20", r.URL.Query().Get("startIndex"))
		assert.Equal(t, "10", r.URL.Query().Get("maxResults"))
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		w.Write([]byte(`{"items":[
			{"volumeInfo":{"title":"Chokher Bali","authors":["Rabindranath Tagore"],"description":"d",
				"imageLinks":{"thumbnail":"http://img/1"}}},
			{"volumeInfo":{"title":"Devdas","authors":["Sarat Chandra","Translator"]}}
		]}`))
	}))
	defer srv.Close()

	c := NewGoogleBooks(srv.URL+"/", "k", srv.Client())
	books, err := c.Volumes(context.Background(), 20, 10)
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "Chokher Bali", books[0].Title)
	assert.Equal(t, "http://img/1", books[0].ThumbnailURL)
	assert.Equal(t, "Sarat Chandra, Translator", books[1].Author)
	assert.Empty(t, books[1].ThumbnailURL)
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewGoogleBooks(srv.URL, "", srv.Client())
	for i := 0; i < 3; i++ {
		_, err := c.Volumes(context.Background(), 0, 10)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnavailable)
	}

	_, err := c.Cover(context.Background(), srv.URL+"/cover.jpg")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(3), hits.Load())
}
