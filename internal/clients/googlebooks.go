// internal/clients/googlebooks.go
package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/catalog"
)

// maxCoverBytes bounds a single thumbnail download.
const maxCoverBytes = 5 << 20

var ErrUnavailable = errors.New("google books unavailable")

// GoogleBooks fetches fiction volumes and their covers. Calls go through a
// circuit breaker so a failing upstream is skipped instead of hammered.
type GoogleBooks struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewGoogleBooks(baseURL, apiKey string, httpClient *http.Client) *GoogleBooks {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &GoogleBooks{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "google-books",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

type volumesResponse struct {
	Items []struct {
		VolumeInfo struct {
			Title       string   `json:"title"`
			Authors     []string `json:"authors"`
			Description string   `json:"description"`
			ImageLinks  struct {
				Thumbnail string `json:"thumbnail"`
			} `json:"imageLinks"`
		} `json:"volumeInfo"`
	} `json:"items"`
}

// Volumes returns one page of fiction titles.
func (c *GoogleBooks) Volumes(ctx context.Context, startIndex, maxResults int) ([]catalog.RemoteBook, error) {
	q := url.Values{}
	q.Set("q", "subject:fiction")
	q.Set("startIndex", strconv.Itoa(startIndex))
	q.Set("maxResults", strconv.Itoa(maxResults))
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}

	body, err := c.get(ctx, c.baseURL+"/volumes?"+q.Encode(), 0)
	if err != nil {
		return nil, err
	}

	var resp volumesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode volumes: %w", err)
	}

	books := make([]catalog.RemoteBook, 0, len(resp.Items))
	for _, item := range resp.Items {
		info := item.VolumeInfo
		books = append(books, catalog.RemoteBook{
			Title:        info.Title,
			Author:       strings.Join(info.Authors, ", "),
			Description:  info.Description,
			ThumbnailURL: info.ImageLinks.Thumbnail,
		})
	}
	return books, nil
}

// Cover downloads a thumbnail.
func (c *GoogleBooks) Cover(ctx context.Context, rawURL string) ([]byte, error) {
	return c.get(ctx, rawURL, maxCoverBytes)
}

func (c *GoogleBooks) get(ctx context.Context, rawURL string, limit int64) ([]byte, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		var r io.Reader = resp.Body
		if limit > 0 {
			r = io.LimitReader(resp.Body, limit)
		}
		return io.ReadAll(r)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return nil, fmt.Errorf("google books get: %w", err)
	}
	return out.([]byte), nil
}
