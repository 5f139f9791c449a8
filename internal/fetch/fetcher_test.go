package fetch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/marksync/internal/backoff"
	"github.com/TheMichaelB/marksync/internal/config"
	"github.com/TheMichaelB/marksync/internal/fetch"
	"github.com/TheMichaelB/marksync/internal/models"
	"github.com/TheMichaelB/marksync/test/testutil"
)

func newFetcher(t *testing.T, timeout time.Duration) *fetch.HTTPFetcher {
	t.Helper()
	cfg := config.DefaultConfig().Fetch
	cfg.Timeout = timeout
	cfg.MaxBodyBytes = 1024
	return fetch.NewHTTPFetcher(cfg, testutil.NewTestLogger())
}

func TestFetchHTML(t *testing.T) {
	var gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(testutil.SamplePage))
	}))
	defer server.Close()

	b := &models.Bookmark{ID: "b1", URL: server.URL + "/article", Status: models.StatusFetching}
	got, err := newFetcher(t, time.Second).FetchHTML(context.Background(), b)
	require.NoError(t, err)

	assert.Equal(t, testutil.SamplePage, got.HTML)
	assert.Equal(t, "Sample Article", got.Title)
	assert.Equal(t, "b1", got.ID)
	assert.Empty(t, b.HTML, "input is not modified")
	assert.Contains(t, gotAccept, "text/html")
}

func TestFetchHTMLDecodesCharset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write([]byte("<title>Caf\xe9</title><p>ok</p>"))
	}))
	defer server.Close()

	got, err := newFetcher(t, time.Second).FetchHTML(context.Background(), &models.Bookmark{URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, "Café", got.Title)
}

func TestFetchHTMLErrors(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantKind models.FetchErrorKind
		category backoff.Category
	}{
		{
			name:     "not found",
			handler:  func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) },
			wantKind: models.FetchNotFound,
			category: backoff.Fatal,
		},
		{
			name:     "forbidden",
			handler:  func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusForbidden) },
			wantKind: models.FetchForbidden,
			category: backoff.Fatal,
		},
		{
			name:     "rate limited",
			handler:  func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) },
			wantKind: models.FetchRateLimit,
			category: backoff.Retryable,
		},
		{
			name:     "server error",
			handler:  func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
			wantKind: models.FetchNetwork,
			category: backoff.Retryable,
		},
		{
			name: "not html",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/pdf")
				_, _ = w.Write([]byte("%PDF-1.4"))
			},
			wantKind: models.FetchUnknown,
			category: backoff.Fatal,
		},
		{
			name: "too large",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write(make([]byte, 4096))
			},
			wantKind: models.FetchUnknown,
			category: backoff.Fatal,
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(time.Second):
				case <-r.Context().Done():
				}
			},
			wantKind: models.FetchTimeout,
			category: backoff.Retryable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := newFetcher(t, 100*time.Millisecond).FetchHTML(context.Background(), &models.Bookmark{URL: server.URL})

			var fetchErr *models.FetchError
			require.ErrorAs(t, err, &fetchErr)
			assert.Equal(t, tt.wantKind, fetchErr.Kind)
			assert.Equal(t, server.URL, fetchErr.URL)
			assert.Equal(t, tt.category, backoff.Categorize(err))
			assert.Equal(t, models.ErrCodeFetch, models.ErrorCode(err))
		})
	}
}

func TestFetchHTMLConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newFetcher(t, time.Second).FetchHTML(context.Background(), &models.Bookmark{URL: url})

	var fetchErr *models.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, models.FetchNetwork, fetchErr.Kind)
	assert.Equal(t, backoff.Retryable, backoff.Categorize(err))
}
