// Package fetch downloads bookmark pages.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/TheMichaelB/marksync/internal/config"
	"github.com/TheMichaelB/marksync/internal/content"
	"github.com/TheMichaelB/marksync/internal/events"
	"github.com/TheMichaelB/marksync/internal/models"
	"github.com/TheMichaelB/marksync/internal/transport"
)

// HTTPFetcher fetches page HTML over HTTP.
type HTTPFetcher struct {
	client transport.Doer
	logger *events.Logger
}

// NewHTTPFetcher creates a fetcher. Transport retries are disabled; the queue owns retrying.
func NewHTTPFetcher(cfg config.FetchConfig, logger *events.Logger) *HTTPFetcher {
	client := transport.NewHTTPClient(transport.Options{
		Timeout:      cfg.Timeout,
		UserAgent:    cfg.UserAgent,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}, logger)
	return NewHTTPFetcherWithClient(client, logger)
}

// NewHTTPFetcherWithClient creates a fetcher on an existing transport.
func NewHTTPFetcherWithClient(client transport.Doer, logger *events.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		client: client,
		logger: logger.WithField("component", "fetcher"),
	}
}

// FetchHTML downloads the bookmark's page and returns a copy carrying the
// UTF-8 HTML and, when the page has one, its title.
func (f *HTTPFetcher) FetchHTML(ctx context.Context, b *models.Bookmark) (*models.Bookmark, error) {
	resp, err := f.client.Do(ctx, &transport.Request{
		Method: http.MethodGet,
		URL:    b.URL,
		Header: http.Header{
			"Accept":          {"text/html,application/xhtml+xml;q=0.9,*/*;q=0.8"},
			"Accept-Language": {"en-US,en;q=0.5"},
		},
	})
	if err != nil {
		return nil, classify(b.URL, err)
	}

	if !resp.OK() {
		return nil, statusError(b.URL, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !isHTML(contentType) {
		return nil, &models.FetchError{
			Kind:       models.FetchUnknown,
			URL:        b.URL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: unsupported content type %q", models.ErrValidation, contentType),
		}
	}

	page, err := decode(resp.Body, contentType)
	if err != nil {
		return nil, &models.FetchError{Kind: models.FetchUnknown, URL: b.URL, Err: fmt.Errorf("decode body: %w", err)}
	}

	out := b.Clone()
	out.HTML = page
	if title := content.ExtractTitle(page); title != "" {
		out.Title = title
	}

	events.FromContextOr(ctx, f.logger.WithField("bookmark_id", b.ID)).WithFields(map[string]interface{}{
		"final_url": resp.FinalURL,
		"size":      len(page),
	}).Debug("Fetched page")

	return out, nil
}

func classify(url string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return &models.FetchError{Kind: models.FetchTimeout, URL: url, Err: err}
	case errors.Is(err, transport.ErrBodyTooLarge):
		return &models.FetchError{Kind: models.FetchUnknown, URL: url, Err: fmt.Errorf("%w: %v", models.ErrValidation, err)}
	case strings.Contains(err.Error(), "unsupported protocol scheme"):
		return &models.FetchError{Kind: models.FetchUnknown, URL: url, Err: fmt.Errorf("%w: %v", models.ErrInvalidURL, err)}
	default:
		return &models.FetchError{Kind: models.FetchNetwork, URL: url, Err: err}
	}
}

func statusError(url string, status int) error {
	kind := models.FetchUnknown
	switch {
	case status == http.StatusTooManyRequests:
		kind = models.FetchRateLimit
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		kind = models.FetchForbidden
	case status == http.StatusNotFound, status == http.StatusGone:
		kind = models.FetchNotFound
	case status >= 500:
		kind = models.FetchNetwork
	}
	return &models.FetchError{
		Kind:       kind,
		URL:        url,
		StatusCode: status,
		Err:        errors.New(http.StatusText(status)),
	}
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch mediaType {
	case "text/html", "application/xhtml+xml", "text/plain":
		return true
	}
	return false
}

// decode converts the body to UTF-8 using the header charset or <meta> hints.
func decode(body []byte, contentType string) (string, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
