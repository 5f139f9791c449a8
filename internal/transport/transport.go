// Package transport is the shared HTTP layer used by the page fetcher and the WebDAV client.
package transport

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrBodyTooLarge is returned when a response exceeds the configured size limit.
var ErrBodyTooLarge = errors.New("response body too large")

// Doer executes HTTP requests.
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Request is a buffered HTTP request.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte

	// Basic auth, sent when Username is set
	Username string
	Password string
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string // after redirects
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Options configure an HTTPClient.
type Options struct {
	Timeout      time.Duration
	UserAgent    string
	MaxRetries   int
	RetryDelay   time.Duration
	MaxBodyBytes int64 // 0 = unlimited
}
