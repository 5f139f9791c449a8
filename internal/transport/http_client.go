package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/TheMichaelB/marksync/internal/backoff"
	"github.com/TheMichaelB/marksync/internal/events"
)

// HTTPClient handles HTTP communication with retries.
type HTTPClient struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
	logger       *events.Logger

	// Retry configuration
	maxRetries int
	policy     *backoff.Policy
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewHTTPClient creates an HTTP client.
func NewHTTPClient(opts Options, logger *events.Logger) *HTTPClient {
	// Create transport with HTTP/2 support
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
			MinVersion: tls.VersionTLS12,
		},
	}

	// Configure HTTP/2
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		userAgent:    opts.UserAgent,
		maxBodyBytes: opts.MaxBodyBytes,
		maxRetries:   opts.MaxRetries,
		policy:       backoff.New(retryDelay, 0, false),
		sleep:        sleepContext,
		logger:       logger.WithField("component", "http_client"),
	}
}

// Do sends req, retrying network failures and retryable statuses.
// A non-2xx response is returned as a Response, not an error.
func (c *HTTPClient) Do(ctx context.Context, req *Request) (*Response, error) {
	logger := c.logger.WithFields(map[string]interface{}{
		"method": req.Method,
		"url":    req.URL,
	})
	logger.WithField("size", len(req.Body)).Debug("Sending request")

	var resp *Response
	err := c.retry(ctx, func() error {
		r, err := c.once(ctx, req)
		if err != nil {
			return err
		}
		resp = r

		if isRetryable(r.StatusCode) {
			return &statusError{status: r.StatusCode}
		}
		return nil
	})

	var se *statusError
	if err != nil && !errors.As(err, &se) {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}

	logger.WithFields(map[string]interface{}{
		"status": resp.StatusCode,
		"size":   len(resp.Body),
	}).Debug("Received response")

	return resp, nil
}

func (c *HTTPClient) once(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	hr, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	if c.userAgent != "" && hr.Header.Get("User-Agent") == "" {
		hr.Header.Set("User-Agent", c.userAgent)
	}
	if req.Username != "" {
		hr.SetBasicAuth(req.Username, req.Password)
	}

	resp, err := c.client.Do(hr)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader := io.Reader(resp.Body)
	if c.maxBodyBytes > 0 {
		reader = io.LimitReader(resp.Body, c.maxBodyBytes+1)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if c.maxBodyBytes > 0 && int64(len(data)) > c.maxBodyBytes {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, c.maxBodyBytes)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		FinalURL:   resp.Request.URL.String(),
	}, nil
}

// retry executes a function with exponential backoff.
func (c *HTTPClient) retry(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.policy.Delay(attempt - 1)
			c.logger.WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   delay.String(),
			}).Debug("Retrying request")

			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isRetryableError(err) {
			return err
		}
	}

	return lastErr
}

type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server error %d", e.status)
}

func (e *statusError) HTTPStatus() int {
	return e.status
}

// isRetryable checks if an HTTP status code is retryable.
func isRetryable(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		(status >= 500 && status < 600 && status != http.StatusNotImplemented)
}

// isRetryableError checks if an error is retryable.
func isRetryableError(err error) bool {
	if errors.Is(err, ErrBodyTooLarge) {
		return false
	}
	return backoff.Categorize(err) == backoff.Retryable
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
