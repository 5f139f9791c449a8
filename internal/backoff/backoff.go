// Package backoff decides whether and when a failed bookmark step is retried.
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/TheMichaelB/marksync/internal/models"
)

// Category is the retry classification of an error.
type Category int

const (
	Retryable Category = iota
	Fatal
)

func (c Category) String() string {
	if c == Fatal {
		return "fatal"
	}
	return "retryable"
}

// Policy computes retry delays. The zero value is not usable; see New.
type Policy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    bool

	// rand returns a value in [0, 1). Replaced in tests.
	rand func() float64
}

// New creates a policy.
func New(base, max time.Duration, jitter bool) *Policy {
	return &Policy{
		BaseDelay: base,
		MaxDelay:  max,
		Jitter:    jitter,
		rand:      rand.Float64,
	}
}

// WithRand returns a copy of p using fn as the jitter source.
func (p *Policy) WithRand(fn func() float64) *Policy {
	c := *p
	c.rand = fn
	return &c
}

// NextDelay returns min(base * 2^attempt, max) without jitter.
func (p *Policy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if p.BaseDelay <= 0 {
		return 0
	}

	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		if (p.MaxDelay > 0 && d >= p.MaxDelay) || d > math.MaxInt64/2 {
			break
		}
		d *= 2
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Delay returns NextDelay plus jitter in [0, 0.25 * delay] when enabled.
func (p *Policy) Delay(attempt int) time.Duration {
	d := p.NextDelay(attempt)
	if !p.Jitter || d <= 0 {
		return d
	}

	r := p.rand
	if r == nil {
		r = rand.Float64
	}
	return d + time.Duration(float64(d)*0.25*r())
}

// ShouldRetry reports whether another attempt is allowed after err.
func (p *Policy) ShouldRetry(attempt, maxAttempts int, err error) bool {
	return ShouldRetry(attempt, maxAttempts, err)
}

// ShouldRetry is false once attempt >= maxAttempts or err is fatal.
func ShouldRetry(attempt, maxAttempts int, err error) bool {
	if attempt >= maxAttempts {
		return false
	}
	return Categorize(err) == Retryable
}

type statusCoder interface {
	HTTPStatus() int
}

// Categorize classifies err. Unrecognized errors are retryable.
func Categorize(err error) Category {
	if err == nil {
		return Retryable
	}

	if errors.Is(err, models.ErrInvalidURL) || errors.Is(err, models.ErrValidation) {
		return Fatal
	}

	var procErr *models.ProcessingError
	if errors.As(err, &procErr) && procErr.Stage == models.StageParse {
		return Fatal
	}

	var fetchErr *models.FetchError
	if errors.As(err, &fetchErr) {
		switch fetchErr.Kind {
		case models.FetchForbidden, models.FetchNotFound:
			return Fatal
		case models.FetchTimeout, models.FetchNetwork, models.FetchRateLimit:
			return Retryable
		}
	}

	var davErr *models.WebDAVError
	if errors.As(err, &davErr) {
		switch davErr.Kind {
		case models.WebDAVConfig, models.WebDAVAuth:
			return Fatal
		}
	}

	var sc statusCoder
	if errors.As(err, &sc) && sc.HTTPStatus() != 0 {
		return categorizeStatus(sc.HTTPStatus())
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retryable
	}

	return categorizeMessage(err.Error())
}

func categorizeStatus(status int) Category {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return Retryable
	case status >= 500:
		return Retryable
	case status >= 400:
		return Fatal
	default:
		return Retryable
	}
}

var (
	retryableHints = []string{"timeout", "timed out", "network", "connection", "econnreset", "temporarily"}
	fatalHints     = []string{"invalid url", "malformed", "unsupported protocol", "parse", "validation"}
)

func categorizeMessage(msg string) Category {
	msg = strings.ToLower(msg)
	for _, h := range retryableHints {
		if strings.Contains(msg, h) {
			return Retryable
		}
	}
	for _, h := range fatalHints {
		if strings.Contains(msg, h) {
			return Fatal
		}
	}
	return Retryable
}
