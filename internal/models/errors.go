package models

import (
	"errors"
	"fmt"
)

// Error codes for structured error handling.
const (
	ErrCodeFetch      = "FETCH_ERROR"
	ErrCodeProcessing = "PROCESSING_ERROR"
	ErrCodeWebDAV     = "WEBDAV_ERROR"
	ErrCodeConfig     = "CONFIG_ERROR"
	ErrCodeStorage    = "STORAGE_ERROR"
	ErrCodeValidation = "VALIDATION_ERROR"
)

// Sentinel errors
var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateURL   = errors.New("bookmark url already exists")
	ErrAlreadyExists  = errors.New("already exists")
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrAlreadyRunning = errors.New("queue pass already running")
	ErrInvalidURL     = errors.New("invalid url")
	ErrValidation     = errors.New("validation failed")
)

// FetchErrorKind classifies page fetch failures.
type FetchErrorKind string

const (
	FetchNetwork   FetchErrorKind = "network"
	FetchTimeout   FetchErrorKind = "timeout"
	FetchRateLimit FetchErrorKind = "rate_limit"
	FetchForbidden FetchErrorKind = "forbidden"
	FetchNotFound  FetchErrorKind = "not_found"
	FetchUnknown   FetchErrorKind = "unknown"
)

// FetchError is returned by page fetchers.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s [%s]: HTTP %d: %v", e.URL, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s [%s]: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Code returns the structured error code.
func (e *FetchError) Code() string {
	return ErrCodeFetch
}

// HTTPStatus returns the response status, if any.
func (e *FetchError) HTTPStatus() int {
	return e.StatusCode
}

// ProcessingStage names the content pipeline step that failed.
type ProcessingStage string

const (
	StageFetch ProcessingStage = "fetch"
	StageParse ProcessingStage = "parse"
	StageEmbed ProcessingStage = "embed"
	StageSave  ProcessingStage = "save"
)

// ProcessingError is returned by content processors.
type ProcessingError struct {
	Stage      ProcessingStage
	BookmarkID string
	Err        error
}

func (e *ProcessingError) Error() string {
	if e.BookmarkID != "" {
		return fmt.Sprintf("process %s [%s]: %v", e.BookmarkID, e.Stage, e.Err)
	}
	return fmt.Sprintf("process [%s]: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// Code returns the structured error code.
func (e *ProcessingError) Code() string {
	return ErrCodeProcessing
}

// WebDAVErrorKind classifies WebDAV failures.
type WebDAVErrorKind string

const (
	WebDAVConfig  WebDAVErrorKind = "config"
	WebDAVNetwork WebDAVErrorKind = "network"
	WebDAVSync    WebDAVErrorKind = "sync"
	WebDAVAuth    WebDAVErrorKind = "auth"
)

// WebDAVError is returned by the WebDAV client.
type WebDAVError struct {
	Kind       WebDAVErrorKind
	Op         string
	StatusCode int
	Err        error
}

func (e *WebDAVError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webdav %s [%s]: HTTP %d: %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("webdav %s [%s]: %v", e.Op, e.Kind, e.Err)
}

func (e *WebDAVError) Unwrap() error {
	return e.Err
}

// Code returns the structured error code.
func (e *WebDAVError) Code() string {
	return ErrCodeWebDAV
}

// HTTPStatus returns the response status, if any.
func (e *WebDAVError) HTTPStatus() int {
	return e.StatusCode
}

// ErrorCode extracts the structured code from err, or "" if none.
func ErrorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidURL):
		return ErrCodeValidation
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDuplicateURL):
		return ErrCodeStorage
	}
	return ""
}
