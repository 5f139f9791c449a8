package models

import (
	"time"
)

// SyncAction is what a sync attempt did.
type SyncAction string

const (
	SyncUploaded   SyncAction = "uploaded"
	SyncDownloaded SyncAction = "downloaded"
	SyncNoChange   SyncAction = "no-change"
	SyncSkipped    SyncAction = "skipped"
	SyncError      SyncAction = "error"
)

// SyncResult is the outcome of one sync attempt.
type SyncResult struct {
	Success       bool       `json:"success"`
	Action        SyncAction `json:"action"`
	Message       string     `json:"message"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
	BookmarkCount int        `json:"bookmarkCount,omitempty"`
	Imported      int        `json:"imported,omitempty"`
	Skipped       int        `json:"skipped,omitempty"`
}

// RemoteMetadata is the result of probing the remote bookmarks file.
type RemoteMetadata struct {
	Exists       bool       `json:"exists"`
	LastModified *time.Time `json:"lastModified,omitempty"`
	ETag         string     `json:"etag,omitempty"`
}

// URLValidation is the result of validating a WebDAV URL.
type URLValidation struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}
