package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExportVersion is the current bookmark export format version.
const ExportVersion = 1

// BookmarkExport is the document exchanged with the WebDAV remote.
type BookmarkExport struct {
	Version       int         `json:"version"`
	ExportedAt    time.Time   `json:"exportedAt"`
	BookmarkCount int         `json:"bookmarkCount"`
	Bookmarks     []*Bookmark `json:"bookmarks"`
}

// NewBookmarkExport builds an export of bookmarks at now.
func NewBookmarkExport(bookmarks []*Bookmark, now time.Time) *BookmarkExport {
	if bookmarks == nil {
		bookmarks = []*Bookmark{}
	}
	return &BookmarkExport{
		Version:       ExportVersion,
		ExportedAt:    now.UTC(),
		BookmarkCount: len(bookmarks),
		Bookmarks:     bookmarks,
	}
}

// ParseBookmarkExport decodes an export document. Empty or malformed input is an error.
func ParseBookmarkExport(data []byte) (*BookmarkExport, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty export", ErrValidation)
	}

	var exp BookmarkExport
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("%w: decode export: %v", ErrValidation, err)
	}

	if exp.ExportedAt.IsZero() {
		return nil, fmt.Errorf("%w: export has no exportedAt", ErrValidation)
	}

	return &exp, nil
}

// ImportResult counts the outcome of an import.
type ImportResult struct {
	Imported int    `json:"imported"`
	Skipped  int    `json:"skipped"`
	JobID    string `json:"jobId,omitempty"`
}
