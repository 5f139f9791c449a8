package models_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/marksync/internal/models"
)

func TestFetchError(t *testing.T) {
	tests := []struct {
		name string
		err  *models.FetchError
		want string
	}{
		{
			name: "with status",
			err: &models.FetchError{
				Kind:       models.FetchNotFound,
				URL:        "https://example.com/gone",
				StatusCode: 404,
				Err:        errors.New("page not found"),
			},
			want: "fetch https://example.com/gone [not_found]: HTTP 404: page not found",
		},
		{
			name: "without status",
			err: &models.FetchError{
				Kind: models.FetchTimeout,
				URL:  "https://example.com/slow",
				Err:  errors.New("deadline exceeded"),
			},
			want: "fetch https://example.com/slow [timeout]: deadline exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
			assert.Equal(t, models.ErrCodeFetch, tt.err.Code())
		})
	}
}

func TestProcessingError(t *testing.T) {
	err := &models.ProcessingError{
		Stage:      models.StageParse,
		BookmarkID: "bm-1",
		Err:        errors.New("no html"),
	}
	assert.Equal(t, "process bm-1 [parse]: no html", err.Error())

	noID := &models.ProcessingError{Stage: models.StageEmbed, Err: errors.New("quota")}
	assert.Equal(t, "process [embed]: quota", noID.Error())
}

func TestWebDAVError(t *testing.T) {
	err := &models.WebDAVError{
		Kind:       models.WebDAVAuth,
		Op:         "PUT",
		StatusCode: 401,
		Err:        errors.New("unauthorized"),
	}
	assert.Equal(t, "webdav PUT [auth]: HTTP 401: unauthorized", err.Error())
	assert.Equal(t, 401, err.HTTPStatus())
}

func TestErrorUnwrap(t *testing.T) {
	base := errors.New("connection reset")

	fetchErr := &models.FetchError{Kind: models.FetchNetwork, Err: base}
	procErr := &models.ProcessingError{Stage: models.StageSave, Err: models.ErrNotFound}
	davErr := &models.WebDAVError{Kind: models.WebDAVNetwork, Op: "HEAD", Err: base}

	assert.ErrorIs(t, fetchErr, base)
	assert.ErrorIs(t, procErr, models.ErrNotFound)
	assert.ErrorIs(t, fmt.Errorf("sync: %w", davErr), base)

	var target *models.WebDAVError
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", davErr), &target))
	assert.Equal(t, "HEAD", target.Op)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"fetch", &models.FetchError{Err: assertErr}, models.ErrCodeFetch},
		{"processing wrapped", fmt.Errorf("x: %w", &models.ProcessingError{Err: assertErr}), models.ErrCodeProcessing},
		{"webdav", &models.WebDAVError{Err: assertErr}, models.ErrCodeWebDAV},
		{"invalid url", fmt.Errorf("bad: %w", models.ErrInvalidURL), models.ErrCodeValidation},
		{"not found", models.ErrNotFound, models.ErrCodeStorage},
		{"plain", assertErr, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, models.ErrorCode(tt.err))
		})
	}
}

var assertErr = errors.New("boom")
