package content

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/TheMichaelB/marksync/internal/events"
	"github.com/TheMichaelB/marksync/internal/models"
)

// Repository persists extracted content.
type Repository interface {
	Update(ctx context.Context, id string, update models.BookmarkUpdate) error
}

// Processor extracts readable text from stored HTML and saves it on the bookmark.
type Processor struct {
	repo   Repository
	logger *events.Logger
}

// NewProcessor creates a content processor.
func NewProcessor(repo Repository, logger *events.Logger) *Processor {
	return &Processor{
		repo:   repo,
		logger: logger.WithField("component", "content_processor"),
	}
}

// ProcessContent extracts and saves the bookmark's content. Pages without
// HTML or without readable text fail at the parse stage.
func (p *Processor) ProcessContent(ctx context.Context, b *models.Bookmark) error {
	if strings.TrimSpace(b.HTML) == "" {
		return &models.ProcessingError{Stage: models.StageParse, BookmarkID: b.ID, Err: errors.New("no html to process")}
	}

	doc, err := Extract(b.HTML)
	if err != nil {
		return &models.ProcessingError{Stage: models.StageParse, BookmarkID: b.ID, Err: err}
	}
	if doc.Text == "" {
		return &models.ProcessingError{Stage: models.StageParse, BookmarkID: b.ID, Err: errors.New("no readable content")}
	}

	update := models.BookmarkUpdate{Content: models.Ptr(doc.Text)}
	if b.Title == "" && doc.Title != "" {
		update.Title = models.Ptr(doc.Title)
	}

	if err := p.repo.Update(ctx, b.ID, update); err != nil {
		return &models.ProcessingError{Stage: models.StageSave, BookmarkID: b.ID, Err: fmt.Errorf("save content: %w", err)}
	}

	events.FromContextOr(ctx, p.logger.WithField("bookmark_id", b.ID)).WithFields(map[string]interface{}{
		"paragraphs": len(doc.Paragraphs),
		"chars":      len(doc.Text),
	}).Debug("Extracted content")

	return nil
}
