package testutil

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/TheMichaelB/marksync/internal/models"
)

// MockFetcher mocks page fetching.
type MockFetcher struct {
	mock.Mock
}

func NewMockFetcher() *MockFetcher {
	return &MockFetcher{}
}

func (m *MockFetcher) FetchHTML(ctx context.Context, bookmark *models.Bookmark) (*models.Bookmark, error) {
	args := m.Called(ctx, bookmark)

	if b := args.Get(0); b != nil {
		return b.(*models.Bookmark), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockContentProcessor mocks content extraction.
type MockContentProcessor struct {
	mock.Mock
}

func NewMockContentProcessor() *MockContentProcessor {
	return &MockContentProcessor{}
}

func (m *MockContentProcessor) ProcessContent(ctx context.Context, bookmark *models.Bookmark) error {
	args := m.Called(ctx, bookmark)
	return args.Error(0)
}

// MockRepository mocks the queue's view of the bookmark store.
type MockRepository struct {
	mock.Mock
}

func NewMockRepository() *MockRepository {
	return &MockRepository{}
}

func (m *MockRepository) GetByStatus(ctx context.Context, status models.BookmarkStatus, limit int) ([]*models.Bookmark, error) {
	args := m.Called(ctx, status, limit)

	if list := args.Get(0); list != nil {
		return list.([]*models.Bookmark), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) Update(ctx context.Context, id string, update models.BookmarkUpdate) error {
	args := m.Called(ctx, id, update)
	return args.Error(0)
}

func (m *MockRepository) BulkUpdate(ctx context.Context, ids []string, update models.BookmarkUpdate) error {
	args := m.Called(ctx, ids, update)
	return args.Error(0)
}

// SyncTriggerRecorder counts sync triggers.
type SyncTriggerRecorder struct {
	mu    sync.Mutex
	calls int
	Err   error
}

func (s *SyncTriggerRecorder) TriggerIfEnabled(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.Err
}

// Calls returns how often TriggerIfEnabled ran.
func (s *SyncTriggerRecorder) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// AssertMockExpectations verifies all mock expectations.
func AssertMockExpectations(t mock.TestingT, mocks ...interface{}) {
	for _, m := range mocks {
		if mockObj, ok := m.(interface{ AssertExpectations(mock.TestingT) bool }); ok {
			mockObj.AssertExpectations(t)
		}
	}
}
