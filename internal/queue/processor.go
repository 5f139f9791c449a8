package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TheMichaelB/marksync/internal/backoff"
	"github.com/TheMichaelB/marksync/internal/events"
	"github.com/TheMichaelB/marksync/internal/guard"
	"github.com/TheMichaelB/marksync/internal/models"
)

var errAbandoned = errors.New("processing abandoned")

type phase string

const (
	phaseFetch   phase = "fetch"
	phaseContent phase = "content"
)

// Dependencies are the collaborators of a Processor.
type Dependencies struct {
	Repository Repository
	Jobs       JobTracker
	Fetcher    Fetcher
	Content    ContentProcessor
	Sync       SyncTrigger  // optional
	Events     events.Sink  // optional
	Guard      *guard.Guard // optional, created from LockTimeout when nil
}

// Processor runs guarded queue passes.
type Processor struct {
	cfg     Config
	repo    Repository
	jobs    JobTracker
	fetcher Fetcher
	content ContentProcessor
	sync    SyncTrigger
	sink    events.Sink
	guard   *guard.Guard
	policy  *backoff.Policy
	logger  *events.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Processor.
type Option func(*Processor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithSleep overrides how the processor waits between attempts and batches.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Processor) { p.sleep = sleep }
}

// WithPolicy overrides the backoff policy.
func WithPolicy(policy *backoff.Policy) Option {
	return func(p *Processor) { p.policy = policy }
}

// NewProcessor creates a queue processor.
func NewProcessor(cfg Config, deps Dependencies, logger *events.Logger, opts ...Option) *Processor {
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 1
	}
	if logger == nil {
		logger = events.NewNopLogger()
	}

	p := &Processor{
		cfg:     cfg,
		repo:    deps.Repository,
		jobs:    deps.Jobs,
		fetcher: deps.Fetcher,
		content: deps.Content,
		sync:    deps.Sync,
		sink:    deps.Events,
		guard:   deps.Guard,
		policy:  backoff.New(cfg.BaseDelay, cfg.MaxDelay, cfg.Jitter),
		logger:  logger.WithField("component", "queue_processor"),
		now:     time.Now,
		sleep:   sleepContext,
	}
	if p.sink == nil {
		p.sink = events.Nop{}
	}
	if p.guard == nil {
		p.guard = guard.New(cfg.LockTimeout)
	}

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Guard exposes the execution guard.
func (p *Processor) Guard() *guard.Guard {
	return p.guard
}

// pass holds the mutable state of one run.
type pass struct {
	mu     sync.Mutex
	report RunReport
}

func (ps *pass) add(fn func(r *RunReport)) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	fn(&ps.report)
}

// Run executes one pass: recovery, fetch phase, content phase, then sync.
// A pass that cannot take the guard returns a report with Skipped set.
func (p *Processor) Run(ctx context.Context) (report *RunReport, err error) {
	tok, ok := p.guard.Acquire()
	if !ok {
		p.logger.Debug("Queue pass already running, skipping")
		return &RunReport{Skipped: true, StartedAt: p.now()}, nil
	}
	defer p.guard.Release(tok)

	ps := &pass{report: RunReport{StartedAt: p.now()}}
	logger := p.logger.WithField("session_id", p.guard.State().SessionID)

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", fmt.Sprint(r)).Error("Queue pass panicked")
			err = fmt.Errorf("queue pass panicked: %v", r)
		}
		ps.report.Duration = p.now().Sub(ps.report.StartedAt)
		if report == nil {
			report = &ps.report
		}
	}()

	logger.Debug("Starting queue pass")

	if err := p.recoverAbandoned(ctx, ps); err != nil {
		return nil, fmt.Errorf("recover abandoned: %w", err)
	}

	if err := p.fetchPhase(ctx, ps); err != nil {
		return nil, fmt.Errorf("fetch phase: %w", err)
	}

	if err := p.contentPhase(ctx, ps); err != nil {
		return nil, fmt.Errorf("content phase: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.noteDeferred(ctx, ps)
	p.triggerSync(ctx, ps)

	logger.WithFields(map[string]interface{}{
		"recovered": ps.report.Recovered,
		"fetched":   ps.report.Fetched,
		"processed": ps.report.Processed,
		"retried":   ps.report.Retried,
		"failed":    ps.report.Failed,
	}).Info("Queue pass complete")

	return &ps.report, nil
}

// recoverAbandoned resets or fails bookmarks left in processing by a dead pass.
func (p *Processor) recoverAbandoned(ctx context.Context, ps *pass) error {
	stuck, err := p.repo.GetByStatus(ctx, models.StatusProcessing, 0)
	if err != nil {
		return err
	}

	now := p.now()
	requeue := map[int][]string{}
	fail := map[int][]string{}

	for _, b := range stuck {
		if now.Sub(b.UpdatedAt) < p.cfg.ProcessingTimeout {
			continue
		}
		attempts := b.RetryCount + 1
		if p.policy.ShouldRetry(attempts, p.cfg.MaxRetries, errAbandoned) {
			requeue[attempts] = append(requeue[attempts], b.ID)
		} else {
			fail[attempts] = append(fail[attempts], b.ID)
		}
	}

	for attempts, ids := range requeue {
		err := p.repo.BulkUpdate(ctx, ids, models.BookmarkUpdate{
			Status:       models.Ptr(models.StatusDownloaded),
			RetryCount:   models.Ptr(attempts),
			ErrorMessage: models.Ptr(fmt.Sprintf("Attempt %d/%d failed: %s", attempts, p.cfg.MaxRetries, errAbandoned)),
		})
		if err != nil {
			return err
		}
		ps.add(func(r *RunReport) { r.Recovered += len(ids) })
	}

	for attempts, ids := range fail {
		msg := fmt.Sprintf("Failed after %d attempts: %s", attempts, errAbandoned)
		err := p.repo.BulkUpdate(ctx, ids, models.BookmarkUpdate{
			Status:       models.Ptr(models.StatusError),
			RetryCount:   models.Ptr(attempts),
			ErrorMessage: models.Ptr(msg),
		})
		if err != nil {
			return err
		}
		for _, id := range ids {
			p.finishJobItem(ctx, id, models.JobItemError, attempts, msg)
		}
		ps.add(func(r *RunReport) {
			r.Recovered += len(ids)
			r.Failed += len(ids)
		})
	}

	if n := ps.report.Recovered; n > 0 {
		p.logger.WithField("count", n).Warn("Recovered abandoned bookmarks")
	}
	return nil
}

// fetchPhase fetches bookmarks in bounded concurrent batches until none are left.
func (p *Processor) fetchPhase(ctx context.Context, ps *pass) error {
	attempted := make(map[string]bool)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		candidates, err := p.repo.GetByStatus(ctx, models.StatusFetching, p.cfg.FetchConcurrency+len(attempted))
		if err != nil {
			return err
		}

		batch := make([]*models.Bookmark, 0, p.cfg.FetchConcurrency)
		for _, b := range candidates {
			if attempted[b.ID] {
				continue
			}
			batch = append(batch, b)
			if len(batch) == p.cfg.FetchConcurrency {
				break
			}
		}

		if len(batch) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.FetchConcurrency)

		for _, b := range batch {
			b := b
			attempted[b.ID] = true
			g.Go(func() error {
				return p.fetchOne(gctx, b, ps)
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}

		if len(batch) == p.cfg.FetchConcurrency && p.cfg.BatchPause > 0 {
			if err := p.sleep(ctx, p.cfg.BatchPause); err != nil {
				return err
			}
		}
	}
}

func (p *Processor) fetchOne(ctx context.Context, b *models.Bookmark, ps *pass) error {
	ctx, logger := p.bookmarkContext(ctx, b)

	p.trackJobItem(ctx, b.ID, models.JobItemUpdate{Status: models.Ptr(models.JobItemInProgress)})
	p.emit(events.Event{
		Type:       events.BookmarkProcessingStarted,
		BookmarkID: b.ID,
		URL:        b.URL,
		Status:     string(models.StatusFetching),
	})

	fetched, err := p.safeFetch(ctx, b)
	if err != nil {
		if ctx.Err() != nil {
			// Interrupted, not a failed attempt.
			return ctx.Err()
		}
		logger.WithError(err).Warn("Fetch failed")
		_, _, ferr := p.handleFailure(ctx, b, err, phaseFetch, ps)
		return ferr
	}

	update := models.BookmarkUpdate{
		Status:         models.Ptr(models.StatusDownloaded),
		ErrorMessage:   models.Ptr(""),
		ClearNextRetry: true,
	}
	if fetched != nil {
		update.HTML = models.Ptr(fetched.HTML)
		if fetched.Title != "" && b.Title == "" {
			update.Title = models.Ptr(fetched.Title)
		}
	}

	if err := p.repo.Update(ctx, b.ID, update); err != nil {
		return fmt.Errorf("update bookmark %s: %w", b.ID, err)
	}

	logger.Debug("Fetched bookmark")
	ps.add(func(r *RunReport) { r.Fetched++ })
	return nil
}

// contentPhase processes one bookmark at a time, downloaded before pending.
func (p *Processor) contentPhase(ctx context.Context, ps *pass) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		b, err := p.nextContent(ctx)
		if err != nil {
			return err
		}
		if b == nil {
			return nil
		}

		if err := p.processOne(ctx, b, ps); err != nil {
			return err
		}
	}
}

func (p *Processor) nextContent(ctx context.Context) (*models.Bookmark, error) {
	for _, status := range []models.BookmarkStatus{models.StatusDownloaded, models.StatusPending} {
		list, err := p.repo.GetByStatus(ctx, status, 1)
		if err != nil {
			return nil, err
		}
		if len(list) > 0 {
			return list[0], nil
		}
	}
	return nil, nil
}

func (p *Processor) processOne(ctx context.Context, b *models.Bookmark, ps *pass) error {
	ctx, logger := p.bookmarkContext(ctx, b)
	from := b.Status

	if err := p.repo.Update(ctx, b.ID, models.BookmarkUpdate{Status: models.Ptr(models.StatusProcessing)}); err != nil {
		return fmt.Errorf("update bookmark %s: %w", b.ID, err)
	}
	p.trackJobItem(ctx, b.ID, models.JobItemUpdate{Status: models.Ptr(models.JobItemInProgress)})
	p.emit(events.Event{
		Type:       events.BookmarkProcessingStarted,
		BookmarkID: b.ID,
		URL:        b.URL,
		Status:     string(models.StatusProcessing),
	})

	err := p.safeProcess(ctx, b)
	if err != nil {
		if ctx.Err() != nil {
			// Put it back so the next pass picks it up immediately.
			if err := p.repo.Update(context.WithoutCancel(ctx), b.ID, models.BookmarkUpdate{Status: models.Ptr(from)}); err != nil {
				logger.WithError(err).WithField("status", string(from)).Warn("Failed to requeue interrupted bookmark")
			}
			return ctx.Err()
		}

		logger.WithError(err).Warn("Content processing failed")

		b.Status = from
		delay, retrying, ferr := p.handleFailure(ctx, b, err, phaseContent, ps)
		if ferr != nil {
			return ferr
		}
		if retrying {
			return p.sleep(ctx, delay)
		}
		return nil
	}

	if err := p.repo.Update(ctx, b.ID, models.BookmarkUpdate{
		Status:         models.Ptr(models.StatusComplete),
		ErrorMessage:   models.Ptr(""),
		ClearNextRetry: true,
	}); err != nil {
		return fmt.Errorf("update bookmark %s: %w", b.ID, err)
	}

	p.finishJobItem(ctx, b.ID, models.JobItemComplete, b.RetryCount, "")
	p.emit(events.Event{
		Type:       events.BookmarkReady,
		BookmarkID: b.ID,
		URL:        b.URL,
		Status:     string(models.StatusComplete),
	})

	logger.Debug("Bookmark ready")
	ps.add(func(r *RunReport) { r.Processed++ })
	return nil
}

// handleFailure records a failed attempt. It returns the backoff delay and
// whether the bookmark stays retryable.
func (p *Processor) handleFailure(ctx context.Context, b *models.Bookmark, cause error, ph phase, ps *pass) (time.Duration, bool, error) {
	attempts := b.RetryCount + 1

	if p.policy.ShouldRetry(attempts, p.cfg.MaxRetries, cause) {
		delay := p.policy.Delay(attempts - 1)
		msg := fmt.Sprintf("Attempt %d/%d failed: %s", attempts, p.cfg.MaxRetries, cause)

		update := models.BookmarkUpdate{
			Status:       models.Ptr(b.Status),
			RetryCount:   models.Ptr(attempts),
			ErrorMessage: models.Ptr(msg),
		}
		if ph == phaseFetch {
			// Left for a later pass.
			at := p.now().Add(delay)
			update.NextRetryAt = &at
			ps.add(func(r *RunReport) { r.noteRetryAt(at) })
		}

		if err := p.repo.Update(ctx, b.ID, update); err != nil {
			return 0, false, fmt.Errorf("update bookmark %s: %w", b.ID, err)
		}

		p.trackJobItem(ctx, b.ID, models.JobItemUpdate{
			Status:       models.Ptr(models.JobItemInProgress),
			RetryCount:   models.Ptr(attempts),
			ErrorMessage: models.Ptr(msg),
		})

		p.logger.WithFields(map[string]interface{}{
			"bookmark_id": b.ID,
			"phase":       string(ph),
			"attempt":     attempts,
			"delay":       delay.String(),
		}).Info("Scheduled retry")

		ps.add(func(r *RunReport) { r.Retried++ })
		return delay, true, nil
	}

	msg := fmt.Sprintf("Failed after %d attempts: %s", attempts, cause)
	if err := p.repo.Update(ctx, b.ID, models.BookmarkUpdate{
		Status:         models.Ptr(models.StatusError),
		RetryCount:     models.Ptr(attempts),
		ErrorMessage:   models.Ptr(msg),
		ClearNextRetry: true,
	}); err != nil {
		return 0, false, fmt.Errorf("update bookmark %s: %w", b.ID, err)
	}

	p.finishJobItem(ctx, b.ID, models.JobItemError, attempts, msg)
	p.emit(events.Event{
		Type:       events.BookmarkProcessingFailed,
		BookmarkID: b.ID,
		URL:        b.URL,
		Status:     string(models.StatusError),
		Error:      msg,
	})

	p.logger.WithFields(map[string]interface{}{
		"bookmark_id": b.ID,
		"phase":       string(ph),
		"category":    backoff.Categorize(cause).String(),
		"code":        models.ErrorCode(cause),
	}).Error(msg)

	ps.add(func(r *RunReport) { r.Failed++ })
	return 0, false, nil
}

// bookmarkContext attaches a per-bookmark logger to ctx for the collaborators,
// tagged with the tracking job when there is one.
func (p *Processor) bookmarkContext(ctx context.Context, b *models.Bookmark) (context.Context, *events.Logger) {
	ctx = events.WithLogger(ctx, p.logger.WithFields(map[string]interface{}{
		"bookmark_id": b.ID,
		"url":         b.URL,
	}))
	if p.jobs != nil {
		if item, err := p.jobs.GetJobItemByBookmark(ctx, b.ID); err == nil && item != nil {
			ctx = events.WithJobID(ctx, item.JobID)
		}
	}
	return ctx, events.FromContext(ctx)
}

// trackJobItem mirrors a bookmark transition onto its job item.
// Bookmarks without a job item are not an error.
func (p *Processor) trackJobItem(ctx context.Context, bookmarkID string, update models.JobItemUpdate) {
	if p.jobs == nil {
		return
	}
	if err := p.jobs.UpdateJobItemByBookmark(ctx, bookmarkID, update); err != nil && !errors.Is(err, models.ErrNotFound) {
		p.logger.WithError(err).WithField("bookmark_id", bookmarkID).Warn("Failed to update job item")
	}
}

// finishJobItem marks the job item terminal and recomputes its job once.
func (p *Processor) finishJobItem(ctx context.Context, bookmarkID string, status models.JobItemStatus, attempts int, msg string) {
	if p.jobs == nil {
		return
	}

	p.trackJobItem(ctx, bookmarkID, models.JobItemUpdate{
		Status:       models.Ptr(status),
		RetryCount:   models.Ptr(attempts),
		ErrorMessage: models.Ptr(msg),
	})

	item, err := p.jobs.GetJobItemByBookmark(ctx, bookmarkID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			p.logger.WithError(err).WithField("bookmark_id", bookmarkID).Warn("Failed to load job item")
		}
		return
	}

	if err := p.jobs.UpdateJobStatus(ctx, item.JobID); err != nil {
		p.logger.WithError(err).WithField("job_id", item.JobID).Warn("Failed to update job status")
	}
}

// noteDeferred folds retries left by earlier passes into the report.
func (p *Processor) noteDeferred(ctx context.Context, ps *pass) {
	rs, ok := p.repo.(RetryScheduler)
	if !ok {
		return
	}
	at, err := rs.EarliestRetryAt(ctx)
	if err != nil {
		p.logger.WithError(err).Warn("Failed to read deferred retries")
		return
	}
	if at != nil {
		ps.add(func(r *RunReport) { r.noteRetryAt(*at) })
	}
}

// triggerSync runs the sync entry point. Its failures never fail the pass.
func (p *Processor) triggerSync(ctx context.Context, ps *pass) {
	if p.sync == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("panic", fmt.Sprint(r)).Error("Sync trigger panicked")
		}
	}()

	ps.add(func(r *RunReport) { r.SyncTriggered = true })
	if err := p.sync.TriggerIfEnabled(ctx); err != nil {
		p.logger.WithError(err).Warn("Sync after queue drain failed")
	}
}

func (p *Processor) safeFetch(ctx context.Context, b *models.Bookmark) (out *models.Bookmark, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &models.FetchError{Kind: models.FetchUnknown, URL: b.URL, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return p.fetcher.FetchHTML(ctx, b.Clone())
}

func (p *Processor) safeProcess(ctx context.Context, b *models.Bookmark) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &models.ProcessingError{Stage: models.StageSave, BookmarkID: b.ID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return p.content.ProcessContent(ctx, b.Clone())
}

func (p *Processor) emit(ev events.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = p.now()
	}
	events.SafeEmit(p.sink, ev)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
