// Package scheduler decides when queue passes and forced syncs run.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/TheMichaelB/marksync/internal/config"
	"github.com/TheMichaelB/marksync/internal/events"
	"github.com/TheMichaelB/marksync/internal/models"
	"github.com/TheMichaelB/marksync/internal/queue"
)

// Pass runs one queue pass.
type Pass interface {
	Run(ctx context.Context) (*queue.RunReport, error)
}

// Syncer runs a sync.
type Syncer interface {
	PerformSync(ctx context.Context, force bool) *models.SyncResult
}

// Config holds the cron specs. An empty spec disables that schedule.
type Config struct {
	WakeSchedule string
	SyncSchedule string
}

// ConfigFrom builds a scheduler config from application config.
func ConfigFrom(c *config.Config) Config {
	return Config{
		WakeSchedule: c.Queue.WakeSchedule,
		SyncSchedule: c.Sync.Schedule,
	}
}

// Runner serializes queue passes triggered by kicks, the wake schedule and
// retry timers.
type Runner struct {
	cfg    Config
	pass   Pass
	syncer Syncer
	cron   *cron.Cron
	kicks  chan struct{}
	logger *events.Logger
	now    func() time.Time

	mu       sync.Mutex
	retryAt  time.Time
	retry    *time.Timer
	passes   int
	lastPass *queue.RunReport
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock overrides the time source used for retry timers.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner validates the schedules and builds a runner. syncer may be nil
// when no sync schedule is configured.
func NewRunner(cfg Config, pass Pass, syncer Syncer, logger *events.Logger, opts ...Option) (*Runner, error) {
	r := &Runner{
		cfg:    cfg,
		pass:   pass,
		syncer: syncer,
		cron:   cron.New(),
		kicks:  make(chan struct{}, 1),
		logger: logger.WithField("component", "scheduler"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	if cfg.WakeSchedule != "" {
		if _, err := r.cron.AddFunc(cfg.WakeSchedule, r.Kick); err != nil {
			return nil, fmt.Errorf("invalid wake schedule %q: %w", cfg.WakeSchedule, err)
		}
	}

	if cfg.SyncSchedule != "" {
		if syncer == nil {
			return nil, fmt.Errorf("sync schedule %q set without a syncer", cfg.SyncSchedule)
		}
		if _, err := cron.ParseStandard(cfg.SyncSchedule); err != nil {
			return nil, fmt.Errorf("invalid sync schedule %q: %w", cfg.SyncSchedule, err)
		}
	}

	return r, nil
}

// Kick requests a pass. Kicks arriving while one is pending coalesce.
func (r *Runner) Kick() {
	select {
	case r.kicks <- struct{}{}:
	default:
	}
}

// Passes returns how many passes have run.
func (r *Runner) Passes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.passes
}

// LastReport returns the report of the most recent pass, if any.
func (r *Runner) LastReport() *queue.RunReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastPass
}

// Run processes kicks until ctx is done. One pass runs immediately.
func (r *Runner) Run(ctx context.Context) error {
	if r.cfg.SyncSchedule != "" {
		if _, err := r.cron.AddFunc(r.cfg.SyncSchedule, func() { r.scheduledSync(ctx) }); err != nil {
			return fmt.Errorf("invalid sync schedule %q: %w", r.cfg.SyncSchedule, err)
		}
	}

	r.cron.Start()
	r.logger.WithFields(map[string]interface{}{
		"wake_schedule": r.cfg.WakeSchedule,
		"sync_schedule": r.cfg.SyncSchedule,
	}).Info("Scheduler started")

	defer func() {
		stopped := r.cron.Stop()
		<-stopped.Done()
		r.mu.Lock()
		if r.retry != nil {
			r.retry.Stop()
		}
		r.mu.Unlock()
		r.logger.Info("Scheduler stopped")
	}()

	r.Kick()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.kicks:
			r.runPass(ctx)
		}
	}
}

func (r *Runner) runPass(ctx context.Context) {
	report, err := r.pass.Run(ctx)

	r.mu.Lock()
	r.passes++
	if report != nil {
		r.lastPass = report
	}
	r.mu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			r.logger.WithError(err).Error("Queue pass failed")
		}
		return
	}
	if report != nil && report.NextRetryAt != nil {
		r.armRetry(*report.NextRetryAt)
	}
}

// armRetry schedules a kick at at, unless an earlier one is already armed.
func (r *Runner) armRetry(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.retry != nil && r.retryAt.After(now) && !at.Before(r.retryAt) {
		return
	}
	if r.retry != nil {
		r.retry.Stop()
	}

	delay := at.Sub(now)
	if delay < 0 {
		delay = 0
	}
	r.retryAt = at
	r.retry = time.AfterFunc(delay, r.Kick)

	r.logger.WithField("retry_in", delay.String()).Debug("Retry timer armed")
}

func (r *Runner) scheduledSync(ctx context.Context) {
	result := r.syncer.PerformSync(ctx, true)
	r.logger.WithFields(map[string]interface{}{
		"action":  string(result.Action),
		"message": result.Message,
	}).Info("Scheduled sync finished")
}
