package client

import (
	"context"
	"fmt"

	"github.com/TheMichaelB/marksync/internal/config"
	"github.com/TheMichaelB/marksync/internal/content"
	"github.com/TheMichaelB/marksync/internal/events"
	"github.com/TheMichaelB/marksync/internal/fetch"
	"github.com/TheMichaelB/marksync/internal/queue"
	"github.com/TheMichaelB/marksync/internal/scheduler"
	"github.com/TheMichaelB/marksync/internal/services/bookmarks"
	"github.com/TheMichaelB/marksync/internal/services/sync"
	"github.com/TheMichaelB/marksync/internal/state"
)

// Client provides the high-level API for marksync operations.
type Client struct {
	Bookmarks *bookmarks.Service
	Sync      *sync.Service
	Queue     *queue.Processor
	Events    *events.Bus

	config *config.Config
	logger *events.Logger
	store  state.Store
	runner *scheduler.Runner
}

// Option configures a Client.
type Option func(*options)

type options struct {
	store   state.Store
	fetcher queue.Fetcher
}

// WithStore replaces the SQLite store, e.g. with a MemoryStore in tests.
func WithStore(store state.Store) Option {
	return func(o *options) { o.store = store }
}

// WithFetcher replaces the HTTP page fetcher.
func WithFetcher(f queue.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// New creates a new marksync client.
func New(cfg *config.Config, logger *events.Logger, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	store := o.store
	if store == nil {
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, err
		}

		sqlite, err := state.NewSQLiteStore(cfg.Storage.DatabasePath, logger)
		if err != nil {
			return nil, err
		}
		store = sqlite

		// Settings live in a JSON file when one is configured
		if cfg.Storage.SettingsFile != "" {
			settings, err := state.NewJSONSettingsStore(cfg.Storage.SettingsFile, logger)
			if err != nil {
				_ = sqlite.Close()
				return nil, err
			}
			store = state.WithSettingsStore(sqlite, settings)
		}
	}

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = fetch.NewHTTPFetcher(cfg.Fetch, logger)
	}

	bus := events.NewBus(logger)

	bookmarkService := bookmarks.NewService(store, logger)

	engine := sync.NewEngine(sync.ConfigFrom(cfg), bookmarkService, store, bus, logger)
	syncService := sync.NewService(engine, store, logger)

	processor := queue.NewProcessor(queue.ConfigFrom(cfg.Queue), queue.Dependencies{
		Repository: store,
		Jobs:       store,
		Fetcher:    fetcher,
		Content:    content.NewProcessor(store, logger),
		Sync:       engine,
		Events:     bus,
	}, logger)

	return &Client{
		Bookmarks: bookmarkService,
		Sync:      syncService,
		Queue:     processor,
		Events:    bus,
		config:    cfg,
		logger:    logger,
		store:     store,
	}, nil
}

// Process runs a single queue pass.
func (c *Client) Process(ctx context.Context) (*queue.RunReport, error) {
	return c.Queue.Run(ctx)
}

// Scheduler returns the runner driving background passes. New bookmarks
// kick it once it exists.
func (c *Client) Scheduler() (*scheduler.Runner, error) {
	if c.runner != nil {
		return c.runner, nil
	}

	runner, err := scheduler.NewRunner(scheduler.ConfigFrom(c.config), c.Queue, c.Sync.Engine(), c.logger)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	c.Bookmarks.OnEnqueue(runner.Kick)
	c.runner = runner
	return runner, nil
}

// Config returns the client configuration.
func (c *Client) Config() *config.Config {
	return c.config
}

// Close releases the store.
func (c *Client) Close() error {
	return c.store.Close()
}
