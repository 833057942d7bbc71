// Package crawler implements the crawl pipeline and its dispatcher.
//
// A Task owns one frontier, one content file writer and one worker pool.
// Its control loop polls the frontier, records every entry and submits a
// Fetch then LinkExtract pipeline to the pool; link extraction feeds the same
// frontier. A backfill pass runs beside it and drives recorded rows that have
// no stored content through Fetch then ContentWriter.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/masahif/docharvest/internal/config"
	"github.com/masahif/docharvest/internal/contentfile"
	"github.com/masahif/docharvest/internal/frontier"
	"github.com/masahif/docharvest/internal/pool"
	"github.com/masahif/docharvest/internal/storage"
)

// Engine builds tasks from process-wide settings
type Engine struct {
	crawl     config.CrawlConfig
	poolOpts  pool.Options
	batchSize int
	transport Transport
}

// NewEngine validates cfg and prepares an engine. A nil transport means an
// HTTPClient built from the crawl settings.
func NewEngine(cfg *config.Config, transport Transport) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	poolOpts, err := pool.OptionsFromConfig(cfg.Pool)
	if err != nil {
		return nil, fmt.Errorf("invalid pool configuration: %w", err)
	}

	if transport == nil {
		userAgents := cfg.Crawl.UserAgents
		if len(userAgents) == 0 {
			userAgents = config.DefaultUserAgents
		}
		client, err := NewHTTPClient(userAgents, cfg.Crawl.RequestTimeout, cfg.Crawl.Headers)
		if err != nil {
			return nil, err
		}
		transport = client
	}

	return &Engine{
		crawl:     cfg.Crawl,
		poolOpts:  poolOpts,
		batchSize: cfg.Storage.BatchSize,
		transport: transport,
	}, nil
}

// Defaults returns the crawl defaults tasks are resolved against
func (e *Engine) Defaults() config.CrawlConfig {
	return e.crawl
}

// MaxConns is the number of store connections one task can hold at once:
// one per pool worker plus the control loop and the backfill pass.
func (e *Engine) MaxConns() int {
	return e.poolOpts.MaxSize + 2
}

// NewTask resolves tc, seeds a fresh frontier and opens the content file.
// It fails before any worker exists when tc has no usable seed URL. The
// store stays owned by the caller.
func (e *Engine) NewTask(ctx context.Context, tc config.TaskConfig, store storage.MetadataStore) (*Task, error) {
	resolved, err := tc.Resolve(e.crawl)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("metadata store is required")
	}

	maxID, err := store.MaxID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read last document id: %w", err)
	}

	f := frontier.New(frontier.Options{
		Capacity: e.crawl.FilterCapacity,
		FPRate:   e.crawl.FilterFPRate,
		Limit:    resolved.CrawlQuantity,
		StartID:  uint64(maxID),
	})
	seeded := 0
	for _, seed := range resolved.SeedURLs {
		if _, ok := f.Enqueue(seed); ok {
			seeded++
		}
	}
	if seeded == 0 {
		return nil, fmt.Errorf("%w: none of %d seeds is a valid URL", config.ErrNoSeedURLs, len(resolved.SeedURLs))
	}

	writer, err := contentfile.Open(contentfile.Options{
		Dir:     resolved.SaveDirectory,
		Prefix:  resolved.FilePrefix,
		Suffix:  resolved.FileSuffix,
		MaxSize: resolved.MaxFileSize,
	})
	if err != nil {
		return nil, fmt.Errorf("open content file: %w", err)
	}

	t := &Task{
		cfg:          resolved,
		store:        store,
		frontier:     f,
		writer:       writer,
		pollTimeout:  e.crawl.PollTimeout,
		backfillWait: e.crawl.BackfillWait,
		batchSize:    e.batchSize,
		sessions:     make(map[int]storage.Session),
		stopped:      make(chan struct{}),
		liveDone:     make(chan struct{}),
		done:         make(chan struct{}),
		logger:       slog.With("task_id", resolved.TaskID),
		progress:     rate.Sometimes{Interval: 10 * time.Second},
	}
	t.pollCtx, t.cancelPoll = context.WithCancel(context.Background())

	opts := e.poolOpts
	opts.OnWorkerExit = t.releaseSession
	t.pool, err = pool.New(opts)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}

	t.fetcher = NewFetcher(e.transport)
	t.fetcher.stats = &t.stats
	t.extractor = NewLinkExtractor(f)
	t.recorder = NewLinkRecorder(e.batchSize)
	t.recorder.stats = &t.stats
	t.contentWriter = NewContentWriter(writer)
	t.contentWriter.stats = &t.stats

	t.running.Store(true)
	t.logger.Info("Task prepared", "seeds", seeded, "start_id", maxID, "save_directory", resolved.SaveDirectory, "content_file", writer.Path())
	return t, nil
}
