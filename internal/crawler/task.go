package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/masahif/docharvest/internal/config"
	"github.com/masahif/docharvest/internal/contentfile"
	"github.com/masahif/docharvest/internal/frontier"
	"github.com/masahif/docharvest/internal/metrics"
	"github.com/masahif/docharvest/internal/pool"
	"github.com/masahif/docharvest/internal/storage"
)

// backfillWorker is the session slot of the backfill pass
const backfillWorker = -1

// ErrAlreadyStarted is returned by Run when called twice
var ErrAlreadyStarted = errors.New("task already started")

// Task is the run-time state of one crawl task
type Task struct {
	cfg      config.TaskConfig
	store    storage.MetadataStore
	frontier *frontier.Frontier
	writer   *contentfile.Writer
	pool     *pool.Pool

	fetcher       *Fetcher
	extractor     *LinkExtractor
	recorder      *LinkRecorder
	contentWriter *ContentWriter

	pollTimeout  time.Duration
	backfillWait time.Duration
	batchSize    int

	sessMu   sync.Mutex
	sessions map[int]storage.Session

	running  atomic.Bool
	started  atomic.Bool
	state    atomic.Int32
	stopOnce sync.Once
	stopped  chan struct{}
	liveDone chan struct{}
	done     chan struct{}

	pollCtx    context.Context
	cancelPoll context.CancelFunc

	stats     counters
	startTime atomic.Pointer[time.Time]
	endTime   atomic.Pointer[time.Time]
	logger    *slog.Logger
	progress  rate.Sometimes
}

// ID returns the task id
func (t *Task) ID() string { return t.cfg.TaskID }

// Config returns the resolved task configuration
func (t *Task) Config() config.TaskConfig { return t.cfg }

// Running reports whether the task has not been told to stop
func (t *Task) Running() bool { return t.running.Load() }

// State returns the dispatcher state
func (t *Task) State() State { return State(t.state.Load()) }

// Done is closed once Run has released every resource
func (t *Task) Done() <-chan struct{} { return t.done }

// Stop flips the running flag. The current fetches finish, nothing new is
// submitted and Run returns once in-flight work has drained.
func (t *Task) Stop() {
	t.stopOnce.Do(func() {
		t.running.Store(false)
		t.cancelPoll()
		close(t.stopped)
		t.logger.Info("Stop requested")
	})
}

// Run blocks until the crawl drains or is stopped, then flushes the
// recorder, waits for the backfill pass and closes the content file.
// Cancelling ctx has the same effect as Stop: in-flight fetches and writes
// run on a context detached from ctx and are left to finish.
func (t *Task) Run(ctx context.Context) error {
	if !t.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(t.done)

	start := time.Now()
	t.startTime.Store(&start)
	metrics.ObserveTask(metrics.TaskStarted)
	t.logger.Info("Task started", "task_name", t.cfg.TaskName, "seeds", len(t.cfg.SeedURLs))

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			t.Stop()
		case <-watchDone:
		}
	}()

	work := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.backfill(work)
	}()

	t.dispatch(work)

	// in-flight pipelines finish before the buffer is flushed
	if err := t.pool.Shutdown(context.Background()); err != nil {
		t.logger.Error("Worker pool shutdown failed", "error", err)
	}
	if err := t.flushRemaining(work); err != nil {
		t.logger.Error("Final flush failed", "error", err)
	}
	close(t.liveDone)

	wg.Wait()
	t.releaseAll()

	var runErr error
	if err := t.writer.Close(); err != nil {
		runErr = fmt.Errorf("close content file: %w", err)
	}
	t.state.Store(int32(StateStopped))
	now := time.Now()
	t.endTime.Store(&now)

	stats := t.Stats()
	switch {
	case runErr != nil:
		metrics.ObserveTask(metrics.TaskFailed)
	case t.running.Load():
		metrics.ObserveTask(metrics.TaskCompleted)
	default:
		metrics.ObserveTask(metrics.TaskStopped)
	}
	t.running.Store(false)
	t.cancelPoll()
	t.logger.Info("Task finished",
		"discovered", stats.Discovered,
		"fetched", stats.Fetched,
		"fetch_errors", stats.FetchErrors,
		"recorded", stats.Recorded,
		"stored", stats.Stored,
		"duration", stats.Duration)
	return runErr
}

// dispatch is the control loop. It ends when stopped, or when an empty poll
// finds no accepted pipeline unfinished and the frontier still empty.
func (t *Task) dispatch(ctx context.Context) {
	ex := newWorkerExchange(pool.CallerWorker, t.sessionFor(pool.CallerWorker))
	t.state.Store(int32(StateRunning))

	for t.running.Load() {
		entry, ok := t.frontier.Poll(t.pollCtx, t.pollTimeout)
		if !ok {
			if !t.running.Load() {
				break
			}
			if t.pool.InFlight() == 0 && t.frontier.Len() == 0 {
				t.state.Store(int32(StateDraining))
				t.logger.Info("Frontier drained", "discovered", t.frontier.Admitted())
				break
			}
			continue
		}

		if err := t.recorder.Execute(ctx, entry, ex); err != nil {
			t.logger.Error("Recording entries failed", "doc_id", entry.ID, "error", err)
		}
		if !t.running.Load() {
			break
		}

		err := t.pool.Submit(func(workerID int) {
			t.crawlEntry(ctx, workerID, entry)
		})
		metrics.ObserveSubmission(err == nil)
		if err != nil {
			t.logger.Warn("Pipeline submission rejected", "doc_id", entry.ID, "url", entry.URL, "error", err)
		}
	}

	if t.State() == StateRunning {
		t.state.Store(int32(StateDraining))
	}
}

// crawlEntry runs Fetch then LinkExtract for one entry on a pool worker
func (t *Task) crawlEntry(ctx context.Context, workerID int, entry frontier.Entry) {
	if !t.running.Load() {
		return
	}
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	ex := newWorkerExchange(workerID, t.sessionFor(workerID))
	defer ex.Clear()

	if err := t.fetcher.Execute(ctx, entry, ex); err != nil {
		t.logger.Warn("Fetch stage failed", "doc_id", entry.ID, "url", entry.URL, "worker_id", workerID, "error", err)
		return
	}
	if err := t.extractor.Execute(ctx, nil, ex); err != nil {
		t.logger.Warn("Link extraction failed", "doc_id", entry.ID, "url", entry.URL, "worker_id", workerID, "error", err)
	}

	t.progress.Do(func() {
		t.logger.Info("Crawl progress",
			"discovered", t.frontier.Admitted(),
			"queued", t.frontier.Len(),
			"in_flight", t.pool.InFlight(),
			"fetched", t.stats.fetched.Load())
	})
}

func (t *Task) flushRemaining(ctx context.Context) error {
	q, err := t.sessionFor(pool.CallerWorker)(ctx)
	if err != nil {
		return err
	}
	return t.recorder.FlushRemaining(ctx, q)
}

// sessionFor returns an acquire function for the worker's pinned session
func (t *Task) sessionFor(workerID int) func(ctx context.Context) (storage.Queries, error) {
	return func(ctx context.Context) (storage.Queries, error) {
		t.sessMu.Lock()
		defer t.sessMu.Unlock()

		if s, ok := t.sessions[workerID]; ok {
			return s, nil
		}
		s, err := t.store.Session(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire session for worker %d: %w", workerID, err)
		}
		t.sessions[workerID] = s
		return s, nil
	}
}

func (t *Task) releaseSession(workerID int) {
	t.sessMu.Lock()
	s, ok := t.sessions[workerID]
	delete(t.sessions, workerID)
	t.sessMu.Unlock()

	if ok {
		if err := s.Release(); err != nil {
			t.logger.Warn("Session release failed", "worker_id", workerID, "error", err)
		}
	}
}

func (t *Task) releaseAll() {
	t.sessMu.Lock()
	ids := make([]int, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	t.sessMu.Unlock()

	for _, id := range ids {
		t.releaseSession(id)
	}
}

// Stats returns a snapshot of the task's counters
func (t *Task) Stats() TaskStats {
	var (
		start    time.Time
		duration time.Duration
	)
	if s := t.startTime.Load(); s != nil {
		start = *s
		end := time.Now()
		if e := t.endTime.Load(); e != nil {
			end = *e
		}
		duration = end.Sub(start).Round(time.Millisecond)
	}
	return TaskStats{
		TaskID:      t.cfg.TaskID,
		TaskName:    t.cfg.TaskName,
		State:       t.State(),
		Discovered:  t.frontier.Admitted(),
		Queued:      t.frontier.Len(),
		InFlight:    t.pool.InFlight(),
		Fetched:     t.stats.fetched.Load(),
		FetchErrors: t.stats.fetchErrors.Load(),
		Recorded:    t.stats.recorded.Load(),
		Stored:      t.stats.stored.Load(),
		StoreErrors: t.stats.storeErrors.Load(),
		StartTime:   start,
		Duration:    duration.String(),
	}
}
