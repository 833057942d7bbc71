// Package collect keeps the registry of running crawl tasks behind the
// administrative surface. It enforces the task cap, keeps two tasks from
// sharing one metadata store and owns each task's store for its lifetime.
package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/masahif/docharvest/internal/config"
	"github.com/masahif/docharvest/internal/crawler"
	"github.com/masahif/docharvest/internal/metrics"
	"github.com/masahif/docharvest/internal/storage"
)

// OpenStoreFunc opens the metadata store for a task saving into dir
type OpenStoreFunc func(ctx context.Context, cfg config.StorageConfig, dir string, maxConns int) (storage.MetadataStore, error)

type tracked struct {
	task     *crawler.Task
	store    storage.MetadataStore
	storeKey string
}

// Manager starts, stops and lists tasks
type Manager struct {
	engine    *crawler.Engine
	storage   config.StorageConfig
	maxTasks  int
	openStore OpenStoreFunc

	mu       sync.Mutex
	tasks    map[string]*tracked
	stores   map[string]string // store key -> id of the task holding it
	closing  bool
	wg       sync.WaitGroup
	baseCtx  context.Context
	cancelFn context.CancelFunc
}

// NewManager returns a manager for tasks built by engine
func NewManager(cfg *config.Config, engine *crawler.Engine) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		engine:    engine,
		storage:   cfg.Storage,
		maxTasks:  cfg.Server.MaxTasks,
		openStore: storage.Open,
		tasks:     make(map[string]*tracked),
		stores:    make(map[string]string),
		baseCtx:   ctx,
		cancelFn:  cancel,
	}
}

// SetStoreOpener replaces how task stores are opened
func (m *Manager) SetStoreOpener(fn OpenStoreFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openStore = fn
}

// Start builds a task from tc and runs it in the background. An empty task
// id is replaced by a generated one, which is returned.
func (m *Manager) Start(ctx context.Context, tc config.TaskConfig) (string, error) {
	if tc.TaskID == "" {
		tc.TaskID = uuid.NewString()
	}
	resolved, err := tc.Resolve(m.engine.Defaults())
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closing {
		return "", ErrShuttingDown
	}
	if _, ok := m.tasks[resolved.TaskID]; ok {
		metrics.ObserveTask(metrics.TaskRejected)
		return "", fmt.Errorf("%w: %s", ErrTaskExists, resolved.TaskID)
	}
	if len(m.tasks) >= m.maxTasks {
		metrics.ObserveTask(metrics.TaskRejected)
		return "", fmt.Errorf("%w: limit is %d", ErrTaskLimit, m.maxTasks)
	}
	key := storage.Key(m.storage, resolved.SaveDirectory)
	if owner, ok := m.stores[key]; ok {
		metrics.ObserveTask(metrics.TaskRejected)
		return "", fmt.Errorf("%w: %s", ErrStoreInUse, owner)
	}

	store, err := m.openStore(ctx, m.storage, resolved.SaveDirectory, m.engine.MaxConns())
	if err != nil {
		return "", fmt.Errorf("open metadata store: %w", err)
	}
	task, err := m.engine.NewTask(ctx, resolved, store)
	if err != nil {
		_ = store.Close()
		return "", err
	}

	entry := &tracked{task: task, store: store, storeKey: key}
	m.tasks[resolved.TaskID] = entry
	m.stores[key] = resolved.TaskID
	m.wg.Add(1)
	go m.run(entry)

	slog.Info("Task accepted", "task_id", resolved.TaskID, "task_name", resolved.TaskName, "running", len(m.tasks))
	return resolved.TaskID, nil
}

func (m *Manager) run(entry *tracked) {
	defer m.wg.Done()
	id := entry.task.ID()

	if err := entry.task.Run(m.baseCtx); err != nil {
		slog.Error("Task failed", "task_id", id, "error", err)
	}
	if err := entry.store.Close(); err != nil {
		slog.Warn("Closing metadata store failed", "task_id", id, "error", err)
	}

	m.mu.Lock()
	if m.tasks[id] == entry {
		delete(m.tasks, id)
	}
	if m.stores[entry.storeKey] == id {
		delete(m.stores, entry.storeKey)
	}
	m.mu.Unlock()
}

// Stop flips the task's running flag and drops it from the registry. The
// task drains in the background; its store stays reserved until it has.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	entry, ok := m.tasks[id]
	if ok {
		delete(m.tasks, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	entry.task.Stop()
	return nil
}

// List returns a snapshot of every running task ordered by id
func (m *Manager) List() []crawler.TaskStats {
	m.mu.Lock()
	tasks := make([]*crawler.Task, 0, len(m.tasks))
	for _, entry := range m.tasks {
		tasks = append(tasks, entry.task)
	}
	m.mu.Unlock()

	out := make([]crawler.TaskStats, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// Get returns the stats of one running task
func (m *Manager) Get(id string) (crawler.TaskStats, error) {
	entry, err := m.lookup(id)
	if err != nil {
		return crawler.TaskStats{}, err
	}
	return entry.task.Stats(), nil
}

// Documents pages through the rows of a running task's store
func (m *Manager) Documents(ctx context.Context, id string, page, size int) ([]storage.DocumentRow, int64, error) {
	entry, err := m.lookup(id)
	if err != nil {
		return nil, 0, err
	}
	rows, err := entry.store.SelectByPage(ctx, page, size)
	if err != nil {
		return nil, 0, err
	}
	total, err := entry.store.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// Document returns one row of a running task's store
func (m *Manager) Document(ctx context.Context, id string, docID int64) (*storage.DocumentRow, error) {
	entry, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return entry.store.SelectByID(ctx, docID)
}

// DeleteDocument removes one row of a running task's store
func (m *Manager) DeleteDocument(ctx context.Context, id string, docID int64) error {
	entry, err := m.lookup(id)
	if err != nil {
		return err
	}
	return entry.store.DeleteByID(ctx, docID)
}

func (m *Manager) lookup(id string) (*tracked, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return entry, nil
}

// Running returns the number of tasks in the registry
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Wait blocks until every started task has released its resources
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops every task, refuses new ones and waits for all of them to
// drain or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Stop(id); err != nil && !errors.Is(err, ErrTaskNotFound) {
			return err
		}
	}
	err := m.Wait(ctx)
	m.cancelFn()
	return err
}
