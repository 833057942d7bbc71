// Package pool provides a bounded worker pool with a core and maximum size,
// an optionally bounded backlog and a rejection policy for saturation.
//
// Workers are started on demand: up to CoreSize for any submission, then
// tasks queue, and only when a bounded backlog is full are extra workers
// started up to MaxSize. Workers above CoreSize exit after KeepAlive idle.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/masahif/docharvest/internal/config"
)

// CallerWorker is the worker id passed to tasks run by the CallerRuns policy
const CallerWorker = 0

var (
	// ErrRejected is returned by Submit under the Abort policy when saturated
	ErrRejected = errors.New("task rejected: pool saturated")
	// ErrPoolClosed is returned by Submit after Shutdown
	ErrPoolClosed = errors.New("pool is shut down")
)

// Task is a unit of work. workerID identifies the goroutine running it and
// stays the same for every task that worker runs.
type Task func(workerID int)

// Options configures a Pool
type Options struct {
	CoreSize      int
	MaxSize       int
	KeepAlive     time.Duration
	QueueCapacity int // 0 means unbounded
	Policy        Policy

	// OnWorkerExit is called from a worker goroutine as it terminates
	OnWorkerExit func(workerID int)
}

// OptionsFromConfig validates cfg and converts it to Options
func OptionsFromConfig(cfg config.PoolConfig) (Options, error) {
	if err := cfg.Validate(); err != nil {
		return Options{}, err
	}
	policy, err := ParsePolicy(cfg.RejectionPolicy)
	if err != nil {
		return Options{}, err
	}
	return Options{
		CoreSize:      cfg.CoreSize,
		MaxSize:       cfg.MaxSize,
		KeepAlive:     cfg.KeepAlive,
		QueueCapacity: cfg.QueueCapacity,
		Policy:        policy,
	}, nil
}

// Pool runs submitted tasks on a bounded set of goroutines
type Pool struct {
	opts Options

	mu      sync.Mutex
	backlog []Task
	workers int
	nextID  int
	closed  bool

	notify chan struct{}
	wg     sync.WaitGroup

	active    atomic.Int64
	inFlight  atomic.Int64
	completed atomic.Int64
	discarded atomic.Int64
}

// New validates opts and returns an idle pool
func New(opts Options) (*Pool, error) {
	switch {
	case opts.CoreSize <= 0:
		return nil, config.ErrInvalidCoreSize
	case opts.MaxSize < opts.CoreSize:
		return nil, config.ErrInvalidMaxSize
	case opts.KeepAlive <= 0:
		return nil, config.ErrInvalidKeepAlive
	case opts.QueueCapacity < 0:
		return nil, config.ErrInvalidQueueCapacity
	}
	return &Pool{
		opts:   opts,
		notify: make(chan struct{}, opts.MaxSize),
	}, nil
}

// Submit hands task to the pool. It returns ErrRejected when the Abort
// policy refuses it and ErrPoolClosed after Shutdown.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return fmt.Errorf("nil task")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.inFlight.Add(1)

	if p.workers < p.opts.CoreSize {
		p.startWorker(task)
		p.mu.Unlock()
		return nil
	}

	if p.opts.QueueCapacity == 0 || len(p.backlog) < p.opts.QueueCapacity {
		p.backlog = append(p.backlog, task)
		p.signal()
		p.mu.Unlock()
		return nil
	}

	if p.workers < p.opts.MaxSize {
		p.startWorker(task)
		p.mu.Unlock()
		return nil
	}

	switch p.opts.Policy {
	case CallerRuns:
		p.mu.Unlock()
		p.run(CallerWorker, task)
		return nil
	case Discard:
		p.mu.Unlock()
		p.drop()
		return nil
	case DiscardOldest:
		p.backlog[0] = nil
		p.backlog = append(p.backlog[1:], task)
		p.signal()
		p.mu.Unlock()
		p.drop()
		return nil
	default:
		p.mu.Unlock()
		p.inFlight.Add(-1)
		return ErrRejected
	}
}

// ActiveCount returns the number of tasks currently executing
func (p *Pool) ActiveCount() int {
	return int(p.active.Load())
}

// InFlight returns the number of accepted tasks that have not finished,
// queued ones included
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// Pending returns the number of queued tasks
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.backlog)
}

// Workers returns the number of live worker goroutines
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// Completed returns the number of tasks that ran to completion
func (p *Pool) Completed() int64 {
	return p.completed.Load()
}

// Discarded returns the number of tasks dropped by a discard policy
func (p *Pool) Discarded() int64 {
	return p.discarded.Load()
}

// Shutdown stops accepting tasks, lets workers drain the backlog and waits
// for them to exit or for ctx to end.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.notify)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool shutdown: %w", ctx.Err())
	}
}

// startWorker must be called with p.mu held
func (p *Pool) startWorker(first Task) {
	p.workers++
	p.nextID++
	id := p.nextID
	p.wg.Add(1)
	go p.work(id, first)
}

func (p *Pool) work(id int, task Task) {
	defer p.wg.Done()
	defer func() {
		if p.opts.OnWorkerExit != nil {
			p.opts.OnWorkerExit(id)
		}
	}()

	idle := time.NewTimer(p.opts.KeepAlive)
	defer idle.Stop()

	for {
		if task != nil {
			p.run(id, task)
			task = nil
		}

		var ok bool
		if task, ok = p.take(); ok {
			continue
		}

		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(p.opts.KeepAlive)

		select {
		case _, open := <-p.notify:
			if !open && p.exitIfDrained() {
				return
			}
		case <-idle.C:
			if p.retire() {
				return
			}
		}
	}
}

func (p *Pool) take() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.backlog) == 0 {
		return nil, false
	}
	task := p.backlog[0]
	p.backlog[0] = nil
	p.backlog = p.backlog[1:]
	return task, true
}

// retire ends an idle worker above the core size
func (p *Pool) retire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.workers > p.opts.CoreSize && len(p.backlog) == 0 {
		p.workers--
		return true
	}
	return false
}

// exitIfDrained ends a worker once the pool is closed and nothing is queued
func (p *Pool) exitIfDrained() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.backlog) == 0 {
		p.workers--
		return true
	}
	return false
}

// signal must be called with p.mu held
func (p *Pool) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *Pool) drop() {
	p.discarded.Add(1)
	p.inFlight.Add(-1)
}

func (p *Pool) run(id int, task Task) {
	p.active.Add(1)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Pool task panicked", "worker_id", id, "panic", r)
		}
		p.active.Add(-1)
		p.completed.Add(1)
		p.inFlight.Add(-1)
	}()
	task(id)
}
