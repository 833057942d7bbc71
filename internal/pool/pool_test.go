package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/masahif/docharvest/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T, opts Options) *Pool {
	t.Helper()
	p, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func TestNewValidatesBounds(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want error
	}{
		{"zero core", Options{CoreSize: 0, MaxSize: 1, KeepAlive: time.Second}, config.ErrInvalidCoreSize},
		{"max below core", Options{CoreSize: 2, MaxSize: 1, KeepAlive: time.Second}, config.ErrInvalidMaxSize},
		{"zero keep alive", Options{CoreSize: 1, MaxSize: 1}, config.ErrInvalidKeepAlive},
		{"negative queue", Options{CoreSize: 1, MaxSize: 1, KeepAlive: time.Second, QueueCapacity: -1}, config.ErrInvalidQueueCapacity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := OptionsFromConfig(config.DefaultConfig().Pool)
	require.NoError(t, err)
	assert.Equal(t, CallerRuns, opts.Policy)
	assert.Equal(t, 8, opts.CoreSize)

	bad := config.DefaultConfig().Pool
	bad.RejectionPolicy = "retry"
	_, err = OptionsFromConfig(bad)
	assert.ErrorIs(t, err, config.ErrInvalidRejectionPolicy)
}

func TestParsePolicy(t *testing.T) {
	for name, want := range map[string]Policy{
		"abort":          Abort,
		"CALLER_RUNS":    CallerRuns,
		"discard":        Discard,
		"Discard_Oldest": DiscardOldest,
	} {
		got, err := ParsePolicy(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	assert.Equal(t, "discard_oldest", DiscardOldest.String())
}

func TestRunsAllTasksWithUnboundedQueue(t *testing.T) {
	p := newPool(t, Options{CoreSize: 4, MaxSize: 4, KeepAlive: time.Second})

	var ran atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func(int) {
			defer wg.Done()
			ran.Add(1)
		}))
	}
	wg.Wait()

	assert.Equal(t, int64(200), ran.Load())
	assert.Eventually(t, func() bool { return p.InFlight() == 0 }, time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, p.Workers(), 4)
}

func TestInFlightCountsQueuedTasks(t *testing.T) {
	p := newPool(t, Options{CoreSize: 1, MaxSize: 1, KeepAlive: time.Second})

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func(int) {
		close(started)
		<-release
	}))
	<-started
	require.NoError(t, p.Submit(func(int) {}))

	assert.Equal(t, 2, p.InFlight())
	assert.Equal(t, 1, p.ActiveCount())
	assert.Equal(t, 1, p.Pending())

	close(release)
	assert.Eventually(t, func() bool { return p.InFlight() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, p.ActiveCount())
}

// saturate fills a pool of one worker and a queue of one
func saturate(t *testing.T, p *Pool) chan struct{} {
	t.Helper()
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func(int) {
		close(started)
		<-release
	}))
	<-started
	require.NoError(t, p.Submit(func(int) { <-release }))
	return release
}

func TestAbortPolicy(t *testing.T) {
	p := newPool(t, Options{CoreSize: 1, MaxSize: 1, KeepAlive: time.Second, QueueCapacity: 1, Policy: Abort})
	release := saturate(t, p)
	defer close(release)

	err := p.Submit(func(int) {})
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, 2, p.InFlight())
}

func TestCallerRunsPolicy(t *testing.T) {
	p := newPool(t, Options{CoreSize: 1, MaxSize: 1, KeepAlive: time.Second, QueueCapacity: 1, Policy: CallerRuns})
	release := saturate(t, p)
	defer close(release)

	worker := -1
	require.NoError(t, p.Submit(func(id int) { worker = id }))
	assert.Equal(t, CallerWorker, worker, "task must run inline on the caller")
}

func TestDiscardPolicies(t *testing.T) {
	t.Run("discard", func(t *testing.T) {
		p := newPool(t, Options{CoreSize: 1, MaxSize: 1, KeepAlive: time.Second, QueueCapacity: 1, Policy: Discard})
		release := saturate(t, p)

		var ran atomic.Bool
		require.NoError(t, p.Submit(func(int) { ran.Store(true) }))
		close(release)

		assert.Eventually(t, func() bool { return p.InFlight() == 0 }, time.Second, 5*time.Millisecond)
		assert.False(t, ran.Load())
		assert.Equal(t, int64(1), p.Discarded())
	})

	t.Run("discard oldest", func(t *testing.T) {
		p := newPool(t, Options{CoreSize: 1, MaxSize: 1, KeepAlive: time.Second, QueueCapacity: 1, Policy: DiscardOldest})
		release := make(chan struct{})
		started := make(chan struct{})
		require.NoError(t, p.Submit(func(int) {
			close(started)
			<-release
		}))
		<-started

		var order []string
		var mu sync.Mutex
		record := func(name string) Task {
			return func(int) {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
			}
		}
		require.NoError(t, p.Submit(record("oldest")))
		require.NoError(t, p.Submit(record("newest")))
		close(release)

		assert.Eventually(t, func() bool { return p.InFlight() == 0 }, time.Second, 5*time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"newest"}, order)
		assert.Equal(t, int64(1), p.Discarded())
	})
}

func TestGrowsToMaxWhenQueueFull(t *testing.T) {
	p := newPool(t, Options{CoreSize: 1, MaxSize: 3, KeepAlive: 50 * time.Millisecond, QueueCapacity: 1, Policy: Abort})
	release := saturate(t, p)

	require.NoError(t, p.Submit(func(int) { <-release }))
	require.NoError(t, p.Submit(func(int) { <-release }))
	assert.Equal(t, 3, p.Workers())
	assert.ErrorIs(t, p.Submit(func(int) {}), ErrRejected)

	close(release)
	// extra workers retire after keep alive
	assert.Eventually(t, func() bool { return p.Workers() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerIDsAndExitHook(t *testing.T) {
	var exited sync.Map
	p, err := New(Options{
		CoreSize:     2,
		MaxSize:      2,
		KeepAlive:    time.Second,
		OnWorkerExit: func(id int) { exited.Store(id, true) },
	})
	require.NoError(t, err)

	ids := make(chan int, 10)
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(func(id int) { ids <- id }))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
	close(ids)

	seen := map[int]bool{}
	for id := range ids {
		assert.NotEqual(t, CallerWorker, id)
		seen[id] = true
	}
	assert.LessOrEqual(t, len(seen), 2)
	for id := range seen {
		_, ok := exited.Load(id)
		assert.True(t, ok, "worker %d exit hook not called", id)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	p := newPool(t, Options{CoreSize: 1, MaxSize: 1, KeepAlive: time.Second})

	require.NoError(t, p.Submit(func(int) { panic("boom") }))
	done := make(chan struct{})
	require.NoError(t, p.Submit(func(int) { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
	assert.Eventually(t, func() bool { return p.InFlight() == 0 }, time.Second, 5*time.Millisecond)
}

func TestShutdownDrainsBacklog(t *testing.T) {
	p, err := New(Options{CoreSize: 1, MaxSize: 1, KeepAlive: time.Second})
	require.NoError(t, err)

	var ran atomic.Int64
	for i := 0; i < 20; i++ {
		require.NoError(t, p.Submit(func(int) {
			time.Sleep(time.Millisecond)
			ran.Add(1)
		}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))

	assert.Equal(t, int64(20), ran.Load())
	assert.ErrorIs(t, p.Submit(func(int) {}), ErrPoolClosed)
	assert.Equal(t, 0, p.Workers())
}
