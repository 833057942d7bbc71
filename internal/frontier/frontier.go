// Package frontier holds the per-task queue of URLs waiting to be fetched
// together with the membership filter that keeps a URL from being queued twice.
package frontier

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

// Entry is one discovered URL. ID is allocated at enqueue time and never reused.
type Entry struct {
	ID  uint64
	URL string
}

// Options sizes a Frontier
type Options struct {
	Capacity uint    // expected number of distinct URLs
	FPRate   float64 // acceptable false positive rate of the filter
	Limit    int64   // maximum entries admitted, 0 means unlimited
	StartID  uint64  // last id already in use; the first entry gets StartID+1
}

// Frontier is safe for concurrent use.
type Frontier struct {
	// mu serialises check-and-insert on the filter with id allocation and
	// the push, so id order matches queue order.
	mu       sync.Mutex
	filter   *bloom.BloomFilter
	limit    int64
	admitted int64

	ids atomic.Uint64

	qmu    sync.Mutex
	queue  []Entry
	notify chan struct{}
}

// New creates an empty frontier
func New(opts Options) *Frontier {
	f := &Frontier{
		filter: bloom.NewWithEstimates(opts.Capacity, opts.FPRate),
		limit:  opts.Limit,
		notify: make(chan struct{}, 1),
	}
	f.ids.Store(opts.StartID)
	return f
}

// Enqueue normalises rawURL and queues it unless it was seen before or the
// admission limit is reached. It reports whether a new entry was created.
func (f *Frontier) Enqueue(rawURL string) (Entry, bool) {
	target, err := Normalize(rawURL)
	if err != nil || target == "" {
		slog.Debug("frontier rejected url", "url", rawURL, "error", err)
		return Entry{}, false
	}
	key, err := Key(target)
	if err != nil {
		slog.Debug("frontier rejected url", "url", rawURL, "error", err)
		return Entry{}, false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.limit > 0 && f.admitted >= f.limit {
		return Entry{}, false
	}
	if f.filter.TestAndAddString(key) {
		return Entry{}, false
	}
	f.admitted++

	entry := Entry{ID: f.ids.Add(1), URL: target}
	f.push(entry)
	return entry, true
}

// IsDuplicate reports whether rawURL was already admitted. False positives
// are possible at the configured rate; false negatives are not.
func (f *Frontier) IsDuplicate(rawURL string) bool {
	key, err := Key(rawURL)
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filter.TestString(key)
}

// Poll removes the oldest entry, waiting up to timeout for one to arrive.
// ok is false when the wait timed out or ctx was cancelled.
func (f *Frontier) Poll(ctx context.Context, timeout time.Duration) (Entry, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if entry, ok := f.pop(); ok {
			return entry, true
		}
		select {
		case <-f.notify:
		case <-timer.C:
			return f.pop()
		case <-ctx.Done():
			return Entry{}, false
		}
	}
}

// Len returns the number of queued entries
func (f *Frontier) Len() int {
	f.qmu.Lock()
	defer f.qmu.Unlock()
	return len(f.queue)
}

// LastID returns the most recently allocated id
func (f *Frontier) LastID() uint64 {
	return f.ids.Load()
}

// Admitted returns the number of entries accepted since creation
func (f *Frontier) Admitted() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admitted
}

func (f *Frontier) push(entry Entry) {
	f.qmu.Lock()
	f.queue = append(f.queue, entry)
	f.qmu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *Frontier) pop() (Entry, bool) {
	f.qmu.Lock()
	defer f.qmu.Unlock()

	if len(f.queue) == 0 {
		return Entry{}, false
	}
	entry := f.queue[0]
	f.queue[0] = Entry{}
	f.queue = f.queue[1:]
	if len(f.queue) == 0 {
		f.queue = nil
	}
	return entry, true
}
