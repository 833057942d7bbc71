package frontier

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFrontier(limit int64) *Frontier {
	return New(Options{Capacity: 10_000, FPRate: 0.001, Limit: limit})
}

func TestEnqueueDeduplicates(t *testing.T) {
	f := newTestFrontier(0)

	first, ok := f.Enqueue("https://example.com/a")
	require.True(t, ok)
	assert.Equal(t, uint64(1), first.ID)

	_, ok = f.Enqueue("https://example.com/a")
	assert.False(t, ok, "second enqueue of the same URL must be rejected")

	_, ok = f.Enqueue("HTTPS://Example.com:443/a#section")
	assert.False(t, ok, "normalised duplicate must be rejected")

	assert.Equal(t, 1, f.Len())
	assert.True(t, f.IsDuplicate("https://example.com/a"))
	assert.False(t, f.IsDuplicate("https://example.com/other"))
}

func TestEnqueueAssignsIncreasingIDs(t *testing.T) {
	f := New(Options{Capacity: 1000, FPRate: 0.01, StartID: 41})

	for i := 0; i < 5; i++ {
		entry, ok := f.Enqueue(fmt.Sprintf("https://example.com/p%d", i))
		require.True(t, ok)
		assert.Equal(t, uint64(42+i), entry.ID)
	}
	assert.Equal(t, uint64(46), f.LastID())

	for i := 0; i < 5; i++ {
		entry, ok := f.Poll(context.Background(), 10*time.Millisecond)
		require.True(t, ok)
		assert.Equal(t, uint64(42+i), entry.ID, "poll order follows discovery order")
	}
}

func TestEnqueueConcurrentSameURL(t *testing.T) {
	f := newTestFrontier(0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := f.Enqueue("https://example.com/race"); ok {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, f.Len())
}

func TestEnqueueRespectsLimit(t *testing.T) {
	f := newTestFrontier(2)

	_, ok := f.Enqueue("https://example.com/1")
	require.True(t, ok)
	_, ok = f.Enqueue("https://example.com/2")
	require.True(t, ok)
	_, ok = f.Enqueue("https://example.com/3")
	assert.False(t, ok)
	assert.Equal(t, int64(2), f.Admitted())
}

func TestEnqueueRejectsUnparseable(t *testing.T) {
	f := newTestFrontier(0)
	_, ok := f.Enqueue("http://[::1")
	assert.False(t, ok)
	assert.Equal(t, 0, f.Len())
}

func TestPollTimesOut(t *testing.T) {
	f := newTestFrontier(0)

	start := time.Now()
	_, ok := f.Poll(context.Background(), 20*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestPollWakesOnEnqueue(t *testing.T) {
	f := newTestFrontier(0)

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Enqueue("https://example.com/late")
	}()

	entry, ok := f.Poll(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/late", entry.URL)
}

func TestPollHonoursContext(t *testing.T) {
	f := newTestFrontier(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := f.Poll(ctx, time.Second)
	assert.False(t, ok)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"HTTP://Example.COM/a", "http://example.com/a"},
		{"https://example.com:443/x", "https://example.com/x"},
		{"https://example.com/a/../b", "https://example.com/b"},
		{"https://example.com/p?b=2&a=1", "https://example.com/p?b=2&a=1"},
		{"https://example.com/a#frag", "https://example.com/a"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeyFoldsQueryOrder(t *testing.T) {
	a, err := Key("https://example.com/p?b=2&a=1")
	require.NoError(t, err)
	b, err := Key("https://example.com/p?a=1&b=2")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEnqueueKeepsQueryOrderButDeduplicates(t *testing.T) {
	f := New(Options{Capacity: 1000, FPRate: 0.001})

	entry, ok := f.Enqueue("https://example.com/search?q=go&page=2")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/search?q=go&page=2", entry.URL, "the fetched URL keeps its parameter order")

	_, ok = f.Enqueue("https://example.com/search?page=2&q=go")
	assert.False(t, ok, "a reordered query is the same document")
	assert.True(t, f.IsDuplicate("https://EXAMPLE.com/search?page=2&q=go"))
}
