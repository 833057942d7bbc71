package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/masahif/docharvest/internal/frontier"
	"github.com/masahif/docharvest/internal/metrics"
	"github.com/masahif/docharvest/internal/storage"
)

// DefaultBatchSize is the number of rows buffered before a batch insert
const DefaultBatchSize = 500

// LinkRecorder buffers a row for every dispatched entry and writes them with
// InsertBatch once the buffer is full. FlushRemaining must be called when the
// dispatcher stops.
type LinkRecorder struct {
	mu        sync.Mutex
	buf       []storage.DocumentRow
	batchSize int
	now       func() time.Time
	stats     *counters
}

// NewLinkRecorder creates the recording stage
func NewLinkRecorder(batchSize int) *LinkRecorder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &LinkRecorder{
		buf:       make([]storage.DocumentRow, 0, batchSize),
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Name implements Stage
func (r *LinkRecorder) Name() string { return StageLinkRecord }

// Execute implements Stage
func (r *LinkRecorder) Execute(ctx context.Context, entry frontier.Entry, ex *Exchange) error {
	row := storage.DocumentRow{
		ID:         int64(entry.ID),
		URL:        entry.URL,
		Domain:     storage.DomainOf(entry.URL),
		Stored:     false,
		CreateTime: r.now(),
	}

	r.mu.Lock()
	r.buf = append(r.buf, row)
	if len(r.buf) < r.batchSize {
		r.mu.Unlock()
		return nil
	}
	batch := r.buf
	r.buf = make([]storage.DocumentRow, 0, r.batchSize)
	r.mu.Unlock()

	q, err := ex.Session(ctx)
	if err != nil {
		return fmt.Errorf("record %d rows: %w", len(batch), err)
	}
	return r.write(ctx, q, batch)
}

// FlushRemaining writes whatever is buffered
func (r *LinkRecorder) FlushRemaining(ctx context.Context, q storage.Queries) error {
	r.mu.Lock()
	batch := r.buf
	r.buf = make([]storage.DocumentRow, 0, r.batchSize)
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return r.write(ctx, q, batch)
}

// Pending returns the number of buffered rows
func (r *LinkRecorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

func (r *LinkRecorder) write(ctx context.Context, q storage.Queries, batch []storage.DocumentRow) error {
	n, err := q.InsertBatch(ctx, batch)
	metrics.ObserveRowsRecorded(n)
	r.stats.addRecorded(n)
	if err != nil {
		metrics.ObserveStoreError("insert_batch")
		slog.Error("Batch insert failed", "rows", len(batch), "committed", n, "error", err)
		return fmt.Errorf("record %d rows (%d committed): %w", len(batch), n, err)
	}
	slog.Debug("Recorded batch", "rows", n)
	return nil
}
