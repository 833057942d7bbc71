package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/masahif/docharvest/internal/contentfile"
	"github.com/masahif/docharvest/internal/storage"
)

func init() {
	// Set error level logging during tests to only show critical issues
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	slog.SetDefault(logger)
}

// fakeTransport serves canned responses keyed by URL
type fakeTransport struct {
	mu    sync.Mutex
	pages map[string]*HTTPResponse
	errs  map[string]error
	calls []string
}

func (f *fakeTransport) Get(_ context.Context, url string) (*HTTPResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	if resp, ok := f.pages[url]; ok {
		return resp, nil
	}
	return &HTTPResponse{StatusCode: 404, FinalURL: url}, nil
}

// fakeQueries is an in-memory storage.Queries that logs every write to a
// shared event list
type fakeQueries struct {
	mu        sync.Mutex
	rows      map[int64]storage.DocumentRow
	events    *eventLog
	failBatch error
	failAfter int
}

func newFakeQueries(events *eventLog) *fakeQueries {
	return &fakeQueries{rows: make(map[int64]storage.DocumentRow), events: events}
}

func (q *fakeQueries) Insert(_ context.Context, row storage.DocumentRow) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rows[row.ID] = row
	return nil
}

func (q *fakeQueries) InsertBatch(_ context.Context, rows []storage.DocumentRow) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, row := range rows {
		if q.failBatch != nil && i == q.failAfter {
			return i, q.failBatch
		}
		q.rows[row.ID] = row
	}
	q.events.add(fmt.Sprintf("insert:%d", len(rows)))
	return len(rows), nil
}

func (q *fakeQueries) Update(_ context.Context, p storage.DocumentPatch) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	row, ok := q.rows[p.ID]
	if !ok {
		row = storage.DocumentRow{ID: p.ID}
	}
	if p.Title != nil {
		row.Title = *p.Title
	}
	if p.Domain != nil {
		row.Domain = *p.Domain
	}
	if p.StatusCode != nil {
		row.StatusCode = *p.StatusCode
	}
	if p.Stored != nil {
		row.Stored = *p.Stored
	}
	if p.ContentType != nil {
		row.ContentType = *p.ContentType
	}
	if p.ContentLength != nil {
		row.ContentLength = *p.ContentLength
	}
	if p.UpdateTime != nil {
		row.UpdateTime = *p.UpdateTime
	}
	q.rows[p.ID] = row
	q.events.add(fmt.Sprintf("update:%d:stored=%t", p.ID, row.Stored))
	return nil
}

func (q *fakeQueries) SelectByID(_ context.Context, id int64) (*storage.DocumentRow, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	row, ok := q.rows[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &row, nil
}

func (q *fakeQueries) sorted() []storage.DocumentRow {
	out := make([]storage.DocumentRow, 0, len(q.rows))
	for _, row := range q.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (q *fakeQueries) SelectByPage(_ context.Context, page, size int) ([]storage.DocumentRow, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rows := q.sorted()
	start := (page - 1) * size
	if start >= len(rows) {
		return nil, nil
	}
	return rows[start:min(start+size, len(rows))], nil
}

func (q *fakeQueries) SelectAfter(_ context.Context, afterID int64, limit int) ([]storage.DocumentRow, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []storage.DocumentRow
	for _, row := range q.sorted() {
		if row.ID > afterID && len(out) < limit {
			out = append(out, row)
		}
	}
	return out, nil
}

func (q *fakeQueries) Count(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.rows)), nil
}

func (q *fakeQueries) MaxID(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var highest int64
	for id := range q.rows {
		if id > highest {
			highest = id
		}
	}
	return highest, nil
}

func (q *fakeQueries) DeleteByID(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.rows[id]; !ok {
		return storage.ErrNotFound
	}
	delete(q.rows, id)
	return nil
}

func (q *fakeQueries) row(id int64) (storage.DocumentRow, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	row, ok := q.rows[id]
	return row, ok
}

// fakeAppender records appends to the shared event list
type fakeAppender struct {
	events *eventLog
	err    error
	bodies map[uint64][]byte
}

func (a *fakeAppender) Append(id uint64, body []byte) (contentfile.AppendResult, error) {
	if a.err != nil {
		return contentfile.AppendResult{}, a.err
	}
	if a.bodies == nil {
		a.bodies = make(map[uint64][]byte)
	}
	a.bodies[id] = append([]byte(nil), body...)
	a.events.add(fmt.Sprintf("append:%d", id))
	return contentfile.AppendResult{Path: "mem", Size: len(body)}, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (e *eventLog) add(ev string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func testDocRow(id int64) storage.DocumentRow {
	return storage.DocumentRow{
		ID:         id,
		URL:        fmt.Sprintf("https://example.com/p%d", id),
		CreateTime: time.Date(2025, 6, 22, 12, 0, 0, 0, time.UTC),
	}
}

var errDiskFull = errors.New("no space left on device")
