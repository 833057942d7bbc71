package crawler

import (
	"context"
	"time"

	"github.com/masahif/docharvest/internal/frontier"
	"github.com/masahif/docharvest/internal/storage"
)

// backfill walks doc_info by increasing id and runs Fetch then ContentWriter
// for every row not yet stored. A pass that finds no new row waits while the
// live crawl is still recording; once it has drained the pass ends when the
// row count has not grown since the previous pass.
func (t *Task) backfill(ctx context.Context) {
	defer t.releaseSession(backfillWorker)
	acquire := t.sessionFor(backfillWorker)
	log := t.logger.With("pass", "backfill")

	q, err := acquire(ctx)
	if err != nil {
		log.Error("Backfill could not acquire a session", "error", err)
		return
	}

	total, err := q.Count(ctx)
	if err != nil {
		log.Error("Backfill count failed", "error", err)
		return
	}
	if total == 0 {
		if !t.waitFor(t.backfillWait) {
			return
		}
		// a slow live crawl may still hold its first batch in the recorder
		if !t.liveFinished() && t.recorder.Pending() > 0 {
			if err := t.recorder.FlushRemaining(ctx, q); err != nil {
				log.Error("Backfill could not flush recorded rows", "error", err)
			}
		}
		if total, err = q.Count(ctx); err != nil {
			log.Error("Backfill count failed", "error", err)
			return
		}
		if total == 0 {
			if t.liveFinished() {
				log.Info("Backfill found no rows, giving up")
			} else {
				log.Warn("Backfill found no rows while the live crawl is still running, content will not be stored this run",
					"waited", t.backfillWait)
			}
			return
		}
	}
	log.Info("Backfill started", "rows", total)

	var cursor int64
	var written, skipped int64
	for t.running.Load() {
		rows, err := q.SelectAfter(ctx, cursor, t.batchSize)
		if err != nil {
			log.Error("Backfill select failed", "cursor", cursor, "error", err)
			return
		}

		if len(rows) == 0 {
			if !t.liveFinished() {
				t.waitFor(t.pollTimeout)
				continue
			}
			count, err := q.Count(ctx)
			if err != nil {
				log.Error("Backfill count failed", "error", err)
				return
			}
			if count <= total {
				break
			}
			total = count
			continue
		}

		for _, row := range rows {
			if !t.running.Load() {
				break
			}
			cursor = row.ID
			if row.Stored {
				skipped++
				continue
			}
			if t.storeRow(ctx, row, acquire) {
				written++
			}
		}

		t.progress.Do(func() {
			log.Info("Backfill progress", "cursor", cursor, "written", written, "skipped", skipped, "rows", total)
		})
	}
	log.Info("Backfill finished", "cursor", cursor, "written", written, "skipped", skipped)
}

// storeRow fetches one row and writes its content. It reports whether the
// content was stored.
func (t *Task) storeRow(ctx context.Context, row storage.DocumentRow, acquire func(context.Context) (storage.Queries, error)) bool {
	ex := newWorkerExchange(backfillWorker, acquire)
	defer ex.Clear()

	entry := frontier.Entry{ID: uint64(row.ID), URL: row.URL}
	if err := t.fetcher.Execute(ctx, entry, ex); err != nil {
		t.logger.Warn("Backfill fetch failed", "doc_id", row.ID, "url", row.URL, "error", err)
		return false
	}
	if ex.Get(StageFetch) == nil {
		return false
	}
	if err := t.contentWriter.Execute(ctx, nil, ex); err != nil {
		t.logger.Error("Backfill content write failed", "doc_id", row.ID, "url", row.URL, "error", err)
		return false
	}
	return true
}

func (t *Task) liveFinished() bool {
	select {
	case <-t.liveDone:
		return true
	default:
		return false
	}
}

// waitFor sleeps for d, returning early when the task stops or the live
// crawl finishes. It reports whether the task is still running.
func (t *Task) waitFor(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-t.liveDone:
	case <-t.stopped:
	}
	return t.running.Load()
}
