package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/masahif/docharvest/internal/contentfile"
	"github.com/masahif/docharvest/internal/metrics"
	"github.com/masahif/docharvest/internal/parser"
	"github.com/masahif/docharvest/internal/storage"
)

// Appender is the part of a content file writer the stage needs
type Appender interface {
	Append(id uint64, body []byte) (contentfile.AppendResult, error)
}

// ContentWriter appends a fetched page to the content file and then marks
// its row stored. The row is only marked stored after Append has flushed the
// record. It always clears the exchange scratch on return.
type ContentWriter struct {
	out   Appender
	now   func() time.Time
	stats *counters
}

// NewContentWriter creates the content writing stage
func NewContentWriter(out Appender) *ContentWriter {
	return &ContentWriter{
		out: out,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Name implements Stage
func (c *ContentWriter) Name() string { return StageContentWriter }

// Execute implements Stage. A failed append marks the row not stored and is
// returned as an error for this entry only.
func (c *ContentWriter) Execute(ctx context.Context, page *PageRecord, ex *Exchange) error {
	defer ex.Clear()

	page = ex.resolve(page)
	if page == nil || len(page.HTML) == 0 {
		return nil
	}
	if page.Title == "" {
		page.Title = parser.Title(page.HTML)
	}

	id := page.Entry.ID
	q, err := ex.Session(ctx)
	if err != nil {
		return fmt.Errorf("write content for document %d: %w", id, err)
	}

	res, err := c.out.Append(id, page.HTML)
	if err != nil {
		metrics.ObserveDocument(false, 0, false)
		c.stats.addStored(false)
		if uerr := q.Update(ctx, storage.DocumentPatch{
			ID:         int64(id),
			Stored:     storage.Ptr(false),
			StatusCode: storage.Ptr(page.StatusCode),
			UpdateTime: storage.Ptr(c.now()),
		}); uerr != nil {
			metrics.ObserveStoreError("update")
			slog.Error("Failed to mark document not stored", "doc_id", id, "error", uerr)
		}
		return fmt.Errorf("write content for document %d: %w", id, err)
	}
	metrics.ObserveDocument(true, int64(res.Size), res.Rotated)
	if res.Rotated {
		slog.Info("Rotated content file", "path", res.Path)
	}

	patch := storage.DocumentPatch{
		ID:            int64(id),
		Title:         storage.Ptr(page.Title),
		Domain:        storage.Ptr(storage.DomainOf(page.Entry.URL)),
		StatusCode:    storage.Ptr(page.StatusCode),
		Stored:        storage.Ptr(true),
		ContentType:   storage.Ptr(page.ContentType),
		ContentLength: storage.Ptr(int64(len(page.HTML))),
		UpdateTime:    storage.Ptr(c.now()),
	}
	if err := q.Update(ctx, patch); err != nil {
		metrics.ObserveStoreError("update")
		c.stats.addStored(false)
		slog.Error("Failed to mark document stored", "doc_id", id, "path", res.Path, "error", err)
		return fmt.Errorf("update document %d: %w", id, err)
	}

	c.stats.addStored(true)
	slog.Debug("Stored document", "doc_id", id, "path", res.Path, "offset", res.Offset, "bytes", len(page.HTML))
	return nil
}
