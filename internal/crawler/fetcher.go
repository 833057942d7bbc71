package crawler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/masahif/docharvest/internal/frontier"
	"github.com/masahif/docharvest/internal/metrics"
)

// Fetcher retrieves the page for one entry and leaves it in scratch under
// StageFetch. Transport failures, non-2xx responses and empty bodies are
// logged and leave no scratch entry, so later stages do nothing.
type Fetcher struct {
	transport Transport
	stats     *counters
}

// NewFetcher creates the fetch stage
func NewFetcher(transport Transport) *Fetcher {
	return &Fetcher{transport: transport}
}

// Name implements Stage
func (f *Fetcher) Name() string { return StageFetch }

// Execute implements Stage. It never returns a fetch failure as an error.
func (f *Fetcher) Execute(ctx context.Context, entry frontier.Entry, ex *Exchange) error {
	start := time.Now()
	resp, err := f.transport.Get(ctx, entry.URL)
	if err != nil {
		slog.Warn("Fetch failed", "doc_id", entry.ID, "url", entry.URL, "error", err)
		metrics.ObserveFetch(metrics.FetchNetworkError, time.Since(start))
		f.stats.addFetched(false)
		return nil
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		slog.Info("Fetch returned non-2xx status", "doc_id", entry.ID, "url", entry.URL, "status", resp.StatusCode)
		metrics.ObserveFetch(metrics.FetchHTTPError, time.Since(start))
		f.stats.addFetched(false)
		return nil
	}

	if len(resp.Body) == 0 {
		slog.Info("Fetch returned empty body", "doc_id", entry.ID, "url", entry.URL, "status", resp.StatusCode)
		metrics.ObserveFetch(metrics.FetchEmpty, time.Since(start))
		f.stats.addFetched(false)
		return nil
	}

	metrics.ObserveFetch(metrics.FetchOK, time.Since(start))
	f.stats.addFetched(true)
	ex.Put(StageFetch, &PageRecord{
		Entry:       entry,
		HTML:        resp.Body,
		StatusCode:  resp.StatusCode,
		ContentType: resp.ContentType,
		FinalURL:    resp.FinalURL,
		FetchedAt:   time.Now().UTC(),
	})
	slog.Debug("Fetched page", "doc_id", entry.ID, "url", entry.URL, "bytes", len(resp.Body), "ttfb", resp.Metrics.TTFB)
	return nil
}
