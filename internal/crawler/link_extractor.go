package crawler

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/masahif/docharvest/internal/frontier"
	"github.com/masahif/docharvest/internal/metrics"
	"github.com/masahif/docharvest/internal/parser"
)

// skippedExtensions are binary targets never worth queueing
var skippedExtensions = []string{".pdf", ".doc", ".jpg", ".png", ".zip", ".exe", ".rar", ".apk"}

// Enqueuer is the part of the frontier the link extractor needs
type Enqueuer interface {
	Enqueue(rawURL string) (frontier.Entry, bool)
}

// LinkExtractor parses a fetched page and pushes every new crawlable link
// onto the frontier. It always clears the exchange scratch on return.
type LinkExtractor struct {
	frontier Enqueuer
}

// NewLinkExtractor creates the link extraction stage
func NewLinkExtractor(f Enqueuer) *LinkExtractor {
	return &LinkExtractor{frontier: f}
}

// Name implements Stage
func (l *LinkExtractor) Name() string { return StageLinkExtract }

// Execute implements Stage. Parse failures are swallowed.
func (l *LinkExtractor) Execute(_ context.Context, page *PageRecord, ex *Exchange) error {
	defer ex.Clear()

	page = ex.resolve(page)
	if page == nil || len(page.HTML) == 0 {
		return nil
	}

	base := page.FinalURL
	if base == "" {
		base = page.Entry.URL
	}
	doc, err := parser.Extract(page.HTML, base)
	if err != nil {
		slog.Debug("Link extraction skipped", "doc_id", page.Entry.ID, "url", page.Entry.URL, "error", err)
		return nil
	}
	page.Title = doc.Title

	added := 0
	for _, link := range doc.Links {
		if !Crawlable(link) {
			continue
		}
		if _, ok := l.frontier.Enqueue(link); ok {
			added++
		}
	}
	metrics.ObserveLinksEnqueued(added)
	slog.Debug("Extracted links", "doc_id", page.Entry.ID, "url", page.Entry.URL, "links", len(doc.Links), "new", added)
	return nil
}

// Crawlable reports whether link has an http(s) scheme and does not point at
// one of the skipped binary extensions
func Crawlable(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return false
	}
	path := strings.ToLower(u.Path)
	for _, ext := range skippedExtensions {
		if strings.HasSuffix(path, ext) {
			return false
		}
	}
	return true
}
