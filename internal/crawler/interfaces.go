package crawler

import (
	"context"

	"github.com/masahif/docharvest/internal/frontier"
)

// Stage is one pipeline unit. In is a frontier.Entry for stages that start
// from a URL and a *PageRecord for stages that consume a fetched page; a nil
// page means the stage reads its input from the exchange scratch.
type Stage[In any] interface {
	Name() string
	Execute(ctx context.Context, in In, ex *Exchange) error
}

var (
	_ Stage[frontier.Entry] = (*Fetcher)(nil)
	_ Stage[frontier.Entry] = (*LinkRecorder)(nil)
	_ Stage[*PageRecord]    = (*LinkExtractor)(nil)
	_ Stage[*PageRecord]    = (*ContentWriter)(nil)
)
