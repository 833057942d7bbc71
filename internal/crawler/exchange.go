package crawler

import (
	"context"
	"errors"

	"github.com/masahif/docharvest/internal/storage"
)

var errNoSession = errors.New("exchange has no store session")

// Exchange carries state along one call chain through the pipeline. Stages
// hand pages to each other through its scratch map, keyed by the producing
// stage's name. An Exchange belongs to one worker and is never shared.
type Exchange struct {
	WorkerID int

	session storage.Queries
	acquire func(ctx context.Context) (storage.Queries, error)
	scratch map[string]*PageRecord
}

// NewExchange creates an exchange bound to an already acquired session
func NewExchange(workerID int, session storage.Queries) *Exchange {
	return &Exchange{
		WorkerID: workerID,
		session:  session,
		scratch:  make(map[string]*PageRecord, 1),
	}
}

// newWorkerExchange defers acquiring the worker's session until a stage asks for it
func newWorkerExchange(workerID int, acquire func(ctx context.Context) (storage.Queries, error)) *Exchange {
	return &Exchange{
		WorkerID: workerID,
		acquire:  acquire,
		scratch:  make(map[string]*PageRecord, 1),
	}
}

// Session returns the store session of the worker running this exchange
func (ex *Exchange) Session(ctx context.Context) (storage.Queries, error) {
	if ex.session == nil && ex.acquire != nil {
		s, err := ex.acquire(ctx)
		if err != nil {
			return nil, err
		}
		ex.session = s
	}
	if ex.session == nil {
		return nil, errNoSession
	}
	return ex.session, nil
}

// Put stores page under stage
func (ex *Exchange) Put(stage string, page *PageRecord) {
	ex.scratch[stage] = page
}

// Get returns the page stored under stage, or nil
func (ex *Exchange) Get(stage string) *PageRecord {
	return ex.scratch[stage]
}

// Clear drops all scratch entries
func (ex *Exchange) Clear() {
	clear(ex.scratch)
}

// Len returns the number of scratch entries
func (ex *Exchange) Len() int {
	return len(ex.scratch)
}

// resolve returns page if it is set, otherwise what the fetch stage left
func (ex *Exchange) resolve(page *PageRecord) *PageRecord {
	if page != nil {
		return page
	}
	return ex.Get(StageFetch)
}
