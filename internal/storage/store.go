// Package storage provides the metadata store for crawled documents.
// It implements the doc_info table on SQLite (modernc.org/sqlite) and on
// Postgres (pgx), with per-worker connection sessions.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/masahif/docharvest/internal/config"
)

var (
	// ErrNotFound is returned when no row matches the requested id
	ErrNotFound = errors.New("document not found")
	// ErrEmptyPatch is returned by Update when the patch sets no field
	ErrEmptyPatch = errors.New("patch has no fields to update")
)

// Queries is the set of operations over doc_info
type Queries interface {
	Insert(ctx context.Context, row DocumentRow) error
	// InsertBatch writes rows in transactions of the configured batch size and
	// returns how many rows were committed. On failure the open transaction is
	// rolled back and the count covers only earlier, committed batches.
	InsertBatch(ctx context.Context, rows []DocumentRow) (int, error)
	Update(ctx context.Context, patch DocumentPatch) error
	SelectByID(ctx context.Context, id int64) (*DocumentRow, error)
	// SelectByPage returns rows ordered by id; page starts at 1.
	SelectByPage(ctx context.Context, page, size int) ([]DocumentRow, error)
	// SelectAfter returns up to limit rows with id greater than afterID, ordered by id.
	SelectAfter(ctx context.Context, afterID int64, limit int) ([]DocumentRow, error)
	Count(ctx context.Context) (int64, error)
	MaxID(ctx context.Context) (int64, error)
	DeleteByID(ctx context.Context, id int64) error
}

// Session is a Queries bound to one connection for the lifetime of a worker.
// Release hands the connection back to the idle pool without closing it.
type Session interface {
	Queries
	Release() error
}

// MetadataStore runs Queries on pooled connections and hands out Sessions
type MetadataStore interface {
	Queries
	Session(ctx context.Context) (Session, error)
	Close() error
}

// Open builds the store selected by cfg. SQLite databases live in dir.
// maxConns bounds the connection pool when cfg.MaxConns is not set.
func Open(ctx context.Context, cfg config.StorageConfig, dir string, maxConns int) (MetadataStore, error) {
	if cfg.MaxConns > 0 {
		maxConns = cfg.MaxConns
	}
	switch cfg.Driver {
	case config.DriverSQLite:
		return NewSQLiteStore(ctx, filepath.Join(dir, cfg.DatabaseName), SQLiteOptions{
			MaxConns:  maxConns,
			BatchSize: cfg.BatchSize,
		})
	case config.DriverPostgres:
		return NewPostgresStore(ctx, PostgresConfig{
			DSN:       cfg.DSN,
			MaxConns:  int32(maxConns),
			BatchSize: cfg.BatchSize,
		})
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownDriver, cfg.Driver)
	}
}

// Key identifies the physical store a task would use, so two running tasks
// can be kept from sharing one.
func Key(cfg config.StorageConfig, dir string) string {
	if cfg.Driver == config.DriverPostgres {
		return "postgres:" + cfg.DSN
	}
	abs, err := filepath.Abs(filepath.Join(dir, cfg.DatabaseName))
	if err != nil {
		abs = filepath.Join(dir, cfg.DatabaseName)
	}
	return "sqlite:" + abs
}

func chunks(n, size int) [][2]int {
	var out [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}
