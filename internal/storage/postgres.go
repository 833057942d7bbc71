package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig controls the Postgres connection pool used for doc_info
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	BatchSize       int
}

// pgxRunner is implemented by *pgxpool.Pool, *pgxpool.Conn and pgxmock pools
type pgxRunner interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type pgxPool interface {
	pgxRunner
	Close()
}

type postgresQueries struct {
	db        pgxRunner
	batchSize int
}

// PostgresStore implements MetadataStore on Postgres through pgx
type PostgresStore struct {
	postgresQueries
	pool    pgxPool
	acquire func(ctx context.Context) (*pgxpool.Conn, error)
}

// PostgresSession pins one acquired pool connection, or shares the pool when
// the store was built around a pool that cannot hand out connections.
type PostgresSession struct {
	postgresQueries
	conn *pgxpool.Conn
}

// epoch stands in for a NULL update_time so scans never see NULL
var epoch = time.Unix(0, 0).UTC()

// NewPostgresStore connects to Postgres and ensures the schema exists
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	store, err := NewPostgresStoreWithPool(pool, cfg.BatchSize)
	if err != nil {
		pool.Close()
		return nil, err
	}
	store.acquire = pool.Acquire

	if err := store.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithPool constructs a store from an existing pool (primarily for testing).
// Sessions of such a store share the pool.
func NewPostgresStoreWithPool(pool pgxPool, batchSize int) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &PostgresStore{
		postgresQueries: postgresQueries{db: pool, batchSize: batchSize},
		pool:            pool,
	}, nil
}

// InitSchema creates doc_info and its indexes
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	for _, stmt := range postgresSchemaSQL {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create postgres schema: %w", err)
		}
	}
	return nil
}

// Session acquires a dedicated connection when the pool supports it
func (s *PostgresStore) Session(ctx context.Context) (Session, error) {
	if s.acquire == nil {
		return &PostgresSession{postgresQueries: s.postgresQueries}, nil
	}
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire postgres connection: %w", err)
	}
	return &PostgresSession{
		postgresQueries: postgresQueries{db: conn, batchSize: s.batchSize},
		conn:            conn,
	}, nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Release hands the connection back to the pool
func (s *PostgresSession) Release() error {
	if s.conn != nil {
		s.conn.Release()
		s.conn = nil
	}
	return nil
}

const insertPostgres = `INSERT INTO doc_info (` + docColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const selectPostgres = `SELECT id, url, COALESCE(title, ''), COALESCE(domain, ''), COALESCE(status_code, 0), stored,
	COALESCE(content_type, ''), COALESCE(content_length, 0), create_time, COALESCE(update_time, to_timestamp(0))
FROM doc_info`

func (q *postgresQueries) Insert(ctx context.Context, row DocumentRow) error {
	if _, err := q.db.Exec(ctx, insertPostgres, postgresArgs(row)...); err != nil {
		return fmt.Errorf("insert document %d: %w", row.ID, err)
	}
	return nil
}

func (q *postgresQueries) InsertBatch(ctx context.Context, rows []DocumentRow) (int, error) {
	committed := 0
	for _, span := range chunks(len(rows), q.batchSize) {
		if err := q.insertChunk(ctx, rows[span[0]:span[1]]); err != nil {
			return committed, fmt.Errorf("batch insert stopped after %d rows: %w", committed, err)
		}
		committed += span[1] - span[0]
	}
	return committed, nil
}

func (q *postgresQueries) insertChunk(ctx context.Context, rows []DocumentRow) error {
	tx, err := q.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, row := range rows {
		if _, err := tx.Exec(ctx, insertPostgres, postgresArgs(row)...); err != nil {
			return fmt.Errorf("insert document %d: %w", row.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (q *postgresQueries) Update(ctx context.Context, patch DocumentPatch) error {
	sets := patch.assignments(func(t time.Time) any { return t.UTC() })
	if len(sets) == 0 {
		return ErrEmptyPatch
	}

	clauses := make([]string, 0, len(sets))
	args := make([]any, 0, len(sets)+1)
	for i, set := range sets {
		clauses = append(clauses, set.column+" = $"+strconv.Itoa(i+1))
		args = append(args, set.value)
	}
	args = append(args, patch.ID)

	query := "UPDATE doc_info SET " + strings.Join(clauses, ", ") + " WHERE id = $" + strconv.Itoa(len(args))
	tag, err := q.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update document %d: %w", patch.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update document %d: %w", patch.ID, ErrNotFound)
	}
	return nil
}

func (q *postgresQueries) SelectByID(ctx context.Context, id int64) (*DocumentRow, error) {
	row, err := scanPostgresRow(q.db.QueryRow(ctx, selectPostgres+" WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select document %d: %w", id, err)
	}
	return row, nil
}

func (q *postgresQueries) SelectByPage(ctx context.Context, page, size int) ([]DocumentRow, error) {
	if page < 1 || size < 1 {
		return nil, fmt.Errorf("invalid page %d/size %d", page, size)
	}
	return q.selectRows(ctx, selectPostgres+" ORDER BY id LIMIT $1 OFFSET $2", size, (page-1)*size)
}

func (q *postgresQueries) SelectAfter(ctx context.Context, afterID int64, limit int) ([]DocumentRow, error) {
	return q.selectRows(ctx, selectPostgres+" WHERE id > $1 ORDER BY id LIMIT $2", afterID, limit)
}

func (q *postgresQueries) selectRows(ctx context.Context, query string, args ...any) ([]DocumentRow, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentRow
	for rows.Next() {
		row, err := scanPostgresRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, *row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func (q *postgresQueries) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := q.db.QueryRow(ctx, "SELECT COUNT(*) FROM doc_info").Scan(&count); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

func (q *postgresQueries) MaxID(ctx context.Context) (int64, error) {
	var id int64
	if err := q.db.QueryRow(ctx, "SELECT COALESCE(MAX(id), 0) FROM doc_info").Scan(&id); err != nil {
		return 0, fmt.Errorf("read max id: %w", err)
	}
	return id, nil
}

func (q *postgresQueries) DeleteByID(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, "DELETE FROM doc_info WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete document %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func postgresArgs(row DocumentRow) []any {
	var updateTime any
	if !row.UpdateTime.IsZero() {
		updateTime = row.UpdateTime.UTC()
	}
	return []any{
		row.ID,
		row.URL,
		optional(row.Title),
		optional(row.Domain),
		optional(row.StatusCode),
		boolToInt(row.Stored),
		optional(row.ContentType),
		optional(row.ContentLength),
		row.CreateTime.UTC(),
		updateTime,
	}
}

// optional maps a zero value to NULL
func optional[T comparable](v T) any {
	var zero T
	if v == zero {
		return nil
	}
	return v
}

func scanPostgresRow(s rowScanner) (*DocumentRow, error) {
	var (
		row    DocumentRow
		stored int
	)
	if err := s.Scan(&row.ID, &row.URL, &row.Title, &row.Domain, &row.StatusCode, &stored,
		&row.ContentType, &row.ContentLength, &row.CreateTime, &row.UpdateTime); err != nil {
		return nil, err
	}
	row.Stored = stored == 1
	if row.UpdateTime.Equal(epoch) {
		row.UpdateTime = time.Time{}
	}
	return &row, nil
}

var (
	_ MetadataStore = (*PostgresStore)(nil)
	_ Session       = (*PostgresSession)(nil)
)
